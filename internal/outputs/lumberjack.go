package outputs

import (
	"fmt"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/lumberjack"
)

func init() {
	Register("lumberjack", newLumberjackOutput)
}

// lumberjackOutput fronts internal/lumberjack.Client as a push-contract
// adapter: one Push call is one Lumberjack batch (spec.md §4.5). If the
// output is bound to more than one input type, all pushes are serialised
// by the single worker that owns this adapter (spec.md §5), so the
// underlying Client never needs its own locking.
type lumberjackOutput struct {
	cfg    *config.OutputConfig
	client *lumberjack.Client
}

func newLumberjackOutput(cfg *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	if len(cfg.Host.Values) == 0 {
		return nil, fmt.Errorf("lumberjack output: host is required")
	}

	hosts := make([]string, 0, len(cfg.Host.Values))
	for _, h := range cfg.Host.Values {
		hosts = append(hosts, fmt.Sprintf("%s:%d", h, cfg.Port))
	}

	tlsCfg, err := buildTLSConfig(cfg.SSLCert, cfg.SSLKey, cfg.SSLCAFile)
	if err != nil {
		return nil, fmt.Errorf("lumberjack output: %w", err)
	}

	version := byte(lumberjack.Version2)
	if cfg.ProtocolVersion == 1 {
		version = lumberjack.Version1
	}

	compression := lumberjack.CompressionNone
	if cfg.Compression {
		if cfg.RawDeflate {
			compression = lumberjack.CompressionRaw
		} else {
			compression = lumberjack.CompressionZlib
		}
	}

	windowSize := cfg.MaxWindowSize
	if windowSize == 0 {
		windowSize = 1
	}

	client := lumberjack.NewClient(lumberjack.ClientConfig{
		Hosts:           hosts,
		TLSConfig:       tlsCfg,
		SendTimeout:     cfg.Timeout.Duration(),
		ConnectTimeout:  cfg.ConnectTimeout.Duration(),
		Persistent:      cfg.Persistent,
		WindowSize:      uint32(windowSize),
		ProtocolVersion: version,
		Compression:     compression,
	})

	return &lumberjackOutput{cfg: cfg, client: client}, nil
}

func (o *lumberjackOutput) Connect() error { return o.client.Connect() }
func (o *lumberjackOutput) Close() error   { return o.client.Close() }

func (o *lumberjackOutput) Push(events []*event.Event) error {
	batch := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		batch = append(batch, e.Fields)
	}
	if err := o.client.Send(batch); err != nil {
		return fmt.Errorf("lumberjack output: %w", err)
	}
	return nil
}
