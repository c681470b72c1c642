package inputs

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/lumberjack"
)

func init() {
	Register("lumberjack", newNetworkInput)
}

// networkInput fronts a lumberjack.Server as a Pull-contract input: the
// server's Handler appends decoded event fields to an in-memory queue
// that Pull drains, since §6's pull contract is synchronous/poll-based
// while the server itself is callback-driven.
type networkInput struct {
	srv *lumberjack.Server

	mu    sync.Mutex
	queue []map[string]interface{}
}

func newNetworkInput(cfg *config.InputConfig, _ string, ctx Context, log *logging.Logger) (Input, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)

	tlsCfg, err := buildServerTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	ni := &networkInput{}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = 1
	}

	ni.srv = lumberjack.NewServer(lumberjack.ServerConfig{
		Address:     addr,
		TLSConfig:   tlsCfg,
		WindowSize:  uint32(windowSize),
		Compression: lumberjack.CompressionZlib,
	}, log, ni.handle)

	if err := ni.srv.Start(); err != nil {
		return nil, err
	}
	return ni, nil
}

func (ni *networkInput) handle(fields map[string]interface{}) error {
	ni.mu.Lock()
	ni.queue = append(ni.queue, fields)
	ni.mu.Unlock()
	return nil
}

func (ni *networkInput) Pull(max int) ([]Pulled, error) {
	ni.mu.Lock()
	n := len(ni.queue)
	if n > max {
		n = max
	}
	batch := ni.queue[:n]
	ni.queue = ni.queue[n:]
	ni.mu.Unlock()

	if n == 0 {
		return nil, nil
	}

	out := make([]Pulled, 0, n)
	for _, fields := range batch {
		out = append(out, Pulled{Fields: fields})
	}
	return out, nil
}

// Removable is always false: a network listener is never torn down by
// path disappearance the way a tailed file is.
func (ni *networkInput) Removable() bool { return false }

func (ni *networkInput) Close() error {
	ni.srv.Stop()
	return nil
}

func buildServerTLSConfig(cfg *config.InputConfig) (*tls.Config, error) {
	if cfg.SSLCert == "" || cfg.SSLKey == "" {
		return nil, fmt.Errorf("lumberjack input: ssl_cert and ssl_key are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
	if err != nil {
		return nil, fmt.Errorf("lumberjack input: loading server cert/key: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if cfg.SSLCAFile != "" {
		pool, err := loadCAPool(cfg.SSLCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
