package outputs

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

func init() {
	Register("socket", newSocket)
}

// socketOutput writes one newline-delimited JSON line per event to a
// plain (or TLS, if ssl_cert is set) TCP socket.
type socketOutput struct {
	cfg  *config.OutputConfig
	addr string
	conn net.Conn
}

func newSocket(cfg *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	if len(cfg.Host.Values) == 0 {
		return nil, fmt.Errorf("socket output: host is required")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host.Values[0], cfg.Port)
	return &socketOutput{cfg: cfg, addr: addr}, nil
}

func (o *socketOutput) Connect() error {
	if o.conn != nil {
		return nil
	}
	dialer := &net.Dialer{Timeout: durationOr(o.cfg.ConnectTimeout.Duration(), 5*time.Second)}

	var conn net.Conn
	var err error
	if o.cfg.SSLCert != "" || o.cfg.SSLCAFile != "" {
		tlsCfg, terr := buildTLSConfig(o.cfg.SSLCert, o.cfg.SSLKey, o.cfg.SSLCAFile)
		if terr != nil {
			return fmt.Errorf("socket output: building TLS config: %w", terr)
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", o.addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", o.addr)
	}
	if err != nil {
		return fmt.Errorf("socket output: dialing %s: %w", o.addr, err)
	}
	o.conn = conn
	return nil
}

func (o *socketOutput) Close() error {
	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.conn = nil
	return err
}

func (o *socketOutput) Push(events []*event.Event) error {
	if err := o.Connect(); err != nil {
		return err
	}
	if o.cfg.Timeout.Duration() > 0 {
		o.conn.SetWriteDeadline(time.Now().Add(o.cfg.Timeout.Duration()))
	}
	for _, e := range events {
		line, err := encodeJSON(e)
		if err != nil {
			return fmt.Errorf("socket output: encoding event: %w", err)
		}
		if _, err := o.conn.Write(append(line, '\n')); err != nil {
			o.Close()
			return fmt.Errorf("socket output: writing to %s: %w", o.addr, err)
		}
	}
	return nil
}
