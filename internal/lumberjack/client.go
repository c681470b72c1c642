package lumberjack

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Retry backoff thresholds, spec.md §4.5: "after >10 consecutive failures,
// sleep 60s before the next attempt; after >50, sleep 600s."
const (
	backoffThreshold1 = 10
	backoffSleep1     = 60 * time.Second
	backoffThreshold2 = 50
	backoffSleep2     = 600 * time.Second

	maxChunkSize = 16 * 1024
)

// ClientConfig configures a Client, spec.md §4.5.
type ClientConfig struct {
	Hosts           []string // host:port, rotated on each failed attempt
	TLSConfig       *tls.Config
	SendTimeout     time.Duration
	ConnectTimeout  time.Duration
	Persistent      bool
	WindowSize      uint32
	ProtocolVersion byte // Version1 or Version2
	Compression     CompressionMode
}

// Client is a Lumberjack sender: it owns an ordered host list, a single
// persistent (or per-send) TLS connection, and the sequence/ack bookkeeping
// of spec.md §4.5.
type Client struct {
	cfg ClientConfig

	hostIdx    int
	conn       net.Conn
	failCount  int
	msgSeq     uint32
	lastAck    uint32
}

// nextSeq returns the sequence number following seq, wrapping 0xFFFFFFFF
// back to 1 rather than 0, per spec.md §4.4/§9: "the sequence wraps at
// 2^32 back to 1" (Testable Property P4). Sequence number 0 is never
// assigned to a frame.
func nextSeq(seq uint32) uint32 {
	seq++
	if seq == 0 {
		seq = 1
	}
	return seq
}

// ErrSendFailed wraps any failure of a single Send call: a bad ack, a
// connection error, or a timeout. The pipeline stashes events on this
// error, per spec.md §4.5 and §7.
var ErrSendFailed = errors.New("lumberjack: send failed")

// NewClient returns a Client for cfg. It does not connect; Connect (or the
// first Send) does that lazily.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = Version2
	}
	return &Client{cfg: cfg}
}

// Connect establishes (or reuses) the persistent connection, per spec.md
// §4.5's "connect loop": if a persistent connection is live, reuse it;
// otherwise throttle retries per the backoff thresholds and iterate the
// host list, the first successful TLS handshake winning and resetting the
// failure counter.
func (c *Client) Connect() error {
	if c.cfg.Persistent && c.conn != nil {
		return nil
	}

	c.throttle()

	hosts := c.cfg.Hosts
	if len(hosts) == 0 {
		return fmt.Errorf("lumberjack client: no hosts configured")
	}

	var lastErr error
	for i := 0; i < len(hosts); i++ {
		host := hosts[(c.hostIdx+i)%len(hosts)]
		dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", host, c.cfg.TLSConfig)
		if err != nil {
			lastErr = err
			continue
		}
		c.conn = conn
		c.hostIdx = (c.hostIdx + i + 1) % len(hosts)
		c.failCount = 0
		return nil
	}

	c.failCount++
	return fmt.Errorf("lumberjack client: connecting to any of %d hosts: %w", len(hosts), lastErr)
}

// throttle sleeps according to the consecutive-failure backoff thresholds
// before the next connect attempt.
func (c *Client) throttle() {
	switch {
	case c.failCount > backoffThreshold2:
		time.Sleep(backoffSleep2)
	case c.failCount > backoffThreshold1:
		time.Sleep(backoffSleep1)
	}
}

// Close drops the persistent connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send ships one batch of events (1 to max_window_size) as a single W frame
// followed by one data frame per event (or, if compression is enabled, the
// data frames wrapped in a single C frame), then blocks for the ack. On any
// failure the connection is discarded so the next Send reconnects, and the
// caller sees ErrSendFailed so the pipeline can stash the events.
func (c *Client) Send(events []map[string]interface{}) error {
	if len(events) == 0 {
		return nil
	}

	if err := c.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if c.cfg.SendTimeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.cfg.SendTimeout))
	}

	seqs := make([]uint32, len(events))
	seq := c.msgSeq
	for i := range events {
		seq = nextSeq(seq)
		seqs[i] = seq
	}
	lastSeq := seqs[len(seqs)-1]

	var body bytes.Buffer
	for i, ev := range events {
		seq := seqs[i]
		var err error
		if c.cfg.ProtocolVersion == Version1 {
			err = EncodeDataV1(&body, seq, ev)
		} else {
			err = EncodeDataV2(&body, seq, ev)
		}
		if err != nil {
			return fmt.Errorf("%w: encoding event: %v", ErrSendFailed, err)
		}
	}

	var out bytes.Buffer
	if err := EncodeWindow(&out, c.cfg.ProtocolVersion, uint32(len(events))); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if c.cfg.Compression != CompressionNone {
		if err := EncodeCompressed(&out, c.cfg.ProtocolVersion, c.cfg.Compression, body.Bytes()); err != nil {
			return fmt.Errorf("%w: compressing batch: %v", ErrSendFailed, err)
		}
	} else {
		out.Write(body.Bytes())
	}

	if err := c.writeChunked(out.Bytes()); err != nil {
		c.discard()
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	ack, err := c.awaitAck()
	if err != nil {
		c.discard()
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if ack != lastSeq {
		c.discard()
		return fmt.Errorf("%w: ack sequence mismatch, want %d got %d", ErrSendFailed, lastSeq, ack)
	}

	c.msgSeq = lastSeq
	c.lastAck = lastSeq
	return nil
}

// writeChunked writes data to the connection in chunks of at most 16KiB per
// syscall, per spec.md §4.5.
func (c *Client) writeChunked(data []byte) error {
	for len(data) > 0 {
		n := maxChunkSize
		if n > len(data) {
			n = len(data)
		}
		if _, err := c.conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// awaitAck reads frames off the connection until an A frame arrives.
// Anything else (wrong header, unexpected close, decode error) is a
// failure; the deadline set in Send covers the whole wait.
func (c *Client) awaitAck() (uint32, error) {
	dec := NewDecoder(c.conn, c.cfg.Compression)
	for {
		f, err := dec.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("connection closed waiting for ack")
			}
			return 0, err
		}
		if ack, ok := f.(AckFrame); ok {
			return ack.Seq, nil
		}
	}
}

// discard drops the connection so the next Send reconnects from scratch.
func (c *Client) discard() {
	c.Close()
}

// MsgSequence and LastAck expose the sequence bookkeeping of spec.md §4.5
// ("sequence management") for tests and diagnostics.
func (c *Client) MsgSequence() uint32 { return c.msgSeq }
func (c *Client) LastAck() uint32     { return c.lastAck }

// NeedsAck reports whether the client must block for an ack before sending
// more events: "the client blocks for an ack only when msg_sequence >
// last_ack + window_size - 1" (spec.md §4.5). Send always waits for an ack
// after every batch; this is exposed for callers that want to pipeline
// multiple batches before blocking.
func (c *Client) NeedsAck() bool {
	if c.cfg.WindowSize == 0 {
		return true
	}
	return c.msgSeq > c.lastAck+c.cfg.WindowSize-1
}
