package lumberjack

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awesant/awesant-go/internal/logging"
)

// decodeDeadline bounds each decode pass on a connection, spec.md §4.6.
const decodeDeadline = 30 * time.Second

// ServerConfig configures a Server, spec.md §4.6.
type ServerConfig struct {
	Address     string // host:port
	TLSConfig   *tls.Config
	WindowSize  uint32
	Compression CompressionMode
}

// Handler receives one decoded event's fields. Returning an error does not
// close the connection; it is only logged (event delivery upstream is
// push-contract the same as any other input, per spec.md §6).
type Handler func(fields map[string]interface{}) error

// Server accepts Lumberjack client connections and delivers decoded events
// to Handler, tracking per-connection sequence/ack state per spec.md §4.6.
// The accept-loop/listener/wg shape is grounded on
// plugins/inputs/http_listener_ng/http_listener_ng.go's Start/Stop.
type Server struct {
	cfg     ServerConfig
	log     *logging.Logger
	handler Handler

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer returns a Server bound to cfg; call Start to begin accepting.
func NewServer(cfg ServerConfig, log *logging.Logger, handler Handler) *Server {
	return &Server{cfg: cfg, log: log, handler: handler}
}

// Start binds the TLS listener and begins accepting connections in the
// background. Per spec.md §4.6 "binds TLS on host:port with
// SSL_VERIFY_PEER": a tls.Config with ClientAuth set to
// RequireAndVerifyClientCert is the caller's responsibility when peer
// verification is required; Start itself only binds whatever cfg.TLSConfig
// specifies.
func (s *Server) Start() error {
	listener, err := tls.Listen("tcp", s.cfg.Address, s.cfg.TLSConfig)
	if err != nil {
		return fmt.Errorf("lumberjack server: listen %s: %w", s.cfg.Address, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.log.Infof("lumberjack server listening on %s", s.cfg.Address)
	return nil
}

// Stop closes the listener and waits for the accept loop and all
// connection handlers to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// connState is the per-connection bookkeeping of spec.md §4.6.
type connState struct {
	lastReceived uint32
	lastAck      uint32
	windowSize   uint32
}

func (s *Server) serve(conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()

	state := &connState{windowSize: s.cfg.WindowSize}
	dec := NewDecoder(conn, s.cfg.Compression)

	s.log.Debugf("lumberjack connection %s from %s opened", connID, conn.RemoteAddr())

	for {
		conn.SetReadDeadline(time.Now().Add(decodeDeadline))

		frame, err := dec.ReadFrame()
		if err != nil {
			s.log.Debugf("lumberjack connection %s closed: %v", connID, err)
			return
		}

		switch f := frame.(type) {
		case WindowFrame:
			state.windowSize = f.WindowSize

		case DataFrame:
			if !s.handleData(state, f) {
				s.log.Warnf("lumberjack connection %s: sequence gap at seq %d (last received %d), closing", connID, f.Seq, state.lastReceived)
				return
			}
			if err := s.maybeAck(conn, f.Version, state); err != nil {
				s.log.Debugf("lumberjack connection %s: ack write failed: %v", connID, err)
				return
			}

		default:
			// AckFrame is never sent by a client; ignore anything unexpected
			// rather than tearing down the connection for a benign frame.
		}
	}
}

// handleData applies spec.md §4.6's per-frame rule: drop duplicates/old
// frames, close the connection on a detected gap, otherwise deliver and
// advance last_received. It returns false when the connection must close.
//
// Comparisons are wrap-aware (Testable Property P4/P5): a raw
// f.Seq > state.lastReceived+1 check would misjudge the legitimate
// 0xFFFFFFFF -> 1 wrap as a 2-step gap, since plain uint32 arithmetic
// wraps lastReceived+1 to 0. nextSeq/seqIsBehind reason in the cyclic
// sequence space instead (values 1..0xFFFFFFFF, 0 never assigned).
func (s *Server) handleData(state *connState, f DataFrame) bool {
	if state.lastReceived == 0 {
		// First frame on this connection: nothing to compare against yet.
		if err := s.handler(f.Fields); err != nil {
			s.log.Errorf("lumberjack handler error: %v", err)
		}
		state.lastReceived = f.Seq
		return true
	}

	if f.Seq == nextSeq(state.lastReceived) {
		if err := s.handler(f.Fields); err != nil {
			s.log.Errorf("lumberjack handler error: %v", err)
		}
		state.lastReceived = f.Seq
		return true
	}

	if seqIsBehind(f.Seq, state.lastReceived) {
		return true // duplicate/old frame, silently dropped
	}
	return false // gap
}

// seqSpace is the size of the valid sequence space: values 1..0xFFFFFFFF,
// since 0 is never assigned to a frame (nextSeq skips it on wrap).
const seqSpace = uint64(0xFFFFFFFF)

// seqDistanceForward returns how many nextSeq steps it takes to get from
// "from" to "to" in the wrapping sequence space, accounting for the
// 0-skipping wrap at the top of the range.
func seqDistanceForward(from, to uint32) uint64 {
	f := uint64(from - 1)
	t := uint64(to - 1)
	return (t - f + seqSpace) % seqSpace
}

// seqIsBehind reports whether seq is at-or-before lastReceived in the
// cyclic sequence order: either the same frame repeated, or one that
// would need to walk most of the way around the space to reach
// lastReceived (i.e. it actually arrived from "the past", including
// across the 0xFFFFFFFF -> 1 wrap), as opposed to a small forward jump
// that skipped one or more sequence numbers (a genuine gap).
func seqIsBehind(seq, lastReceived uint32) bool {
	if seq == lastReceived {
		return true
	}
	return seqDistanceForward(lastReceived, seq) > seqSpace/2
}

// maybeAck emits an A frame once last_received has advanced window_size
// frames past the last ack, per spec.md §4.6.
func (s *Server) maybeAck(conn net.Conn, version byte, state *connState) error {
	window := state.windowSize
	if window == 0 {
		window = 1
	}
	if state.lastReceived-state.lastAck < window {
		return nil
	}
	if err := EncodeAck(conn, version, state.lastReceived); err != nil {
		return err
	}
	state.lastAck = state.lastReceived
	return nil
}
