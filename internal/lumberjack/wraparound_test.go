package lumberjack

// White-box tests for the sequence-wraparound handling of spec.md §4.4/§9
// (Testable Properties P4 and P5): sequence numbers wrap from 0xFFFFFFFF
// back to 1, never to 0, and the server must not mistake a legitimately
// wrapped sequence for a gap. These live in package lumberjack (rather than
// lumberjack_test, like the rest of the package's tests) because they
// exercise nextSeq/seqIsBehind/connState directly.

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/logging"
)

func TestNextSeqWrapsToOneNotZero(t *testing.T) {
	require.Equal(t, uint32(1), nextSeq(0xFFFFFFFF))
	require.Equal(t, uint32(6), nextSeq(5))
	require.Equal(t, uint32(1), nextSeq(0)) // 0 is never a live sequence, but nextSeq(0) must still avoid 0
}

func TestSeqIsBehindAndDistance(t *testing.T) {
	// Ordinary, non-wrapping cases.
	require.True(t, seqIsBehind(5, 5), "exact repeat is a duplicate")
	require.True(t, seqIsBehind(8, 10), "an older sequence is behind")
	require.False(t, seqIsBehind(12, 10), "a forward skip is not behind (it's a gap)")

	// The 0xFFFFFFFF -> 1 wrap: 1 is the immediate successor of 0xFFFFFFFF,
	// not two steps ahead, and must not be classified as behind/duplicate.
	require.False(t, seqIsBehind(1, 0xFFFFFFFF))

	// A frame from just before the wrap, arriving after last_received has
	// already advanced past the wrap, is old and must be dropped.
	require.True(t, seqIsBehind(0xFFFFFFFF, 1))
}

func TestServerHandleDataAcceptsWrappedSequence(t *testing.T) {
	var delivered []map[string]interface{}
	srv := NewServer(ServerConfig{}, testLogger(), func(fields map[string]interface{}) error {
		delivered = append(delivered, fields)
		return nil
	})

	state := &connState{lastReceived: 0xFFFFFFFF}

	ok := srv.handleData(state, DataFrame{Seq: 1, Fields: map[string]interface{}{"line": "after wrap"}})
	require.True(t, ok, "a sequence that wrapped from 0xFFFFFFFF to 1 must be accepted, not treated as a gap")
	require.Equal(t, uint32(1), state.lastReceived)
	require.Len(t, delivered, 1)
}

func TestServerHandleDataStillDetectsGapAfterWrap(t *testing.T) {
	srv := NewServer(ServerConfig{}, testLogger(), func(map[string]interface{}) error { return nil })

	state := &connState{lastReceived: 1}
	ok := srv.handleData(state, DataFrame{Seq: 3, Fields: map[string]interface{}{}})
	require.False(t, ok, "skipping seq 2 right after the wrap is still a gap")
}

func TestServerHandleDataDropsOldFrameFromBeforeWrap(t *testing.T) {
	var deliveries int
	srv := NewServer(ServerConfig{}, testLogger(), func(map[string]interface{}) error {
		deliveries++
		return nil
	})

	state := &connState{lastReceived: 2} // already moved two steps past the wrap
	ok := srv.handleData(state, DataFrame{Seq: 0xFFFFFFFF, Fields: map[string]interface{}{}})
	require.True(t, ok, "an old, pre-wrap frame is silently dropped, not treated as a gap")
	require.Equal(t, 0, deliveries)
	require.Equal(t, uint32(2), state.lastReceived, "last_received does not move backwards for a dropped old frame")
}

func TestClientSendWrapsSequenceAtBoundary(t *testing.T) {
	cert := selfSignedCertForWraparoundTest(t)
	addr := freeLoopbackAddrForWraparoundTest(t)

	srv := NewServer(ServerConfig{
		Address:   addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, testLogger(), func(fields map[string]interface{}) error { return nil })
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c := NewClient(ClientConfig{
		Hosts:           []string{addr},
		TLSConfig:       &tls.Config{InsecureSkipVerify: true},
		ConnectTimeout:  2 * time.Second,
		SendTimeout:     2 * time.Second,
		Persistent:      true,
		WindowSize:      10,
		ProtocolVersion: Version2,
	})
	defer c.Close()

	// Force msgSeq right up to the wrap boundary before sending, rather than
	// driving four billion real sends to get there.
	c.msgSeq = 0xFFFFFFFF

	require.NoError(t, c.Send([]map[string]interface{}{{"line": "wraps"}}))
	require.Equal(t, uint32(1), c.MsgSequence(), "the sequence assigned after 0xFFFFFFFF must wrap to 1, not 0")
}

func testLogger() *logging.Logger {
	return logging.New(logrus.ErrorLevel, nil)
}

func selfSignedCertForWraparoundTest(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}

func freeLoopbackAddrForWraparoundTest(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
