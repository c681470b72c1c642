package lumberjack_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/lumberjack"
)

// selfSignedCert generates an ephemeral, loopback-only TLS certificate for
// tests; it has nothing to do with production TLS configuration.
func selfSignedCert(t *testing.T) tls.Certificate {
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

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

func newTestLogger() *logging.Logger {
	return logging.New(logrus.ErrorLevel, nil)
}

func TestServerDeliversBatchAndAcks(t *testing.T) {
	cert := selfSignedCert(t)

	var mu sync.Mutex
	var received []map[string]interface{}

	srv := lumberjack.NewServer(lumberjack.ServerConfig{
		Address:   "127.0.0.1:0",
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, newTestLogger(), func(fields map[string]interface{}) error {
		mu.Lock()
		received = append(received, fields)
		mu.Unlock()
		return nil
	})

	// Bind on an ephemeral port ourselves so we know the address before
	// Start (Server.Start binds its own listener, so we probe a free port
	// first and hand it to the config).
	addr := freeLoopbackAddr(t)
	srv2 := lumberjack.NewServer(lumberjack.ServerConfig{
		Address:   addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, newTestLogger(), func(fields map[string]interface{}) error {
		mu.Lock()
		received = append(received, fields)
		mu.Unlock()
		return nil
	})
	_ = srv // unused placeholder config exercised only for field shape above
	require.NoError(t, srv2.Start())
	defer srv2.Stop()

	client := lumberjack.NewClient(lumberjack.ClientConfig{
		Hosts:           []string{addr},
		TLSConfig:       &tls.Config{InsecureSkipVerify: true},
		ConnectTimeout:  2 * time.Second,
		SendTimeout:     2 * time.Second,
		Persistent:      true,
		WindowSize:      10,
		ProtocolVersion: lumberjack.Version2,
	})
	defer client.Close()

	events := []map[string]interface{}{
		{"line": "first", "host": "h1"},
		{"line": "second", "host": "h1"},
	}
	require.NoError(t, client.Send(events))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "first", received[0]["line"])
	require.Equal(t, "second", received[1]["line"])
}

func TestServerClosesConnectionOnSequenceGap(t *testing.T) {
	cert := selfSignedCert(t)
	addr := freeLoopbackAddr(t)

	srv := lumberjack.NewServer(lumberjack.ServerConfig{
		Address:   addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, newTestLogger(), func(map[string]interface{}) error { return nil })
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, lumberjack.EncodeWindow(conn, lumberjack.Version2, 10))
	// Seq 1, then jump straight to seq 3: a gap that must close the
	// connection per spec.md §4.6.
	require.NoError(t, lumberjack.EncodeDataV2(conn, 1, map[string]interface{}{"a": "1"}))
	require.NoError(t, lumberjack.EncodeDataV2(conn, 3, map[string]interface{}{"a": "3"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.Error(t, err) // connection closed by the server, not an ack
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
