package inputs

import (
	"crypto/x509"
	"fmt"
	"os"
)

// loadCAPool reads a PEM-encoded CA bundle, used to verify Lumberjack
// client certificates per spec.md §4.6's "SSL_VERIFY_PEER".
func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lumberjack input: reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("lumberjack input: no certificates parsed from %s", path)
	}
	return pool, nil
}
