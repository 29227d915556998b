// Package tlsutil builds the TLS client configurations used for broker
// connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig returns the TLS configuration for a broker endpoint. With
// validateCertificates false, chain and hostname verification are disabled
// so endpoints with self-signed certificates remain reachable.
func ClientConfig(validateCertificates bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !validateCertificates,
	}
}

// ClientConfigWithCA returns a verifying TLS configuration that trusts the
// PEM bundle at caFile in addition to the system roots.
func ClientConfigWithCA(caFile string) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %q contains no usable certificates", caFile)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}, nil
}
