package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
)

// NewTLSConfig builds the TLS settings for a broker whose chain is anchored in caPEM.
// An empty caPEM falls back to the system roots.
func NewTLSConfig(caPEM []byte) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(caPEM) == 0 {
		return cfg, nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("no usable certificates in CA bundle")
	}
	cfg.RootCAs = pool
	return cfg, nil
}
