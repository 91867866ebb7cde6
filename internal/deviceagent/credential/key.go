package credential

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseSigningKey accepts an RSA private key as PEM or DER, in PKCS#1 or
// PKCS#8 form.
func ParseSigningKey(raw []byte) (*rsa.PrivateKey, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrKeyParse)
	}

	if bytes.Contains(raw, []byte("-----BEGIN")) {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
		}
		return key, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(raw); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, not RSA", ErrKeyParse, parsed)
	}
	return key, nil
}
