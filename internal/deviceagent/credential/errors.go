package credential

import "errors"

var (
	// ErrInvalidTTL is returned for a non-positive token lifetime.
	ErrInvalidTTL = errors.New("token ttl must be positive")
	// ErrKeyParse is returned when the signing key is not a usable RSA private key.
	ErrKeyParse = errors.New("cannot parse rsa private key")
	// ErrDigest is returned when the SHA-256 digest cannot be computed.
	ErrDigest = errors.New("cannot compute token digest")
	// ErrSign is returned when the RSA signature cannot be produced.
	ErrSign = errors.New("cannot sign token")
	// ErrFormat is returned when a segment cannot be encoded or the token
	// exceeds the configured capacity.
	ErrFormat = errors.New("cannot format token")
)
