// Package credential issues the short-lived RS256 tokens the device presents
// as its broker password.
package credential

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/devicelink/internal/deviceagent/identity"
)

// DefaultMaxTokenSize bounds the serialized token.
const DefaultMaxTokenSize = 4096

// Issuer builds signed tokens for a device identity. It holds no per-token
// state and is safe for concurrent use.
type Issuer struct {
	clock        clock.PassiveClock
	maxTokenSize int
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the time source used for iat and exp.
func WithClock(c clock.PassiveClock) Option {
	return func(i *Issuer) { i.clock = c }
}

// WithMaxTokenSize sets the largest serialized token accepted.
func WithMaxTokenSize(n int) Option {
	return func(i *Issuer) { i.maxTokenSize = n }
}

// NewIssuer returns an issuer using the real clock unless overridden.
func NewIssuer(opts ...Option) *Issuer {
	i := &Issuer{
		clock:        clock.RealClock{},
		maxTokenSize: DefaultMaxTokenSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a token for id valid for ttlMinutes from now.
func (i *Issuer) Issue(id *identity.Identity, signingKey []byte, ttlMinutes int) (*SignedToken, error) {
	if ttlMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidTTL, ttlMinutes)
	}

	key, err := ParseSigningKey(signingKey)
	if err != nil {
		return nil, err
	}

	return i.IssueWithKey(id, key, ttlMinutes)
}

// IssueWithKey is Issue for an already parsed key.
func (i *Issuer) IssueWithKey(id *identity.Identity, key *rsa.PrivateKey, ttlMinutes int) (*SignedToken, error) {
	if ttlMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidTTL, ttlMinutes)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrKeyParse)
	}

	now := time.Unix(i.clock.Now().Unix(), 0)
	exp := now.Add(time.Duration(ttlMinutes) * time.Minute)

	h, err := encodeSegment(header{Type: "JWT", Algorithm: jwt.SigningMethodRS256.Alg()})
	if err != nil {
		return nil, err
	}
	p, err := encodeSegment(Claims{
		Audience:  id.ProjectID(),
		IssuedAt:  now.Unix(),
		ExpiresAt: exp.Unix(),
	})
	if err != nil {
		return nil, err
	}

	sig, err := jwt.SigningMethodRS256.Sign(h+"."+p, key)
	if err != nil {
		return nil, classifySignError(err)
	}

	token := &SignedToken{
		Header:    h,
		Payload:   p,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
		IssuedAt:  now,
		ExpiresAt: exp,
	}

	if n := len(token.Header) + len(token.Payload) + len(token.Signature) + 2; i.maxTokenSize > 0 && n > i.maxTokenSize {
		return nil, fmt.Errorf("%w: token is %d bytes, capacity %d", ErrFormat, n, i.maxTokenSize)
	}
	return token, nil
}

func encodeSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func classifySignError(err error) error {
	if errors.Is(err, jwt.ErrHashUnavailable) {
		return fmt.Errorf("%w: %w", ErrDigest, err)
	}
	return fmt.Errorf("%w: %w", ErrSign, err)
}

// Verify checks the signature and expiry of a serialized token at now and
// returns its claims.
func Verify(token string, pub *rsa.PublicKey, now time.Time) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", jwt.ErrTokenMalformed)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
