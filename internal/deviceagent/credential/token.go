package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignedToken is one issued credential. It is never modified after issuance.
type SignedToken struct {
	Header    string
	Payload   string
	Signature string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String returns the compact serialization header.payload.signature.
func (t *SignedToken) String() string {
	return t.Header + "." + t.Payload + "." + t.Signature
}

// Expired reports whether the token is no longer valid at now.
func (t *SignedToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TTL returns the lifetime the token was issued with.
func (t *SignedToken) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// Claims is the payload understood by the broker. Field order matches the
// serialized form.
type Claims struct {
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

var _ jwt.Claims = (*Claims)(nil)

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error)              { return "", nil }
func (c *Claims) GetSubject() (string, error)             { return "", nil }

func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}
