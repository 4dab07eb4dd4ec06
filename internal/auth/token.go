package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// minSecretLength is the shortest signing secret NewTokenCodec accepts.
const minSecretLength = 32

// tokenClaims is the JWT payload: sub, typ, exp, iat and jti.
type tokenClaims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"typ"`
}

// TokenClaims is the decoded, validated content of a token.
type TokenClaims struct {
	Subject   string
	Type      TokenType
	ID        string
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 tokens with a shared secret.
type TokenCodec struct {
	secret []byte
	now    Clock
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithClock overrides the codec's time source.
func WithClock(now Clock) TokenCodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a codec. The secret must be at least 32 bytes.
func NewTokenCodec(secret []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue mints a signed token for subject valid for ttl.
func (c *TokenCodec) Issue(subject string, typ TokenType, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("issuing token: empty subject")
	}
	if !isValidTokenType(typ) {
		return "", fmt.Errorf("issuing token: unknown type %q", typ)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("issuing token: non-positive ttl %s", ttl)
	}

	now := c.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Type: typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of token and returns its claims.
// Every failure is reported as ErrInvalidToken.
func (c *TokenCodec) Decode(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !isValidTokenType(claims.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidToken, claims.Type)
	}

	return &TokenClaims{
		Subject:   claims.Subject,
		Type:      claims.Type,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func isValidTokenType(t TokenType) bool {
	return t == TokenAccess || t == TokenRefresh
}

// HashToken returns the hex SHA-256 digest of a raw token, the only form
// in which refresh tokens are persisted.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
