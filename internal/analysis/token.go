package analysis

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token sent with every backend request.
// An empty token means the request is sent without an Authorization header.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token unchanged.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

const (
	serviceTokenIssuer = "taskwatch"
	serviceTokenTTL    = 15 * time.Minute
	// Tokens are re-minted this long before they expire.
	serviceTokenSkew = 30 * time.Second
)

// SignedTokenSource mints short-lived HS256 service tokens and caches them
// until shortly before expiry.
type SignedTokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewSignedTokenSource creates a token source signing with secret.
func NewSignedTokenSource(secret, subject string) (*SignedTokenSource, error) {
	if secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return &SignedTokenSource{
		secret:  []byte(secret),
		subject: subject,
		ttl:     serviceTokenTTL,
		now:     time.Now,
	}, nil
}

// Token returns a cached token or mints a new one.
func (s *SignedTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(serviceTokenSkew).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    serviceTokenIssuer,
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	s.cached = signed
	s.expires = expires
	return signed, nil
}
