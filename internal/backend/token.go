package backend

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for authenticated calls. An empty
// token means the request is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Claims mirror the claims the node API verifies.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SignedTokenSource issues RS256 tokens for a fixed subject and reuses each
// token until it is close to expiry.
type SignedTokenSource struct {
	key     *rsa.PrivateKey
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewSignedTokenSource(key *rsa.PrivateKey, subject string, ttl time.Duration) *SignedTokenSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedTokenSource{key: key, subject: subject, ttl: ttl, now: time.Now}
}

func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPrivateKeyFromPEM(keyData)
}

func (s *SignedTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.token != "" && now.Add(s.ttl/10).Before(s.expires) {
		return s.token, nil
	}
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: "service",
		Name: "lorawatch",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.token, s.expires = tokenStr, exp
	return tokenStr, nil
}
