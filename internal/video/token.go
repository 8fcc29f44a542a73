package video

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew backdates iat so tokens are accepted by servers slightly behind us.
const clockSkew = 60 * time.Second

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type serverClaims struct {
	Server bool `json:"server"`
	jwt.RegisteredClaims
}

// TokenSigner mints HS256 tokens with the platform API secret.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer; ttl bounds user join tokens.
func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("video api secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// UserToken returns a join token scoped to userID.
func (s *TokenSigner) UserToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := s.now()
	claims := userClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ServerToken authenticates server-side REST calls.
func (s *TokenSigner) ServerToken() (string, error) {
	claims := serverClaims{
		Server: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now().Add(-clockSkew)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseUserToken validates a join token and returns its user id.
func (s *TokenSigner) ParseUserToken(raw string) (string, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
