// Package identity gives every browser a durable profile id, carried in a
// signed cookie, and every tab a session id, carried in a signed token the
// page keeps in sessionStorage. Together they form the core.Scope that keys a
// request's persisted state.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes profile tokens from session tokens so one cannot be
// replayed as the other.
type Kind string

const (
	KindProfile Kind = "profile"
	KindSession Kind = "session"
)

const issuer = "mockdash"

var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is the JWT payload of an identity cookie. The id is the subject.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies identity tokens with HS256.
type TokenService struct {
	secret []byte
	ttl    map[Kind]time.Duration
	now    func() time.Time
}

// NewTokenService signs with secret. A zero profileTTL selects one year. A
// zero sessionTTL issues session tokens without expiry: a session ends when
// its tab closes, not on a timer.
func NewTokenService(secret string, profileTTL, sessionTTL time.Duration) *TokenService {
	if profileTTL <= 0 {
		profileTTL = 365 * 24 * time.Hour
	}
	if sessionTTL < 0 {
		sessionTTL = 0
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    map[Kind]time.Duration{KindProfile: profileTTL, KindSession: sessionTTL},
		now:    time.Now,
	}
}

// TTL returns the lifetime of tokens of kind; zero means no expiry.
func (t *TokenService) TTL(kind Kind) time.Duration {
	return t.ttl[kind]
}

// Issue signs a token binding id to kind.
func (t *TokenService) Issue(kind Kind, id string) (string, error) {
	if id == "" {
		return "", errors.New("identity: id is required")
	}
	ttl, ok := t.ttl[kind]
	if !ok {
		return "", fmt.Errorf("identity: unknown kind %q", kind)
	}

	now := t.now().UTC()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  id,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the id carried by a valid token of kind.
func (t *TokenService) Verify(kind Kind, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("identity: unexpected signing method")
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Kind != kind {
		return "", fmt.Errorf("%w: got %s token, want %s", ErrInvalidToken, claims.Kind, kind)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
