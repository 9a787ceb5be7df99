package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSessions authenticates HS256 bearer tokens minted by the admin site.
// Tokens carry the admin in "sub" and a role name in "role", and must
// carry an expiry.
type JWTSessions struct {
	secret []byte
}

// NewJWTSessions builds a lookup that verifies tokens against secret.
func NewJWTSessions(secret string) (*JWTSessions, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	return &JWTSessions{secret: []byte(secret)}, nil
}

func (j *JWTSessions) Lookup(_ context.Context, r *http.Request) (Session, error) {
	tok, ok := bearer(r)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Session{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["role"].(string)
	if sub == "" {
		return Session{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role, err := ParseRole(name)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return Session{Subject: "jwt:" + sub, Role: role}, nil
}

// Chain tries each lookup in order and returns the first session found.
type Chain []SessionLookup

func (c Chain) Lookup(ctx context.Context, r *http.Request) (Session, error) {
	err := ErrUnauthenticated
	for _, l := range c {
		if l == nil {
			continue
		}
		s, lerr := l.Lookup(ctx, r)
		if lerr == nil {
			return s, nil
		}
		err = lerr
	}
	return Session{}, err
}

func bearer(r *http.Request) (string, bool) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return tok, ok && tok != ""
}
