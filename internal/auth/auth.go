// Package auth gates admin reads behind an ordered role.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Role is ordered: every role can do what the roles below it can.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleSupportWorker
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleNone:          "none",
	RoleViewer:        "viewer",
	RoleSupportWorker: "support_worker",
	RoleSuperAdmin:    "super_admin",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// AtLeast reports whether r meets min.
func (r Role) AtLeast(min Role) bool { return r >= min }

// ParseRole maps a role name to its Role.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for r, n := range roleNames {
		if r != RoleNone && n == s {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

var (
	// ErrUnauthenticated means no valid credential was presented.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the credential's role is below the requirement.
	ErrForbidden = errors.New("auth: forbidden")
)

// Session is an authenticated admin.
type Session struct {
	Subject string
	Role    Role
}

// SessionLookup resolves the admin behind a request.
type SessionLookup interface {
	Lookup(ctx context.Context, r *http.Request) (Session, error)
}

// StaticTokens authenticates bearer tokens from a fixed table.
type StaticTokens struct {
	tokens map[string]Role
}

// NewStaticTokens builds a lookup from token → role name.
func NewStaticTokens(table map[string]string) (*StaticTokens, error) {
	st := &StaticTokens{tokens: make(map[string]Role, len(table))}
	for tok, name := range table {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		st.tokens[tok] = role
	}
	return st, nil
}

func (s *StaticTokens) Lookup(_ context.Context, r *http.Request) (Session, error) {
	tok, ok := bearer(r)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	for known, role := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(tok)) == 1 {
			return Session{Subject: "token:" + redact(known), Role: role}, nil
		}
	}
	return Session{}, ErrUnauthenticated
}

// Authorize returns the session if it meets min.
func Authorize(ctx context.Context, lookup SessionLookup, r *http.Request, min Role) (Session, error) {
	if lookup == nil {
		return Session{}, ErrUnauthenticated
	}
	s, err := lookup.Lookup(ctx, r)
	if err != nil {
		return Session{}, err
	}
	if !s.Role.AtLeast(min) {
		return s, fmt.Errorf("%w: %s below %s", ErrForbidden, s.Role, min)
	}
	return s, nil
}

func redact(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return tok[:4] + "****"
}
