package auth_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gyaneshwarpardhi/donationledger/internal/auth"
)

func TestRoleOrdering(t *testing.T) {
	if !auth.RoleSuperAdmin.AtLeast(auth.RoleSupportWorker) || !auth.RoleSupportWorker.AtLeast(auth.RoleViewer) {
		t.Fatal("roles not ordered")
	}
	if auth.RoleViewer.AtLeast(auth.RoleSupportWorker) {
		t.Fatal("viewer must not reach support_worker")
	}
	for _, name := range []string{"viewer", "support_worker", "super_admin"} {
		r, err := auth.ParseRole(name)
		if err != nil || r.String() != name {
			t.Errorf("ParseRole(%q) = %v, %v", name, r, err)
		}
	}
	if _, err := auth.ParseRole("none"); err == nil {
		t.Error("none must not parse")
	}
}

func TestAuthorize(t *testing.T) {
	lookup, err := auth.NewStaticTokens(map[string]string{"view-token": "viewer", "root-token": "super_admin"})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		header string
		min    auth.Role
		want   error
	}{
		{"", auth.RoleViewer, auth.ErrUnauthenticated},
		{"Bearer nope", auth.RoleViewer, auth.ErrUnauthenticated},
		{"Basic view-token", auth.RoleViewer, auth.ErrUnauthenticated},
		{"Bearer view-token", auth.RoleViewer, nil},
		{"Bearer view-token", auth.RoleSupportWorker, auth.ErrForbidden},
		{"Bearer root-token", auth.RoleSuperAdmin, nil},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/admin/reports/monthly", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		_, err := auth.Authorize(context.Background(), lookup, r, c.min)
		if c.want == nil && err != nil {
			t.Errorf("%q/%s: unexpected error %v", c.header, c.min, err)
		}
		if c.want != nil && !errors.Is(err, c.want) {
			t.Errorf("%q/%s: got %v, want %v", c.header, c.min, err, c.want)
		}
	}
}

func TestNewStaticTokens_UnknownRole(t *testing.T) {
	if _, err := auth.NewStaticTokens(map[string]string{"t": "owner"}); err == nil {
		t.Fatal("expected error")
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestJWTSessions(t *testing.T) {
	secret := []byte("admin-jwt-secret")
	lookup, err := auth.NewJWTSessions(string(secret))
	if err != nil {
		t.Fatal(err)
	}
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name  string
		token string
		want  auth.Role
	}{
		{"support worker", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u_1", "role": "support_worker", "exp": exp}), auth.RoleSupportWorker},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u_1", "role": "super_admin", "exp": exp}), auth.RoleNone},
		{"hs512 rejected", sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"sub": "u_1", "role": "super_admin", "exp": exp}), auth.RoleNone},
		{"unsigned", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "u_1", "role": "super_admin", "exp": exp}), auth.RoleNone},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u_1", "role": "viewer", "exp": time.Now().Add(-time.Minute).Unix()}), auth.RoleNone},
		{"no expiry", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u_1", "role": "viewer"}), auth.RoleNone},
		{"unknown role", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u_1", "role": "owner", "exp": exp}), auth.RoleNone},
		{"no subject", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"role": "viewer", "exp": exp}), auth.RoleNone},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/admin/reports/monthly", nil)
		r.Header.Set("Authorization", "Bearer "+c.token)
		s, err := lookup.Lookup(context.Background(), r)
		if c.want == auth.RoleNone {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				t.Errorf("%s: got %v, want ErrUnauthenticated", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
			continue
		}
		if s.Role != c.want || s.Subject != "jwt:u_1" {
			t.Errorf("%s: got %+v", c.name, s)
		}
	}

	if _, err := auth.NewJWTSessions(""); err == nil {
		t.Error("empty secret must be rejected")
	}
}

func TestChain_FallsBackToStaticTokens(t *testing.T) {
	static, err := auth.NewStaticTokens(map[string]string{"dev-token": "viewer"})
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := auth.NewJWTSessions("admin-jwt-secret")
	if err != nil {
		t.Fatal(err)
	}
	chain := auth.Chain{static, sessions}
	admin := sign(t, jwt.SigningMethodHS256, []byte("admin-jwt-secret"),
		jwt.MapClaims{"sub": "u_2", "role": "super_admin", "exp": time.Now().Add(time.Hour).Unix()})

	for header, want := range map[string]auth.Role{
		"Bearer dev-token": auth.RoleViewer,
		"Bearer " + admin:  auth.RoleSuperAdmin,
	} {
		r := httptest.NewRequest("GET", "/admin/reports/monthly", nil)
		r.Header.Set("Authorization", header)
		s, err := auth.Authorize(context.Background(), chain, r, auth.RoleViewer)
		if err != nil || s.Role != want {
			t.Errorf("%.20s: got %+v, %v", header, s, err)
		}
	}

	r := httptest.NewRequest("GET", "/admin/reports/monthly", nil)
	r.Header.Set("Authorization", "Bearer forged")
	if _, err := auth.Authorize(context.Background(), chain, r, auth.RoleViewer); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("forged token: got %v", err)
	}
}
