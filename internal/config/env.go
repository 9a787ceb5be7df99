package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Admin roles accepted in ADMIN_TOKENS.
var knownRoles = map[string]bool{"viewer": true, "support_worker": true, "super_admin": true}

// Secrets come from the environment only, never from the YAML file.
type Secrets struct {
	DatabaseURL         string
	StripeWebhookSecret string
	StripeSecretKey     string
	RevalidateSecret    string
	// AdminTokens maps bearer token → role name.
	AdminTokens map[string]string
	// AdminJWTSecret verifies HS256 admin session tokens.
	AdminJWTSecret string
}

// LoadEnv reads files (default ".env") into the process environment.
// Missing files are skipped; existing variables win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	return nil
}

// SecretsFromEnv collects secrets from the environment.
func SecretsFromEnv() (Secrets, error) {
	s := Secrets{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		RevalidateSecret:    os.Getenv("REVALIDATE_SECRET"),
		AdminJWTSecret:      os.Getenv("ADMIN_JWT_SECRET"),
	}
	tokens, err := ParseAdminTokens(os.Getenv("ADMIN_TOKENS"))
	if err != nil {
		return Secrets{}, err
	}
	s.AdminTokens = tokens
	return s, nil
}

// ParseAdminTokens parses "token:role,token:role".
func ParseAdminTokens(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, role, ok := strings.Cut(pair, ":")
		tok, role = strings.TrimSpace(tok), strings.TrimSpace(role)
		if !ok || tok == "" {
			return nil, fmt.Errorf("ADMIN_TOKENS: malformed entry %q", pair)
		}
		if !knownRoles[role] {
			return nil, fmt.Errorf("ADMIN_TOKENS: unknown role %q", role)
		}
		if _, dup := out[tok]; dup {
			return nil, fmt.Errorf("ADMIN_TOKENS: duplicate token")
		}
		out[tok] = role
	}
	return out, nil
}

// Check reports secrets required by cfg that are missing.
func (s Secrets) Check(cfg *AppConfig) error {
	var missing []string
	if s.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if cfg.Store.Driver == DriverPostgres && s.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.Invalidation.RevalidateURL != "" && s.RevalidateSecret == "" {
		missing = append(missing, "REVALIDATE_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment: %s", strings.Join(missing, ", "))
	}
	return nil
}
