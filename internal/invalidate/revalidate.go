package invalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusError is a non-2xx answer from the revalidation hook.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("revalidate %s: status %d", e.Path, e.Code)
}

// Temporary reports whether retrying could help: server errors and 429.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Revalidator asks the front end to rebuild a statically rendered page.
type Revalidator struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewRevalidator posts {"path": ...} to endpoint with the shared secret header.
func NewRevalidator(endpoint, secret string, timeout time.Duration) *Revalidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Revalidator{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *Revalidator) Invalidate(ctx context.Context, path string) error {
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("revalidate %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set("X-Revalidate-Secret", r.secret)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	return nil
}
