package invalidate

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Retrying wraps a notifier and retries best-effort invalidations.
type Retrying struct {
	delegate     Notifier
	buildBackoff func() backoff.BackOff
}

// NewRetrying creates a notifier that retries delegate. A nil factory uses a
// short exponential schedule.
func NewRetrying(delegate Notifier, factory func() backoff.BackOff) *Retrying {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 3 * time.Second
			return b
		}
	}
	return &Retrying{delegate: delegate, buildBackoff: factory}
}

// Invalidate retries delegate failures until the schedule runs out. Client
// errors from the hook (bad secret, unknown path) stop immediately.
func (r *Retrying) Invalidate(ctx context.Context, path string) error {
	b := backoff.WithContext(r.buildBackoff(), ctx)
	return backoff.Retry(func() error {
		err := r.delegate.Invalidate(ctx, path)
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

var _ Notifier = (*Retrying)(nil)
