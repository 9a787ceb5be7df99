// Package invalidate tells page caches which paths a donation made stale.
package invalidate

import (
	"context"
	"errors"
)

// Notifier invalidates one cached page path.
type Notifier interface {
	Invalidate(ctx context.Context, path string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, path string) error

func (f NotifierFunc) Invalidate(ctx context.Context, path string) error { return f(ctx, path) }

// Multi fans a path out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Invalidate(ctx context.Context, path string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Invalidate(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
