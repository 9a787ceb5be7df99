// Package apply credits normalized donations to members exactly once.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/allocation"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/metrics"
)

// ErrInvalidAmounts marks an event whose amounts violate ledger invariants.
var ErrInvalidAmounts = errors.New("apply: invalid amounts")

// Platform-wide pages that show aggregates touched by any donation.
var aggregatePaths = []string{
	"/",
	"/community",
	"/transparency",
	"/leaderboard",
	"/admin",
	"/admin/donations",
	"/admin/reconciliation",
}

// Result is what one Apply call did. Paths lists pages to invalidate; it is
// empty when nothing changed.
type Result struct {
	Applied bool
	Member  ledger.Member
	Event   event.DonationEvent
	Paths   []string
}

// Applier wraps the ledger's atomic insert-and-credit.
type Applier struct {
	store  ledger.DonationLedger
	logger *slog.Logger
}

// New creates an Applier.
func New(store ledger.DonationLedger, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{store: store, logger: logger.With("component", "applier")}
}

// Apply recomputes the savings split from the trusted donation amount and
// applies ev at most once per donation key. It performs no I/O beyond the
// single ledger transaction; invalidation is left to the caller.
func (a *Applier) Apply(ctx context.Context, ev event.DonationEvent, savingsPercent, feePercent float64) (Result, error) {
	if ev.DonationKey == "" {
		return Result{}, fmt.Errorf("%w: empty donation key", ErrInvalidAmounts)
	}
	if ev.DonationPence < 0 || ev.TotalPaidPence < 0 || ev.PlatformFeePence < 0 {
		return Result{}, fmt.Errorf("%w: negative amount on %s", ErrInvalidAmounts, ev.DonationKey)
	}
	split := allocation.Allocate(ev.DonationPence, savingsPercent, feePercent)
	ev.SavingsPence = split.SavingsPence
	ev.SpendablePence = split.SpendablePence
	if ev.TotalPaidPence == 0 && ev.DonationPence > 0 {
		ev.PlatformFeePence = split.PlatformFeePence
		ev.TotalPaidPence = split.TotalPaidPence
	}
	if ev.TotalPaidPence < ev.DonationPence {
		return Result{}, fmt.Errorf("%w: total %d below donation %d on %s",
			ErrInvalidAmounts, ev.TotalPaidPence, ev.DonationPence, ev.DonationKey)
	}

	start := time.Now()
	res, err := a.store.ApplyDonation(ctx, &ev)
	metrics.ApplyDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return Result{}, fmt.Errorf("apply %s: %w", ev.DonationKey, err)
	}

	out := Result{Applied: res.Applied, Member: res.Member, Event: ev}
	if !res.Applied {
		a.logger.Info("donation already applied", "donation_key", ev.DonationKey, "member_id", res.Member.ID)
		return out, nil
	}
	metrics.PenceCredited.WithLabelValues("spendable").Add(float64(ev.SpendablePence))
	metrics.PenceCredited.WithLabelValues("savings").Add(float64(ev.SavingsPence))
	metrics.PenceCredited.WithLabelValues("platform_fee").Add(float64(ev.PlatformFeePence))
	out.Paths = InvalidationPaths(res.Member)
	a.logger.Info("donation applied",
		"donation_key", ev.DonationKey,
		"member_id", res.Member.ID,
		"donation_pence", ev.DonationPence,
		"savings_pence", ev.SavingsPence,
		"spendable_pence", ev.SpendablePence)
	return out, nil
}

// InvalidationPaths lists every page affected by a donation to m.
func InvalidationPaths(m ledger.Member) []string {
	paths := make([]string, 0, len(aggregatePaths)+3)
	if m.Slug != "" {
		paths = append(paths,
			"/members/"+m.Slug,
			"/members/"+m.Slug+"/savings",
			"/members/"+m.Slug+"/wishlist")
	}
	return append(paths, aggregatePaths...)
}
