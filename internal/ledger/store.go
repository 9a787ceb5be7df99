// Package ledger persists the donation ledger, webhook envelopes and member
// aggregates. Uniqueness on donation key and on envelope event ID is the only
// concurrency control; callers never take in-process locks.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

var (
	// ErrMemberNotFound is returned when a reference resolves to no member.
	ErrMemberNotFound = errors.New("ledger: member not found")
	// ErrEnvelopeInFlight is returned when another worker holds a fresh
	// processing claim on the same envelope.
	ErrEnvelopeInFlight = errors.New("ledger: envelope is in flight")
)

// DefaultReclaimAfter is how long a processing claim is honoured before a
// redelivery may take it over.
const DefaultReclaimAfter = 5 * time.Minute

// Claim is the result of trying to start processing an envelope.
type Claim int

const (
	// ClaimFirst means the envelope has never been seen.
	ClaimFirst Claim = iota
	// ClaimReclaimed means a failed or abandoned attempt was taken over.
	ClaimReclaimed
	// ClaimDuplicate means the envelope already reached processed or duplicate.
	ClaimDuplicate
)

// Owned reports whether the caller now owns processing of the envelope.
func (c Claim) Owned() bool { return c == ClaimFirst || c == ClaimReclaimed }

func (c Claim) String() string {
	switch c {
	case ClaimFirst:
		return "first"
	case ClaimReclaimed:
		return "reclaimed"
	case ClaimDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Member is a beneficiary row together with its running totals.
type Member struct {
	ID                    string    `json:"id"`
	LegacyID              string    `json:"legacy_id,omitempty"`
	Slug                  string    `json:"slug"`
	DisplayName           string    `json:"display_name"`
	SpendableBalancePence int64     `json:"spendable_balance_pence"`
	SavingsPence          int64     `json:"savings_pence"`
	LifetimeRaisedPence   int64     `json:"lifetime_raised_pence"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ApplyResult reports what ApplyDonation did.
type ApplyResult struct {
	Applied bool
	Member  Member
}

// DonationFilter narrows a ledger read. Zero values mean unbounded.
type DonationFilter struct {
	MemberID string
	From     time.Time // inclusive, on EventCreatedAt
	To       time.Time // exclusive
}

func (f DonationFilter) match(memberID string, at time.Time) bool {
	if f.MemberID != "" && f.MemberID != memberID {
		return false
	}
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !at.Before(f.To) {
		return false
	}
	return true
}

// EnvelopeFilter narrows an envelope listing.
type EnvelopeFilter struct {
	Status event.EnvelopeStatus
	Limit  int
}

// EnvelopeStats feeds the health probe.
type EnvelopeStats struct {
	LastReceivedAt time.Time
	FailedSince    int
	InFlight       int
}

// EnvelopeLedger records provider envelopes for idempotent delivery.
type EnvelopeLedger interface {
	BeginEnvelope(ctx context.Context, rec event.EnvelopeRecord) (Claim, error)
	FinishEnvelope(ctx context.Context, eventID string, status event.EnvelopeStatus, errMsg string) error
}

// DonationLedger applies donations atomically.
type DonationLedger interface {
	// ApplyDonation inserts ev keyed by DonationKey and, only if inserted,
	// credits the owning member in the same transaction.
	ApplyDonation(ctx context.Context, ev *event.DonationEvent) (ApplyResult, error)
	ResolveMember(ctx context.Context, ref event.MemberRef) (Member, error)
}

// Reader serves projections and diagnostics.
type Reader interface {
	Donations(ctx context.Context, f DonationFilter) ([]event.DonationEvent, error)
	Members(ctx context.Context) ([]Member, error)
	Envelopes(ctx context.Context, f EnvelopeFilter) ([]event.EnvelopeRecord, error)
	EnvelopeStats(ctx context.Context, since time.Time) (EnvelopeStats, error)
	Ping(ctx context.Context) error
}

// Store is the full persistence contract.
type Store interface {
	EnvelopeLedger
	DonationLedger
	Reader
	Close() error
}
