// Package normalize turns provider webhook payloads into canonical
// DonationEvents. Every monetary split is recomputed from the charged total
// and every free-text field is re-sanitized, whatever the payload claims.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/allocation"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

var (
	// ErrIgnored marks a recognised payload that must not be credited.
	ErrIgnored = errors.New("normalize: ignored")
	// ErrUnsupportedType marks an event type this engine does not handle.
	ErrUnsupportedType = errors.New("normalize: unsupported event type")
	// ErrMissingMember marks a payload carrying no member reference at all.
	ErrMissingMember = errors.New("normalize: no member reference")
	// ErrMalformed marks a payload that could not be decoded.
	ErrMalformed = errors.New("normalize: malformed payload")
)

// Rules is the hot-reloadable part of normalization.
type Rules struct {
	SavingsPercent float64
	FeePercent     float64
	Companies      *CompanyTable
	Sanitizer      *Sanitizer
}

// SubscriptionSource fetches metadata stored on a subscription at sign-up.
type SubscriptionSource interface {
	SubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error)
}

// Normalizer converts envelopes to DonationEvents.
type Normalizer struct {
	subs   SubscriptionSource
	logger *slog.Logger
}

// New creates a Normalizer. subs may be nil, in which case invoices rely on
// metadata embedded in the invoice itself.
func New(subs SubscriptionSource, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{subs: subs, logger: logger.With("component", "normalizer")}
}

// Handles reports whether eventType is one the normalizer can convert.
func Handles(eventType string) bool {
	switch eventType {
	case TypeCheckoutCompleted, TypeCheckoutAsyncSucceeded, TypeInvoicePaid, TypeInvoiceSucceeded:
		return true
	}
	return false
}

// Normalize decodes env.Raw according to env.Type.
func (n *Normalizer) Normalize(ctx context.Context, rules *Rules, env event.Envelope) (*event.DonationEvent, error) {
	switch env.Type {
	case TypeCheckoutCompleted, TypeCheckoutAsyncSucceeded:
		var cs checkoutSession
		if err := json.Unmarshal(env.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformed, err)
		}
		return n.fromCheckout(rules, env, &cs)
	case TypeInvoicePaid, TypeInvoiceSucceeded:
		var inv invoice
		if err := json.Unmarshal(env.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformed, err)
		}
		return n.fromInvoice(ctx, rules, env, &inv)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, env.Type)
}

func (n *Normalizer) fromCheckout(rules *Rules, env event.Envelope, cs *checkoutSession) (*event.DonationEvent, error) {
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformed)
	}
	if cs.Mode == "setup" {
		return nil, fmt.Errorf("%w: checkout mode %q", ErrIgnored, cs.Mode)
	}
	if cs.PaymentStatus == "unpaid" {
		// Credited when the async_payment_succeeded event for this session arrives.
		return nil, fmt.Errorf("%w: checkout payment status %q, awaiting settlement", ErrIgnored, cs.PaymentStatus)
	}
	meta := mergeMetadata(cs.Metadata)
	if meta[metaLegacyID] == "" && meta[metaBusinessID] == "" && cs.ClientReferenceID != "" {
		meta[metaLegacyID] = cs.ClientReferenceID
	}
	freq := event.FrequencyOneTime
	if cs.Mode == "subscription" {
		freq = event.FrequencyMonthly
	}
	email := cs.CustomerDetails.Email
	if email == "" {
		email = cs.CustomerEmail
	}
	return n.build(rules, buildInput{
		source:     event.SourceCheckoutSession,
		providerID: cs.ID,
		frequency:  freq,
		charged:    cs.AmountTotal,
		currency:   cs.Currency,
		created:    eventTime(env, cs.Created),
		email:      email,
		meta:       meta,
	})
}

func (n *Normalizer) fromInvoice(ctx context.Context, rules *Rules, env event.Envelope, inv *invoice) (*event.DonationEvent, error) {
	if inv.ID == "" {
		return nil, fmt.Errorf("%w: invoice without id", ErrMalformed)
	}
	if inv.BillingReason != billingReasonCycle {
		return nil, fmt.Errorf("%w: billing reason %q", ErrIgnored, inv.BillingReason)
	}

	var fetched map[string]string
	if subID := inv.subscriptionID(); subID != "" && n.subs != nil {
		md, err := n.subs.SubscriptionMetadata(ctx, subID)
		if err != nil {
			if firstMemberRef(inv.Metadata, inv.embeddedSubscriptionMetadata()).IsZero() {
				return nil, fmt.Errorf("subscription %s metadata: %w", subID, err)
			}
			n.logger.Warn("subscription lookup failed, using invoice metadata", "subscription_id", subID, "err", err)
		}
		fetched = md
	}
	meta := mergeMetadata(inv.Metadata, inv.embeddedSubscriptionMetadata(), fetched)

	return n.build(rules, buildInput{
		ref:        firstMemberRef(inv.Metadata, inv.embeddedSubscriptionMetadata(), fetched),
		source:     event.SourceInvoice,
		providerID: inv.ID,
		frequency:  event.FrequencyMonthly,
		charged:    inv.AmountPaid,
		currency:   inv.Currency,
		created:    eventTime(env, inv.Created),
		email:      inv.CustomerEmail,
		meta:       meta,
	})
}

type buildInput struct {
	ref        event.MemberRef // overrides the reference read from meta
	source     event.Source
	providerID string
	frequency  event.Frequency
	charged    int64
	currency   string
	created    time.Time
	email      string
	meta       map[string]string
}

func (n *Normalizer) build(rules *Rules, in buildInput) (*event.DonationEvent, error) {
	ref := in.ref
	if ref.IsZero() {
		ref = memberRef(in.meta)
	}
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: %s %s", ErrMissingMember, in.source, in.providerID)
	}
	if in.charged < 0 {
		return nil, fmt.Errorf("%w: negative amount %d", ErrMalformed, in.charged)
	}

	split := allocation.FromCharged(in.charged, rules.SavingsPercent, rules.FeePercent)
	if hint, err := strconv.ParseInt(in.meta[metaDonationAmount], 10, 64); err == nil && hint != split.DonationPence {
		n.logger.Warn("donation amount hint disagrees with charged total",
			"provider_id", in.providerID, "hint", hint, "derived", split.DonationPence, "charged", in.charged)
	}

	company := in.meta[metaCompany]
	return &event.DonationEvent{
		DonationKey:           event.Key(in.source, in.providerID),
		Source:                in.source,
		Frequency:             in.frequency,
		Member:                ref,
		DonationPence:         split.DonationPence,
		SavingsPence:          split.SavingsPence,
		SpendablePence:        split.SpendablePence,
		PlatformFeePence:      split.PlatformFeePence,
		TotalPaidPence:        split.TotalPaidPence,
		Currency:              strings.ToUpper(strings.TrimSpace(in.currency)),
		CompanyName:           clampRunes(strings.TrimSpace(stripControl(company)), 120),
		NormalizedCompanyName: rules.Companies.Normalize(company),
		WishlistItemCode:      clampRunes(strings.TrimSpace(stripControl(in.meta[metaWishlistItem])), 64),
		DonorName:             rules.Sanitizer.DonorName(in.meta[metaDonorName]),
		Message:               rules.Sanitizer.Message(in.meta[metaMessage]),
		DonorEmail:            strings.ToLower(strings.TrimSpace(in.email)),
		NotifyEmail:           truthy(in.meta[metaNotifyEmail]),
		EventCreatedAt:        in.created,
	}, nil
}

func memberRef(meta map[string]string) event.MemberRef {
	ref := event.MemberRef{ID: strings.TrimSpace(meta[metaMemberID])}
	ref.LegacyID = strings.TrimSpace(meta[metaLegacyID])
	if ref.LegacyID == "" {
		ref.LegacyID = strings.TrimSpace(meta[metaBusinessID])
	}
	return ref
}

// firstMemberRef takes the member reference from the highest-precedence
// layer that carries one. IDs from different layers are never mixed.
func firstMemberRef(layers ...map[string]string) event.MemberRef {
	for _, l := range layers {
		if ref := memberRef(l); !ref.IsZero() {
			return ref
		}
	}
	return event.MemberRef{}
}

// eventTime prefers the provider event timestamp, then the object's own.
func eventTime(env event.Envelope, objectCreated int64) time.Time {
	switch {
	case !env.CreatedAt.IsZero():
		return env.CreatedAt.UTC()
	case objectCreated > 0:
		return time.Unix(objectCreated, 0).UTC()
	}
	return env.ReceivedAt.UTC()
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}
