package event

import (
	"encoding/json"
	"time"
)

// Source identifies which provider object a donation was derived from.
type Source string

const (
	SourceCheckoutSession Source = "checkout_session"
	SourceInvoice         Source = "invoice"
)

// Frequency is how often a donor gives.
type Frequency string

const (
	FrequencyOneTime Frequency = "one-time"
	FrequencyMonthly Frequency = "monthly"
)

// UnknownCompany is the normalized sentinel for empty or placeholder company names.
const UnknownCompany = "Unknown/Other"

// MemberRef points at a member either by durable ID or by legacy business identifier.
// At least one must be set.
type MemberRef struct {
	ID       string `json:"member_id,omitempty"`
	LegacyID string `json:"legacy_id,omitempty"`
}

// IsZero reports whether neither identifier is set.
func (r MemberRef) IsZero() bool { return r.ID == "" && r.LegacyID == "" }

func (r MemberRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return "legacy:" + r.LegacyID
}

// DonationEvent is the canonical, immutable record of one provider payment.
type DonationEvent struct {
	DonationKey string    `json:"donation_key"`
	Source      Source    `json:"source"`
	Frequency   Frequency `json:"frequency"`
	Member      MemberRef `json:"member"`

	DonationPence    int64  `json:"donation_pence"`
	SavingsPence     int64  `json:"savings_pence"`
	SpendablePence   int64  `json:"spendable_pence"`
	PlatformFeePence int64  `json:"platform_fee_pence"`
	TotalPaidPence   int64  `json:"total_paid_pence"`
	Currency         string `json:"currency"`

	CompanyName           string `json:"company_name"`
	NormalizedCompanyName string `json:"normalized_company_name"`
	WishlistItemCode      string `json:"wishlist_item_code,omitempty"`
	DonorName             string `json:"donor_name"`
	Message               string `json:"message,omitempty"`
	DonorEmail            string `json:"donor_email,omitempty"`
	NotifyEmail           bool   `json:"notify_email"`

	EventCreatedAt time.Time `json:"event_created_at"`
}

// Key builds the deterministic donation key for a provider object.
func Key(src Source, providerID string) string {
	switch src {
	case SourceCheckoutSession:
		return "checkout:" + providerID
	case SourceInvoice:
		return "invoice:" + providerID
	}
	return string(src) + ":" + providerID
}

// Envelope is one delivery of a provider webhook event, already signature-verified.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Livemode   bool            `json:"livemode"`
	CreatedAt  time.Time       `json:"created_at"`
	ReceivedAt time.Time       `json:"-"`
	Raw        json.RawMessage `json:"-"` // data.object of the provider event
}

// EnvelopeStatus is the processing state of an envelope row.
type EnvelopeStatus string

const (
	StatusProcessing EnvelopeStatus = "processing"
	StatusProcessed  EnvelopeStatus = "processed"
	StatusDuplicate  EnvelopeStatus = "duplicate"
	StatusFailed     EnvelopeStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s EnvelopeStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusDuplicate || s == StatusFailed
}

// EnvelopeRecord tracks delivery and processing of one provider event ID.
type EnvelopeRecord struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Livemode     bool           `json:"livemode"`
	Status       EnvelopeStatus `json:"status"`
	ReceivedAt   time.Time      `json:"received_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Outcome is the terminal result of handling one envelope.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeAlreadyApplied    Outcome = "already_applied"
	OutcomeDuplicateEnvelope Outcome = "duplicate_envelope"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeFailed            Outcome = "failed"
)
