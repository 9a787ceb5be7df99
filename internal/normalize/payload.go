package normalize

import "encoding/json"

// Provider event types this engine understands.
const (
	TypeCheckoutCompleted      = "checkout.session.completed"
	// Delayed payment methods (Bacs, SEPA) complete unpaid and settle later
	// with this event for the same session.
	TypeCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	TypeInvoicePaid            = "invoice.paid"
	TypeInvoiceSucceeded       = "invoice.payment_succeeded"
)

// Only renewals of an existing subscription are credited from invoices.
const billingReasonCycle = "subscription_cycle"

// Local projections of the provider objects. Decoding into these rather than
// the SDK types keeps the engine tolerant of API version drift.

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Created           int64             `json:"created"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   customerDetails   `json:"customer_details"`
	Metadata          map[string]string `json:"metadata"`
}

type customerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type invoice struct {
	ID            string            `json:"id"`
	BillingReason string            `json:"billing_reason"`
	AmountPaid    int64             `json:"amount_paid"`
	Currency      string            `json:"currency"`
	Created       int64             `json:"created"`
	CustomerEmail string            `json:"customer_email"`
	CustomerName  string            `json:"customer_name"`
	Metadata      map[string]string `json:"metadata"`

	// Older API versions carry the subscription at the top level; newer
	// ones nest it under parent.subscription_details.
	Subscription        json.RawMessage      `json:"subscription"`
	SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
}

type subscriptionDetails struct {
	Subscription json.RawMessage   `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionID returns the owning subscription ID, whichever shape it arrived in.
func (inv *invoice) subscriptionID() string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if id := expandableID(inv.Parent.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	if inv.SubscriptionDetails != nil {
		if id := expandableID(inv.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	return expandableID(inv.Subscription)
}

// embeddedSubscriptionMetadata returns subscription metadata copied onto the invoice.
func (inv *invoice) embeddedSubscriptionMetadata() map[string]string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && len(inv.Parent.SubscriptionDetails.Metadata) > 0 {
		return inv.Parent.SubscriptionDetails.Metadata
	}
	if inv.SubscriptionDetails != nil {
		return inv.SubscriptionDetails.Metadata
	}
	return nil
}

// expandableID reads a field that is either an ID string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// Metadata keys written at checkout creation time.
const (
	metaMemberID       = "member_id"
	metaLegacyID       = "legacy_member_id"
	metaBusinessID     = "business_id"
	metaCompany        = "company_name"
	metaWishlistItem   = "wishlist_item_code"
	metaDonorName      = "donor_name"
	metaMessage        = "message"
	metaNotifyEmail    = "notify_email"
	metaDonationAmount = "donation_pence"
)

// mergeMetadata layers maps so that earlier arguments take precedence.
func mergeMetadata(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i] {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}
