package normalize_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

func testRules() *normalize.Rules {
	return &normalize.Rules{
		SavingsPercent: 10,
		FeePercent:     15,
		Companies: normalize.NewCompanyTable(map[string][]string{
			"Acme Ltd": {"acme", "ACME Limited"},
		}),
		Sanitizer: normalize.NewSanitizer(normalize.SanitizeConfig{Denylist: []string{"darn"}}),
	}
}

func envelope(typ, raw string) event.Envelope {
	return event.Envelope{
		ID:        "evt_1",
		Type:      typ,
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Raw:       []byte(raw),
	}
}

type fakeSubs struct {
	meta  map[string]string
	err   error
	calls int
}

func (f *fakeSubs) SubscriptionMetadata(_ context.Context, id string) (map[string]string, error) {
	f.calls++
	return f.meta, f.err
}

const checkoutTenPounds = `{
	"id": "cs_test_1",
	"mode": "payment",
	"payment_status": "paid",
	"amount_total": 1150,
	"currency": "gbp",
	"created": 1700000000,
	"customer_details": {"email": " Donor@Example.com ", "name": "Card Holder"},
	"metadata": {
		"member_id": "mem_1",
		"company_name": "acme limited",
		"donor_name": "  Jo\u0007 ",
		"message": "Good luck! see https://spam.example/x",
		"notify_email": "yes",
		"donation_pence": "1000",
		"wishlist_item_code": "coat"
	}
}`

func TestNormalize_CheckoutTenPounds(t *testing.T) {
	n := normalize.New(nil, nil)
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, checkoutTenPounds))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.DonationKey != "checkout:cs_test_1" {
		t.Errorf("unexpected key %q", ev.DonationKey)
	}
	if ev.DonationPence != 1000 || ev.SavingsPence != 100 || ev.SpendablePence != 900 ||
		ev.PlatformFeePence != 150 || ev.TotalPaidPence != 1150 {
		t.Errorf("unexpected split %+v", ev)
	}
	if ev.Frequency != event.FrequencyOneTime || ev.Source != event.SourceCheckoutSession {
		t.Errorf("unexpected frequency/source %s/%s", ev.Frequency, ev.Source)
	}
	if ev.Member.ID != "mem_1" {
		t.Errorf("unexpected member %+v", ev.Member)
	}
	if ev.NormalizedCompanyName != "Acme Ltd" || ev.CompanyName != "acme limited" {
		t.Errorf("unexpected company %q -> %q", ev.CompanyName, ev.NormalizedCompanyName)
	}
	if ev.DonorName != "Jo" {
		t.Errorf("expected sanitized donor name Jo, got %q", ev.DonorName)
	}
	if ev.Message != "Good luck! see [link removed]" {
		t.Errorf("unexpected message %q", ev.Message)
	}
	if ev.DonorEmail != "donor@example.com" || !ev.NotifyEmail {
		t.Errorf("unexpected email fields %q %v", ev.DonorEmail, ev.NotifyEmail)
	}
	if ev.Currency != "GBP" {
		t.Errorf("expected GBP, got %q", ev.Currency)
	}
	if !ev.EventCreatedAt.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("expected provider event time, got %v", ev.EventCreatedAt)
	}
}

func TestNormalize_SameEventSameKey(t *testing.T) {
	n := normalize.New(nil, nil)
	a, _ := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, checkoutTenPounds))
	b, _ := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, checkoutTenPounds))
	if a == nil || b == nil || a.DonationKey != b.DonationKey {
		t.Fatalf("expected identical keys on redelivery")
	}
}

func TestNormalize_IgnoresNonCycleInvoice(t *testing.T) {
	n := normalize.New(nil, nil)
	raw := `{"id":"in_1","billing_reason":"subscription_create","amount_paid":1150,"currency":"gbp","metadata":{"member_id":"mem_1"}}`
	_, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw))
	if !errors.Is(err, normalize.ErrIgnored) {
		t.Fatalf("expected ErrIgnored, got %v", err)
	}
	raw = `{"id":"in_2","billing_reason":"manual","amount_paid":500}`
	if _, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw)); !errors.Is(err, normalize.ErrIgnored) {
		t.Fatalf("expected ErrIgnored for manual invoice, got %v", err)
	}
}

func TestNormalize_InvoiceMergesSubscriptionMetadata(t *testing.T) {
	subs := &fakeSubs{meta: map[string]string{
		"member_id":    "mem_sub",
		"company_name": "ACME",
		"donor_name":   "Sam",
	}}
	n := normalize.New(subs, nil)
	raw := `{
		"id": "in_9",
		"billing_reason": "subscription_cycle",
		"amount_paid": 2300,
		"currency": "gbp",
		"subscription": "sub_1",
		"metadata": {"donor_name": "Invoice Sam"}
	}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subs.calls != 1 {
		t.Errorf("expected one subscription lookup, got %d", subs.calls)
	}
	if ev.Member.ID != "mem_sub" {
		t.Errorf("expected member from subscription, got %+v", ev.Member)
	}
	if ev.DonorName != "Invoice Sam" {
		t.Errorf("invoice metadata should take precedence, got %q", ev.DonorName)
	}
	if ev.NormalizedCompanyName != "Acme Ltd" {
		t.Errorf("unexpected company %q", ev.NormalizedCompanyName)
	}
	if ev.Frequency != event.FrequencyMonthly || ev.DonationKey != "invoice:in_9" {
		t.Errorf("unexpected frequency/key %s/%s", ev.Frequency, ev.DonationKey)
	}
	if ev.DonationPence != 2000 || ev.TotalPaidPence != 2300 {
		t.Errorf("unexpected amounts %+v", ev)
	}
}

func TestNormalize_InvoiceNestedParentShape(t *testing.T) {
	n := normalize.New(nil, nil)
	raw := `{
		"id": "in_10",
		"billing_reason": "subscription_cycle",
		"amount_paid": 1150,
		"currency": "gbp",
		"parent": {"subscription_details": {"subscription": "sub_2", "metadata": {"legacy_member_id": "BIZ-7"}}}
	}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoiceSucceeded, raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Member.LegacyID != "BIZ-7" || ev.Member.ID != "" {
		t.Errorf("expected legacy reference, got %+v", ev.Member)
	}
	if ev.NormalizedCompanyName != event.UnknownCompany {
		t.Errorf("expected sentinel company, got %q", ev.NormalizedCompanyName)
	}
	if ev.DonorName != normalize.AnonymousDonor {
		t.Errorf("expected anonymous donor, got %q", ev.DonorName)
	}
}

func TestNormalize_SubscriptionLookupFailure(t *testing.T) {
	subs := &fakeSubs{err: errors.New("stripe down")}
	n := normalize.New(subs, nil)
	raw := `{"id":"in_3","billing_reason":"subscription_cycle","amount_paid":100,"subscription":"sub_1"}`
	if _, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw)); err == nil {
		t.Fatal("expected lookup failure to surface when no member reference is embedded")
	}

	raw = `{"id":"in_4","billing_reason":"subscription_cycle","amount_paid":100,"subscription":"sub_1","metadata":{"member_id":"mem_1"}}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw))
	if err != nil {
		t.Fatalf("embedded reference should survive lookup failure: %v", err)
	}
	if ev.Member.ID != "mem_1" {
		t.Errorf("unexpected member %+v", ev.Member)
	}
}

func TestNormalize_MissingMember(t *testing.T) {
	n := normalize.New(nil, nil)
	raw := `{"id":"cs_2","mode":"payment","payment_status":"paid","amount_total":500,"metadata":{}}`
	_, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, raw))
	if !errors.Is(err, normalize.ErrMissingMember) {
		t.Fatalf("expected ErrMissingMember, got %v", err)
	}
}

func TestNormalize_ClientReferenceIsLegacyID(t *testing.T) {
	n := normalize.New(nil, nil)
	raw := `{"id":"cs_3","mode":"subscription","payment_status":"paid","amount_total":1150,"client_reference_id":"BIZ-1"}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Member.LegacyID != "BIZ-1" || ev.Frequency != event.FrequencyMonthly {
		t.Errorf("unexpected %+v / %s", ev.Member, ev.Frequency)
	}
}

func TestNormalize_UnpaidAndUnsupported(t *testing.T) {
	n := normalize.New(nil, nil)
	raw := `{"id":"cs_4","mode":"payment","payment_status":"unpaid","amount_total":1150,"metadata":{"member_id":"m"}}`
	if _, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, raw)); !errors.Is(err, normalize.ErrIgnored) {
		t.Errorf("expected unpaid checkout to be ignored, got %v", err)
	}
	if _, err := n.Normalize(context.Background(), testRules(), envelope("charge.refunded", `{}`)); !errors.Is(err, normalize.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutCompleted, `{not json`)); !errors.Is(err, normalize.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestNormalize_AsyncSettlementUsesCheckoutKey(t *testing.T) {
	n := normalize.New(nil, nil)
	if !normalize.Handles(normalize.TypeCheckoutAsyncSucceeded) {
		t.Fatal("async settlement must be handled")
	}
	raw := `{"id":"cs_bacs","mode":"payment","payment_status":"paid","amount_total":1150,"metadata":{"member_id":"mem_1"}}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeCheckoutAsyncSucceeded, raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.DonationKey != "checkout:cs_bacs" || ev.DonationPence != 1000 {
		t.Errorf("unexpected key/amount %s/%d", ev.DonationKey, ev.DonationPence)
	}
}

func TestNormalize_InvoiceMemberReferenceNotMixedAcrossLayers(t *testing.T) {
	subs := &fakeSubs{meta: map[string]string{"member_id": "mem_from_subscription"}}
	n := normalize.New(subs, nil)
	raw := `{
		"id": "in_11",
		"billing_reason": "subscription_cycle",
		"amount_paid": 1150,
		"subscription": "sub_3",
		"metadata": {"legacy_member_id": "BIZ-9"}
	}`
	ev, err := n.Normalize(context.Background(), testRules(), envelope(normalize.TypeInvoicePaid, raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Member.LegacyID != "BIZ-9" || ev.Member.ID != "" {
		t.Errorf("invoice reference should win whole, got %+v", ev.Member)
	}
}
