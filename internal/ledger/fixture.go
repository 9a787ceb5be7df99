package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/allocation"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

// FixtureSavingsPercent and FixtureFeePercent are the rates the fixture
// donations were allocated with.
const (
	FixtureSavingsPercent = 10
	FixtureFeePercent     = 15
)

type fixtureDonation struct {
	key     string
	member  string
	pence   int64
	company string
	freq    event.Frequency
	donor   string
	at      time.Time
}

var fixtureMembers = []Member{
	{ID: "mem_amira", LegacyID: "BIZ-001", Slug: "amira", DisplayName: "Amira"},
	{ID: "mem_dan", LegacyID: "BIZ-002", Slug: "dan", DisplayName: "Dan"},
	{ID: "mem_leah", LegacyID: "BIZ-003", Slug: "leah", DisplayName: "Leah"},
}

func fixtureDonations() []fixtureDonation {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 12, 0, 0, 0, time.UTC) }
	return []fixtureDonation{
		{"checkout:cs_fixture_01", "mem_amira", 1000, "Acme Ltd", event.FrequencyOneTime, "Sam", d(2026, 1, 3)},
		{"checkout:cs_fixture_02", "mem_dan", 2500, "Northwind", event.FrequencyOneTime, "Anonymous", d(2026, 1, 9)},
		{"checkout:cs_fixture_03", "mem_amira", 500, event.UnknownCompany, event.FrequencyMonthly, "Priya", d(2026, 1, 15)},
		{"invoice:in_fixture_01", "mem_amira", 500, event.UnknownCompany, event.FrequencyMonthly, "Priya", d(2026, 2, 15)},
		{"checkout:cs_fixture_04", "mem_leah", 5000, "Acme Ltd", event.FrequencyOneTime, "Jordan", d(2026, 2, 20)},
		{"checkout:cs_fixture_05", "mem_dan", 1500, "Northwind", event.FrequencyOneTime, "Anonymous", d(2026, 3, 1)},
		{"invoice:in_fixture_02", "mem_amira", 500, event.UnknownCompany, event.FrequencyMonthly, "Priya", d(2026, 3, 15)},
	}
}

// SeedFixture loads a fixed demo dataset through the normal apply path, so
// member totals are built the same way live donations build them.
func SeedFixture(ctx context.Context, m *Memory) error {
	for _, mem := range fixtureMembers {
		m.PutMember(mem)
	}
	for _, fd := range fixtureDonations() {
		split := allocation.Allocate(fd.pence, FixtureSavingsPercent, FixtureFeePercent)
		src := event.SourceCheckoutSession
		if strings.HasPrefix(fd.key, "invoice:") {
			src = event.SourceInvoice
		}
		ev := &event.DonationEvent{
			DonationKey:           fd.key,
			Source:                src,
			Frequency:             fd.freq,
			Member:                event.MemberRef{ID: fd.member},
			DonationPence:         split.DonationPence,
			SavingsPence:          split.SavingsPence,
			SpendablePence:        split.SpendablePence,
			PlatformFeePence:      split.PlatformFeePence,
			TotalPaidPence:        split.TotalPaidPence,
			Currency:              "GBP",
			CompanyName:           fd.company,
			NormalizedCompanyName: fd.company,
			DonorName:             fd.donor,
			EventCreatedAt:        fd.at,
		}
		if _, err := m.ApplyDonation(ctx, ev); err != nil {
			return fmt.Errorf("seed %s: %w", fd.key, err)
		}
	}
	return nil
}
