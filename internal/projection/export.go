package projection

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

// Column schemas for delimited exports. Column order is part of the export
// contract: new columns are appended, existing ones never move or change.
var (
	BalanceColumns = []string{
		"member_id", "lifetime_raised_pence", "savings_pence", "spendable_pence", "donations",
	}
	LeaderboardColumns = []string{
		"rank", "company", "total_pence", "donations", "first_donation_at",
	}
	MonthlyColumns = []string{
		"month", "donations", "one_time", "recurring",
		"donation_pence", "savings_pence", "spendable_pence", "platform_fee_pence",
		"gross_pence", "net_to_members_pence",
	}
	SavingsColumns = []string{
		"donation_key", "at", "donation_pence", "savings_pence", "running_total_pence",
	}
	DonationColumns = []string{
		"donation_key", "event_created_at", "source", "frequency", "member_id", "company",
		"donation_pence", "savings_pence", "spendable_pence", "platform_fee_pence", "total_paid_pence", "currency",
	}
)

// Recorder is a row that renders itself in its schema's column order.
type Recorder interface {
	Record() []string
}

func (b Balance) Record() []string {
	return []string{text(b.MemberID), i64(b.LifetimeRaisedPence), i64(b.SavingsPence), i64(b.SpendablePence), strconv.Itoa(b.Donations)}
}

func (e LeaderboardEntry) Record() []string {
	return []string{strconv.Itoa(e.Rank), text(e.Company), i64(e.TotalPence), strconv.Itoa(e.Donations), e.FirstDonationAt.UTC().Format(time.RFC3339)}
}

func (m MonthlyRow) Record() []string {
	return []string{
		m.Month, strconv.Itoa(m.Donations), strconv.Itoa(m.OneTime), strconv.Itoa(m.Recurring),
		i64(m.DonationPence), i64(m.SavingsPence), i64(m.SpendablePence), i64(m.PlatformFeePence),
		i64(m.GrossPence), i64(m.NetToMembersPence),
	}
}

func (s SavingsEntry) Record() []string {
	return []string{text(s.DonationKey), s.At.UTC().Format(time.RFC3339), i64(s.DonationPence), i64(s.SavingsPence), i64(s.RunningTotalPence)}
}

// DonationLine is one ledger row in reconciliation exports. Donor name,
// message and email are deliberately absent.
type DonationLine struct {
	event.DonationEvent
}

// DonationLines wraps rows for export.
func DonationLines(rows []event.DonationEvent) []DonationLine {
	out := make([]DonationLine, len(rows))
	for i, r := range rows {
		out[i] = DonationLine{r}
	}
	return out
}

func (d DonationLine) Record() []string {
	return []string{
		text(d.DonationKey), d.EventCreatedAt.UTC().Format(time.RFC3339), string(d.Source), string(d.Frequency),
		text(d.Member.ID), text(d.NormalizedCompanyName),
		i64(d.DonationPence), i64(d.SavingsPence), i64(d.SpendablePence), i64(d.PlatformFeePence),
		i64(d.TotalPaidPence), d.Currency,
	}
}

// WriteCSV writes header then one record per row.
func WriteCSV[T Recorder](w io.Writer, header []string, rows []T) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	return nil
}

func i64(v int64) string { return strconv.FormatInt(v, 10) }

// text renders a free-text cell so spreadsheets never evaluate it as a
// formula.
func text(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
