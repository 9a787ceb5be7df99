// Package projection derives read models from applied donation rows.
// Every function is pure: the same rows produce the same output whether they
// came from Postgres or the in-memory fixture.
package projection

import (
	"fmt"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

// Balance is one member's totals replayed from the ledger.
type Balance struct {
	MemberID            string `json:"member_id"`
	LifetimeRaisedPence int64  `json:"lifetime_raised_pence"`
	SavingsPence        int64  `json:"savings_pence"`
	SpendablePence      int64  `json:"spendable_pence"`
	Donations           int    `json:"donations"`
}

// LeaderboardEntry is one company's standing.
type LeaderboardEntry struct {
	Rank            int       `json:"rank"`
	Company         string    `json:"company"`
	TotalPence      int64     `json:"total_pence"`
	Donations       int       `json:"donations"`
	FirstDonationAt time.Time `json:"first_donation_at"`
}

// MonthlyRow aggregates one calendar month (UTC) of event creation time.
type MonthlyRow struct {
	Month             string `json:"month"` // YYYY-MM
	Donations         int    `json:"donations"`
	OneTime           int    `json:"one_time"`
	Recurring         int    `json:"recurring"`
	DonationPence     int64  `json:"donation_pence"`
	SavingsPence      int64  `json:"savings_pence"`
	SpendablePence    int64  `json:"spendable_pence"`
	PlatformFeePence  int64  `json:"platform_fee_pence"`
	GrossPence        int64  `json:"gross_pence"`
	NetToMembersPence int64  `json:"net_to_members_pence"`
}

// SavingsEntry is one savings increment with the running total after it.
type SavingsEntry struct {
	DonationKey       string    `json:"donation_key"`
	At                time.Time `json:"at"`
	DonationPence     int64     `json:"donation_pence"`
	SavingsPence      int64     `json:"savings_pence"`
	RunningTotalPence int64     `json:"running_total_pence"`
}

// Drift is a mismatch between a live member aggregate and its replay.
type Drift struct {
	MemberID string `json:"member_id"`
	Field    string `json:"field"`
	Live     int64  `json:"live"`
	Replayed int64  `json:"replayed"`
}

// MonthLayout formats month keys.
const MonthLayout = "2006-01"

// Month returns the UTC calendar month of t as YYYY-MM.
func Month(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// ParseMonth validates a YYYY-MM key.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("month %q: want YYYY-MM", s)
	}
	return t, nil
}

// InMonth keeps rows whose event time falls in month (YYYY-MM, UTC).
func InMonth(rows []event.DonationEvent, month string) []event.DonationEvent {
	var out []event.DonationEvent
	for _, r := range rows {
		if Month(r.EventCreatedAt) == month {
			out = append(out, r)
		}
	}
	return out
}

// MemberBalance replays one member's totals.
func MemberBalance(memberID string, rows []event.DonationEvent) Balance {
	b := Balance{MemberID: memberID}
	for _, r := range rows {
		if r.Member.ID != memberID {
			continue
		}
		b.add(r)
	}
	return b
}

// Balances replays every member appearing in rows.
func Balances(rows []event.DonationEvent) map[string]Balance {
	out := make(map[string]Balance)
	for _, r := range rows {
		b := out[r.Member.ID]
		b.MemberID = r.Member.ID
		b.add(r)
		out[r.Member.ID] = b
	}
	return out
}

func (b *Balance) add(r event.DonationEvent) {
	b.LifetimeRaisedPence += r.DonationPence
	b.SavingsPence += r.SavingsPence
	b.SpendablePence += r.SpendablePence
	b.Donations++
}

// Leaderboard ranks companies by total donated, excluding the
// Unknown/Other bucket. Ties go to the company whose first donation came
// earlier, then to name order. limit <= 0 returns every company.
//
// normalize, when non-nil, re-derives each row's company from the raw name
// it was given with, so aliases added since the donation was recorded are
// honoured. A nil normalize ranks by the name stored at write time.
func Leaderboard(rows []event.DonationEvent, limit int, normalize func(string) string) []LeaderboardEntry {
	byCompany := make(map[string]*LeaderboardEntry)
	for _, r := range rows {
		name := r.NormalizedCompanyName
		if normalize != nil {
			raw := r.CompanyName
			if raw == "" {
				raw = name
			}
			name = normalize(raw)
		}
		if name == "" || name == event.UnknownCompany {
			continue
		}
		e, ok := byCompany[name]
		if !ok {
			e = &LeaderboardEntry{Company: name, FirstDonationAt: r.EventCreatedAt.UTC()}
			byCompany[name] = e
		}
		e.TotalPence += r.DonationPence
		e.Donations++
		if at := r.EventCreatedAt.UTC(); at.Before(e.FirstDonationAt) {
			e.FirstDonationAt = at
		}
	}

	out := make([]LeaderboardEntry, 0, len(byCompany))
	for _, e := range byCompany {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalPence != b.TotalPence {
			return a.TotalPence > b.TotalPence
		}
		if !a.FirstDonationAt.Equal(b.FirstDonationAt) {
			return a.FirstDonationAt.Before(b.FirstDonationAt)
		}
		return a.Company < b.Company
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// MonthlyReconciliation buckets rows by the month the provider created the
// event, oldest month first.
func MonthlyReconciliation(rows []event.DonationEvent) []MonthlyRow {
	byMonth := make(map[string]*MonthlyRow)
	for _, r := range rows {
		key := Month(r.EventCreatedAt)
		m, ok := byMonth[key]
		if !ok {
			m = &MonthlyRow{Month: key}
			byMonth[key] = m
		}
		m.Donations++
		if r.Frequency == event.FrequencyMonthly {
			m.Recurring++
		} else {
			m.OneTime++
		}
		m.DonationPence += r.DonationPence
		m.SavingsPence += r.SavingsPence
		m.SpendablePence += r.SpendablePence
		m.PlatformFeePence += r.PlatformFeePence
		m.GrossPence += r.TotalPaidPence
		m.NetToMembersPence += r.SpendablePence + r.SavingsPence
	}
	out := make([]MonthlyRow, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// SavingsLedger lists a member's savings increments in event order with a
// running total. The final running total equals the member's savings balance.
func SavingsLedger(memberID string, rows []event.DonationEvent) []SavingsEntry {
	mine := make([]event.DonationEvent, 0, len(rows))
	for _, r := range rows {
		if r.Member.ID == memberID {
			mine = append(mine, r)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		a, b := mine[i].EventCreatedAt, mine[j].EventCreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return mine[i].DonationKey < mine[j].DonationKey
	})

	out := make([]SavingsEntry, 0, len(mine))
	var running int64
	for _, r := range mine {
		running += r.SavingsPence
		out = append(out, SavingsEntry{
			DonationKey:       r.DonationKey,
			At:                r.EventCreatedAt.UTC(),
			DonationPence:     r.DonationPence,
			SavingsPence:      r.SavingsPence,
			RunningTotalPence: running,
		})
	}
	return out
}

// Verify compares live member aggregates with a from-scratch replay of rows.
// Rows whose member is not in members are reported with Field "member".
func Verify(members []ledger.Member, rows []event.DonationEvent) []Drift {
	replayed := Balances(rows)
	var out []Drift
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
		b := replayed[m.ID]
		check := func(field string, live, replay int64) {
			if live != replay {
				out = append(out, Drift{MemberID: m.ID, Field: field, Live: live, Replayed: replay})
			}
		}
		check("lifetime_raised_pence", m.LifetimeRaisedPence, b.LifetimeRaisedPence)
		check("savings_pence", m.SavingsPence, b.SavingsPence)
		check("spendable_balance_pence", m.SpendableBalancePence, b.SpendablePence)
	}
	orphans := make([]string, 0)
	for id := range replayed {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		out = append(out, Drift{MemberID: id, Field: "member", Replayed: replayed[id].LifetimeRaisedPence})
	}
	return out
}
