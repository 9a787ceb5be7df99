// Package allocation splits a gross donation into savings, spendable and
// platform-fee buckets. All amounts are integer minor currency units.
package allocation

import "math"

// Split is the result of allocating one donation.
type Split struct {
	DonationPence    int64 `json:"donation_pence"`
	SavingsPence     int64 `json:"savings_pence"`
	SpendablePence   int64 `json:"spendable_pence"`
	PlatformFeePence int64 `json:"platform_fee_pence"`
	TotalPaidPence   int64 `json:"total_paid_pence"`
}

// Allocate computes the split for donationPence. Percentages are clamped to
// [0, 100] and negative donations are treated as zero. Spendable is derived
// by subtraction so savings + spendable always equals the donation.
func Allocate(donationPence int64, savingsPercent, feePercent float64) Split {
	if donationPence < 0 {
		donationPence = 0
	}
	savings := percentOf(donationPence, savingsPercent)
	fee := percentOf(donationPence, feePercent)
	return Split{
		DonationPence:    donationPence,
		SavingsPence:     savings,
		SpendablePence:   donationPence - savings,
		PlatformFeePence: fee,
		TotalPaidPence:   donationPence + fee,
	}
}

// FromCharged inverts the fee: given the total the provider actually charged,
// it finds the largest donation whose allocated total does not exceed it.
// The fee is then whatever remains, so TotalPaidPence == chargedPence.
func FromCharged(chargedPence int64, savingsPercent, feePercent float64) Split {
	if chargedPence <= 0 {
		return Allocate(0, savingsPercent, feePercent)
	}
	fee := clamp(feePercent)
	guess := int64(math.Round(float64(chargedPence) * 100 / (100 + fee)))
	d := guess + 2
	if d > chargedPence {
		d = chargedPence
	}
	for d > 0 && d+percentOf(d, fee) > chargedPence {
		d--
	}
	s := Allocate(d, savingsPercent, feePercent)
	s.PlatformFeePence = chargedPence - d
	s.TotalPaidPence = chargedPence
	return s
}

func percentOf(amount int64, percent float64) int64 {
	return int64(math.Round(float64(amount) * clamp(percent) / 100))
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
