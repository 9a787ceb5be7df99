package apply_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/donationledger/internal/apply"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

func setup(t *testing.T) (*apply.Applier, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	store.PutMember(ledger.Member{ID: "mem_1", Slug: "amira"})
	return apply.New(store, nil), store
}

func tenPounds() event.DonationEvent {
	return event.DonationEvent{
		DonationKey:      "checkout:cs_1",
		Source:           event.SourceCheckoutSession,
		Frequency:        event.FrequencyOneTime,
		Member:           event.MemberRef{ID: "mem_1"},
		DonationPence:    1000,
		PlatformFeePence: 150,
		TotalPaidPence:   1150,
		EventCreatedAt:   time.Now(),
	}
}

func TestApply_CreditsOnce(t *testing.T) {
	a, store := setup(t)
	ctx := context.Background()

	res, err := a.Apply(ctx, tenPounds(), 10, 15)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(900), res.Member.SpendableBalancePence)
	assert.Equal(t, int64(100), res.Member.SavingsPence)
	assert.Contains(t, res.Paths, "/members/amira")
	assert.Contains(t, res.Paths, "/leaderboard")

	res, err = a.Apply(ctx, tenPounds(), 10, 15)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, res.Paths, "no invalidation when nothing changed")

	mem, err := store.ResolveMember(ctx, event.MemberRef{ID: "mem_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(900), mem.SpendableBalancePence)
	assert.Equal(t, int64(100), mem.SavingsPence)
	assert.Equal(t, int64(1000), mem.LifetimeRaisedPence)
}

func TestApply_IgnoresUntrustedSplit(t *testing.T) {
	a, _ := setup(t)
	ev := tenPounds()
	ev.SavingsPence = 0
	ev.SpendablePence = 1000 // claims no savings set-aside

	res, err := a.Apply(context.Background(), ev, 10, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Event.SavingsPence)
	assert.Equal(t, int64(900), res.Event.SpendablePence)
}

func TestApply_RejectsInconsistentTotals(t *testing.T) {
	a, _ := setup(t)
	ev := tenPounds()
	ev.TotalPaidPence = 500

	_, err := a.Apply(context.Background(), ev, 10, 15)
	require.ErrorIs(t, err, apply.ErrInvalidAmounts)

	ev = tenPounds()
	ev.DonationKey = ""
	_, err = a.Apply(context.Background(), ev, 10, 15)
	require.ErrorIs(t, err, apply.ErrInvalidAmounts)
}

func TestApply_UnresolvableMember(t *testing.T) {
	a, store := setup(t)
	ev := tenPounds()
	ev.Member = event.MemberRef{LegacyID: "nobody"}

	_, err := a.Apply(context.Background(), ev, 10, 15)
	require.ErrorIs(t, err, ledger.ErrMemberNotFound)

	rows, _ := store.Donations(context.Background(), ledger.DonationFilter{})
	assert.Empty(t, rows)
}
