package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

func donation(key, memberID string, pence int64, at time.Time) *event.DonationEvent {
	savings := pence / 10
	return &event.DonationEvent{
		DonationKey:           key,
		Source:                event.SourceCheckoutSession,
		Frequency:             event.FrequencyOneTime,
		Member:                event.MemberRef{ID: memberID},
		DonationPence:         pence,
		SavingsPence:          savings,
		SpendablePence:        pence - savings,
		TotalPaidPence:        pence,
		Currency:              "GBP",
		NormalizedCompanyName: event.UnknownCompany,
		DonorName:             "Anonymous",
		EventCreatedAt:        at,
	}
}

func newStore(t *testing.T, opts ...ledger.MemoryOption) *ledger.Memory {
	t.Helper()
	m := ledger.NewMemory(opts...)
	m.PutMember(ledger.Member{ID: "mem_1", LegacyID: "BIZ-1", Slug: "one"})
	m.PutMember(ledger.Member{ID: "mem_2", Slug: "two"})
	return m
}

func TestMemory_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ev := donation("checkout:cs_1", "mem_1", 1000, time.Now())

	res, err := s.ApplyDonation(ctx, ev)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(900), res.Member.SpendableBalancePence)
	assert.Equal(t, int64(100), res.Member.SavingsPence)
	assert.Equal(t, int64(1000), res.Member.LifetimeRaisedPence)

	res, err = s.ApplyDonation(ctx, ev)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(1000), res.Member.LifetimeRaisedPence)

	rows, err := s.Donations(ctx, ledger.DonationFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMemory_ConcurrentApplyCreditsOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ev := donation("invoice:in_1", "mem_1", 2500, time.Now())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ApplyDonation(ctx, ev)
			if err == nil && res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	mem, err := s.ResolveMember(ctx, event.MemberRef{ID: "mem_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), mem.LifetimeRaisedPence)
}

func TestMemory_LegacyResolutionAndMissingMember(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ev := donation("checkout:cs_2", "", 500, time.Now())
	ev.Member = event.MemberRef{LegacyID: "BIZ-1"}
	res, err := s.ApplyDonation(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "mem_1", res.Member.ID)

	ghost := donation("checkout:cs_3", "mem_ghost", 500, time.Now())
	_, err = s.ApplyDonation(ctx, ghost)
	require.ErrorIs(t, err, ledger.ErrMemberNotFound)

	rows, _ := s.Donations(ctx, ledger.DonationFilter{})
	assert.Len(t, rows, 1, "unresolvable donation must not be recorded")
	members, _ := s.Members(ctx)
	var total int64
	for _, m := range members {
		total += m.LifetimeRaisedPence
	}
	assert.Equal(t, int64(500), total)
}

func TestMemory_EnvelopeLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newStore(t, ledger.WithClock(func() time.Time { return now }), ledger.WithReclaimAfter(time.Minute))
	rec := event.EnvelopeRecord{EventID: "evt_1", EventType: "checkout.session.completed"}

	claim, err := s.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimFirst, claim)

	_, err = s.BeginEnvelope(ctx, rec)
	require.ErrorIs(t, err, ledger.ErrEnvelopeInFlight)

	require.NoError(t, s.FinishEnvelope(ctx, "evt_1", event.StatusFailed, "boom"))
	claim, err = s.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimReclaimed, claim, "failed envelopes are retried on redelivery")

	require.NoError(t, s.FinishEnvelope(ctx, "evt_1", event.StatusProcessed, ""))
	claim, err = s.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimDuplicate, claim)
	assert.False(t, claim.Owned())

	require.Error(t, s.FinishEnvelope(ctx, "evt_1", event.StatusProcessing, ""))
	require.Error(t, s.FinishEnvelope(ctx, "evt_missing", event.StatusProcessed, ""))
}

func TestMemory_AbandonedClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newStore(t, ledger.WithClock(func() time.Time { return now }), ledger.WithReclaimAfter(time.Minute))
	rec := event.EnvelopeRecord{EventID: "evt_2", EventType: "invoice.paid"}

	_, err := s.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	claim, err := s.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimReclaimed, claim)
}

func TestMemory_EnvelopeStatsAndListing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	s := newStore(t, ledger.WithClock(func() time.Time { return now }))

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.BeginEnvelope(ctx, event.EnvelopeRecord{EventID: id, EventType: "x"})
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	require.NoError(t, s.FinishEnvelope(ctx, "a", event.StatusFailed, "bad"))
	require.NoError(t, s.FinishEnvelope(ctx, "b", event.StatusProcessed, ""))

	st, err := s.EnvelopeStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedSince)
	assert.Equal(t, 1, st.InFlight)
	assert.Equal(t, now.Add(-time.Second), st.LastReceivedAt)

	failed, err := s.Envelopes(ctx, ledger.EnvelopeFilter{Status: event.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ErrorMessage)

	all, err := s.Envelopes(ctx, ledger.EnvelopeFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].EventID, "newest first")
}

func TestMemory_DonationFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	for _, ev := range []*event.DonationEvent{
		donation("k1", "mem_1", 100, feb),
		donation("k2", "mem_2", 200, jan),
		donation("k3", "mem_1", 300, jan),
	} {
		_, err := s.ApplyDonation(ctx, ev)
		require.NoError(t, err)
	}

	rows, err := s.Donations(ctx, ledger.DonationFilter{MemberID: "mem_1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "k3", rows[0].DonationKey, "ordered by event time")

	rows, err = s.Donations(ctx, ledger.DonationFilter{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "k1", rows[0].DonationKey)
}

func TestSeedFixture_TotalsMatchLedger(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemory()
	require.NoError(t, ledger.SeedFixture(ctx, s))

	members, err := s.Members(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, members)
	for _, m := range members {
		rows, err := s.Donations(ctx, ledger.DonationFilter{MemberID: m.ID})
		require.NoError(t, err)
		var sum int64
		for _, r := range rows {
			sum += r.DonationPence
		}
		assert.Equal(t, sum, m.LifetimeRaisedPence, "member %s", m.ID)
	}
}

func TestOpen_MemoryWithFixture(t *testing.T) {
	s, err := ledger.Open(context.Background(), config.StoreConf{Driver: config.DriverMemory, SeedFixture: true}, "", nil)
	require.NoError(t, err)
	members, err := s.Members(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 3)

	_, err = ledger.Open(context.Background(), config.StoreConf{Driver: config.DriverPostgres}, "", nil)
	assert.Error(t, err)
	_, err = ledger.Open(context.Background(), config.StoreConf{Driver: "sqlite"}, "", nil)
	assert.Error(t, err)
}
