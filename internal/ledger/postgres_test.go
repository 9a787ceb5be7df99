package ledger_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

// openTestPostgres connects to TEST_DATABASE_URL or skips.
func openTestPostgres(t *testing.T) (*ledger.Postgres, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := ledger.OpenPostgres(ctx, dsn, ledger.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	require.NoError(t, p.EnsureSchema(ctx))

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return p, db
}

func TestPostgres_ApplyOnceUnderConcurrency(t *testing.T) {
	p, db := openTestPostgres(t)
	ctx := context.Background()

	memberID := "mem_" + uuid.NewString()
	_, err := db.ExecContext(ctx, `INSERT INTO members (id, slug) VALUES ($1, $1)`, memberID)
	require.NoError(t, err)

	ev := donation("checkout:"+uuid.NewString(), memberID, 1000, time.Now().UTC())
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ApplyDonation(ctx, ev)
			assert.NoError(t, err)
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	mem, err := p.ResolveMember(ctx, event.MemberRef{ID: memberID})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), mem.LifetimeRaisedPence)
	assert.Equal(t, int64(900), mem.SpendableBalancePence)

	drift, err := p.ReplayDrift(ctx)
	require.NoError(t, err)
	assert.NotContains(t, drift, memberID)
}

func TestPostgres_EnvelopeUniqueness(t *testing.T) {
	p, _ := openTestPostgres(t)
	ctx := context.Background()
	rec := event.EnvelopeRecord{EventID: "evt_" + uuid.NewString(), EventType: "invoice.paid"}

	claim, err := p.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimFirst, claim)

	_, err = p.BeginEnvelope(ctx, rec)
	require.ErrorIs(t, err, ledger.ErrEnvelopeInFlight)

	require.NoError(t, p.FinishEnvelope(ctx, rec.EventID, event.StatusProcessed, ""))
	claim, err = p.BeginEnvelope(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimDuplicate, claim)
}

func TestPostgres_UnknownMemberLeavesNoRow(t *testing.T) {
	p, _ := openTestPostgres(t)
	ctx := context.Background()
	ev := donation("checkout:"+uuid.NewString(), "mem_missing_"+uuid.NewString(), 500, time.Now().UTC())

	_, err := p.ApplyDonation(ctx, ev)
	require.ErrorIs(t, err, ledger.ErrMemberNotFound)

	rows, err := p.Donations(ctx, ledger.DonationFilter{MemberID: ev.Member.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
