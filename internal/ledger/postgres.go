package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

const uniqueViolation = "23505"

// PoolOptions tunes the database/sql connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ReclaimAfter    time.Duration
}

// Postgres is the durable Store.
type Postgres struct {
	db           *sql.DB
	reclaimAfter time.Duration
	now          func() time.Time
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts PoolOptions) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(db, opts.ReclaimAfter), nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sql.DB, reclaimAfter time.Duration) *Postgres {
	if reclaimAfter <= 0 {
		reclaimAfter = DefaultReclaimAfter
	}
	return &Postgres{db: db, reclaimAfter: reclaimAfter, now: time.Now}
}

// EnsureSchema creates tables, indexes and the replay view.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *Postgres) BeginEnvelope(ctx context.Context, rec event.EnvelopeRecord) (Claim, error) {
	now := p.now().UTC()
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO webhook_events (event_id, event_type, livemode, status, received_at)
        VALUES ($1, $2, $3, 'processing', $4)
    `, rec.EventID, rec.EventType, rec.Livemode, now)
	if err == nil {
		return ClaimFirst, nil
	}
	if !isUniqueViolation(err) {
		return ClaimDuplicate, fmt.Errorf("insert envelope %s: %w", rec.EventID, err)
	}

	// Redelivery. Take over failed rows and abandoned processing claims.
	var id string
	err = p.db.QueryRowContext(ctx, `
        UPDATE webhook_events
        SET status = 'processing', received_at = $2, processed_at = NULL, error_message = ''
        WHERE event_id = $1
          AND (status = 'failed' OR (status = 'processing' AND received_at < $3))
        RETURNING event_id
    `, rec.EventID, now, now.Add(-p.reclaimAfter)).Scan(&id)
	if err == nil {
		return ClaimReclaimed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ClaimDuplicate, fmt.Errorf("reclaim envelope %s: %w", rec.EventID, err)
	}

	var status string
	if err := p.db.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE event_id = $1`, rec.EventID).Scan(&status); err != nil {
		return ClaimDuplicate, fmt.Errorf("read envelope %s: %w", rec.EventID, err)
	}
	if event.EnvelopeStatus(status) == event.StatusProcessing {
		return ClaimDuplicate, ErrEnvelopeInFlight
	}
	return ClaimDuplicate, nil
}

func (p *Postgres) FinishEnvelope(ctx context.Context, eventID string, status event.EnvelopeStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish envelope %s: %q is not terminal", eventID, status)
	}
	res, err := p.db.ExecContext(ctx, `
        UPDATE webhook_events
        SET status = $2, processed_at = $3, error_message = $4
        WHERE event_id = $1
    `, eventID, string(status), p.now().UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("finish envelope %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish envelope %s: not found", eventID)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const memberColumns = `id, COALESCE(legacy_id, ''), slug, display_name,
    spendable_balance_pence, savings_pence, lifetime_raised_pence, updated_at`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.LegacyID, &m.Slug, &m.DisplayName,
		&m.SpendableBalancePence, &m.SavingsPence, &m.LifetimeRaisedPence, &m.UpdatedAt)
	return m, err
}

// resolveMember prefers the durable ID and falls back to the legacy ID.
func resolveMember(ctx context.Context, q queryRower, ref event.MemberRef) (Member, error) {
	try := func(col, val string) (Member, error) {
		return scanMember(q.QueryRowContext(ctx,
			`SELECT `+memberColumns+` FROM members WHERE `+col+` = $1`, val))
	}
	for _, c := range []struct{ col, val string }{{"id", ref.ID}, {"legacy_id", ref.LegacyID}} {
		if c.val == "" {
			continue
		}
		m, err := try(c.col, c.val)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Member{}, fmt.Errorf("resolve member %s: %w", ref, err)
		}
	}
	return Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, ref)
}

func (p *Postgres) ResolveMember(ctx context.Context, ref event.MemberRef) (Member, error) {
	return resolveMember(ctx, p.db, ref)
}

func (p *Postgres) ApplyDonation(ctx context.Context, ev *event.DonationEvent) (ApplyResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	mem, err := resolveMember(ctx, tx, ev.Member)
	if err != nil {
		return ApplyResult{}, err
	}

	var rowID string
	err = tx.QueryRowContext(ctx, `
        INSERT INTO donations (
            id, donation_key, source, frequency, member_id,
            donation_pence, savings_pence, spendable_pence, platform_fee_pence, total_paid_pence,
            currency, company_name, normalized_company_name, wishlist_item_code,
            donor_name, message, donor_email, notify_email, event_created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
        ON CONFLICT (donation_key) DO NOTHING
        RETURNING id
    `, uuid.New(), ev.DonationKey, string(ev.Source), string(ev.Frequency), mem.ID,
		ev.DonationPence, ev.SavingsPence, ev.SpendablePence, ev.PlatformFeePence, ev.TotalPaidPence,
		ev.Currency, ev.CompanyName, ev.NormalizedCompanyName, ev.WishlistItemCode,
		ev.DonorName, ev.Message, ev.DonorEmail, ev.NotifyEmail, ev.EventCreatedAt.UTC(),
	).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return ApplyResult{}, fmt.Errorf("commit: %w", err)
		}
		return ApplyResult{Applied: false, Member: mem}, nil
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("insert donation %s: %w", ev.DonationKey, err)
	}

	mem, err = scanMember(tx.QueryRowContext(ctx, `
        UPDATE members SET
            spendable_balance_pence = spendable_balance_pence + $2,
            savings_pence           = savings_pence + $3,
            lifetime_raised_pence   = lifetime_raised_pence + $4,
            updated_at              = now()
        WHERE id = $1
        RETURNING `+memberColumns,
		mem.ID, ev.SpendablePence, ev.SavingsPence, ev.DonationPence))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("credit member %s: %w", mem.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("commit: %w", err)
	}
	return ApplyResult{Applied: true, Member: mem}, nil
}

func (p *Postgres) Donations(ctx context.Context, f DonationFilter) ([]event.DonationEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.MemberID != "" {
		args = append(args, f.MemberID)
		where = append(where, fmt.Sprintf("member_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		where = append(where, fmt.Sprintf("event_created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		where = append(where, fmt.Sprintf("event_created_at < $%d", len(args)))
	}
	query := `
        SELECT d.donation_key, d.source, d.frequency, d.member_id, COALESCE(m.legacy_id, ''),
               d.donation_pence, d.savings_pence, d.spendable_pence, d.platform_fee_pence, d.total_paid_pence,
               d.currency, d.company_name, d.normalized_company_name, d.wishlist_item_code,
               d.donor_name, d.message, d.donor_email, d.notify_email, d.event_created_at
        FROM donations d JOIN members m ON m.id = d.member_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY d.event_created_at, d.donation_key"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	var out []event.DonationEvent
	for rows.Next() {
		var (
			ev           event.DonationEvent
			source, freq string
		)
		if err := rows.Scan(&ev.DonationKey, &source, &freq, &ev.Member.ID, &ev.Member.LegacyID,
			&ev.DonationPence, &ev.SavingsPence, &ev.SpendablePence, &ev.PlatformFeePence, &ev.TotalPaidPence,
			&ev.Currency, &ev.CompanyName, &ev.NormalizedCompanyName, &ev.WishlistItemCode,
			&ev.DonorName, &ev.Message, &ev.DonorEmail, &ev.NotifyEmail, &ev.EventCreatedAt); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		ev.Source = event.Source(source)
		ev.Frequency = event.Frequency(freq)
		ev.EventCreatedAt = ev.EventCreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) Members(ctx context.Context) ([]Member, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) Envelopes(ctx context.Context, f EnvelopeFilter) ([]event.EnvelopeRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT event_id, event_type, livemode, status, received_at, processed_at, error_message FROM webhook_events`
	args := []any{}
	if f.Status != "" {
		query += " WHERE status = $1"
		args = append(args, string(f.Status))
	}
	query += fmt.Sprintf(" ORDER BY received_at DESC, event_id LIMIT %d", limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()
	var out []event.EnvelopeRecord
	for rows.Next() {
		var (
			rec       event.EnvelopeRecord
			status    string
			processed sql.NullTime
		)
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.Livemode, &status, &rec.ReceivedAt, &processed, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		rec.Status = event.EnvelopeStatus(status)
		if processed.Valid {
			t := processed.Time
			rec.ProcessedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) EnvelopeStats(ctx context.Context, since time.Time) (EnvelopeStats, error) {
	var (
		st   EnvelopeStats
		last sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
        SELECT MAX(received_at),
               COUNT(*) FILTER (WHERE status = 'failed' AND received_at >= $1),
               COUNT(*) FILTER (WHERE status = 'processing')
        FROM webhook_events
    `, since.UTC()).Scan(&last, &st.FailedSince, &st.InFlight)
	if err != nil {
		return st, fmt.Errorf("envelope stats: %w", err)
	}
	if last.Valid {
		st.LastReceivedAt = last.Time
	}
	return st, nil
}

// ReplayDrift lists members whose stored totals differ from a replay of the
// ledger, computed by the database.
func (p *Postgres) ReplayDrift(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT m.id FROM members m JOIN member_balance_replay r ON r.member_id = m.id
        WHERE m.spendable_balance_pence <> r.spendable_pence
           OR m.savings_pence <> r.savings_pence
           OR m.lifetime_raised_pence <> r.lifetime_raised_pence
        ORDER BY m.id
    `)
	if err != nil {
		return nil, fmt.Errorf("replay drift: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
