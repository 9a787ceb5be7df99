package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

// Memory is a Store kept entirely in process. It backs tests and the
// no-database fallback; its mutex stands in for the database's unique
// constraints and transactions.
type Memory struct {
	mu           sync.Mutex
	members      map[string]*Member
	legacy       map[string]string // legacy ID -> member ID
	donations    []memoryDonation
	keys         map[string]struct{}
	envelopes    map[string]*event.EnvelopeRecord
	reclaimAfter time.Duration
	now          func() time.Time
}

type memoryDonation struct {
	memberID string
	ev       event.DonationEvent
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the store clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithReclaimAfter overrides how long processing claims are honoured.
func WithReclaimAfter(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.reclaimAfter = d
		}
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		members:      make(map[string]*Member),
		legacy:       make(map[string]string),
		keys:         make(map[string]struct{}),
		envelopes:    make(map[string]*event.EnvelopeRecord),
		reclaimAfter: DefaultReclaimAfter,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// PutMember inserts or replaces a member row, including its totals.
func (m *Memory) PutMember(mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := mem
	m.members[mem.ID] = &cp
	if mem.LegacyID != "" {
		m.legacy[mem.LegacyID] = mem.ID
	}
}

func (m *Memory) BeginEnvelope(_ context.Context, rec event.EnvelopeRecord) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existing, ok := m.envelopes[rec.EventID]
	if !ok {
		rec.Status = event.StatusProcessing
		rec.ReceivedAt = now
		rec.ProcessedAt = nil
		rec.ErrorMessage = ""
		m.envelopes[rec.EventID] = &rec
		return ClaimFirst, nil
	}
	switch existing.Status {
	case event.StatusFailed:
	case event.StatusProcessing:
		if now.Sub(existing.ReceivedAt) < m.reclaimAfter {
			return ClaimDuplicate, ErrEnvelopeInFlight
		}
	default:
		return ClaimDuplicate, nil
	}
	existing.Status = event.StatusProcessing
	existing.ReceivedAt = now
	existing.ProcessedAt = nil
	existing.ErrorMessage = ""
	return ClaimReclaimed, nil
}

func (m *Memory) FinishEnvelope(_ context.Context, eventID string, status event.EnvelopeStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish envelope %s: %q is not terminal", eventID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.envelopes[eventID]
	if !ok {
		return fmt.Errorf("finish envelope %s: not found", eventID)
	}
	now := m.now()
	rec.Status = status
	rec.ProcessedAt = &now
	rec.ErrorMessage = errMsg
	return nil
}

func (m *Memory) ResolveMember(_ context.Context, ref event.MemberRef) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, err := m.resolveLocked(ref)
	if err != nil {
		return Member{}, err
	}
	return *mem, nil
}

func (m *Memory) resolveLocked(ref event.MemberRef) (*Member, error) {
	if ref.ID != "" {
		if mem, ok := m.members[ref.ID]; ok {
			return mem, nil
		}
	}
	if ref.LegacyID != "" {
		if id, ok := m.legacy[ref.LegacyID]; ok {
			return m.members[id], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, ref)
}

func (m *Memory) ApplyDonation(_ context.Context, ev *event.DonationEvent) (ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, err := m.resolveLocked(ev.Member)
	if err != nil {
		return ApplyResult{}, err
	}
	if _, dup := m.keys[ev.DonationKey]; dup {
		return ApplyResult{Applied: false, Member: *mem}, nil
	}
	m.keys[ev.DonationKey] = struct{}{}
	stored := *ev
	stored.Member = event.MemberRef{ID: mem.ID, LegacyID: mem.LegacyID}
	m.donations = append(m.donations, memoryDonation{memberID: mem.ID, ev: stored})
	mem.SpendableBalancePence += ev.SpendablePence
	mem.SavingsPence += ev.SavingsPence
	mem.LifetimeRaisedPence += ev.DonationPence
	mem.UpdatedAt = m.now()
	return ApplyResult{Applied: true, Member: *mem}, nil
}

func (m *Memory) Donations(_ context.Context, f DonationFilter) ([]event.DonationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.DonationEvent, 0, len(m.donations))
	for _, d := range m.donations {
		if f.match(d.memberID, d.ev.EventCreatedAt) {
			out = append(out, d.ev)
		}
	}
	sortDonations(out)
	return out, nil
}

func (m *Memory) Members(_ context.Context) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, *mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Envelopes(_ context.Context, f EnvelopeFilter) ([]event.EnvelopeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.EnvelopeRecord, 0)
	for _, rec := range m.envelopes {
		if f.Status == "" || rec.Status == f.Status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].EventID < out[j].EventID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) EnvelopeStats(_ context.Context, since time.Time) (EnvelopeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st EnvelopeStats
	for _, rec := range m.envelopes {
		if rec.ReceivedAt.After(st.LastReceivedAt) {
			st.LastReceivedAt = rec.ReceivedAt
		}
		switch rec.Status {
		case event.StatusFailed:
			if !rec.ReceivedAt.Before(since) {
				st.FailedSince++
			}
		case event.StatusProcessing:
			st.InFlight++
		}
	}
	return st, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// sortDonations orders by event time then key, the ledger's canonical order.
func sortDonations(ds []event.DonationEvent) {
	sort.SliceStable(ds, func(i, j int) bool {
		if !ds[i].EventCreatedAt.Equal(ds[j].EventCreatedAt) {
			return ds[i].EventCreatedAt.Before(ds[j].EventCreatedAt)
		}
		return ds[i].DonationKey < ds[j].DonationKey
	})
}
