// Package health classifies the ledger's operational state as ok, degraded
// or down so operators can tell a quiet system from a broken one.
package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

// Status is a health classification. Higher is worse.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// Worse returns the more severe of s and o.
func (s Status) Worse(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// Check is one signal's classification.
type Check struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report is the probe result.
type Report struct {
	Status         Status     `json:"status"`
	CheckedAt      time.Time  `json:"checked_at"`
	LastEnvelopeAt *time.Time `json:"last_envelope_at,omitempty"`
	FailedLast24h  int        `json:"failed_last_24h"`
	InFlight       int        `json:"in_flight"`
	QueueDepth     int        `json:"queue_depth"`
	Checks         []Check    `json:"checks"`
}

// Source is the slice of the store the probe reads.
type Source interface {
	Ping(ctx context.Context) error
	EnvelopeStats(ctx context.Context, since time.Time) (ledger.EnvelopeStats, error)
}

// Queue reports pending downstream work.
type Queue interface {
	QueueDepth() int
}

// Thresholds tune classification.
type Thresholds struct {
	StaleAfter       time.Duration
	FailedDegradedAt int
	FailedDownAt     int
	QueueDegradedAt  int
	Timeout          time.Duration
}

// Probe runs the checks.
type Probe struct {
	src   Source
	queue Queue
	th    Thresholds
	now   func() time.Time
}

// NewProbe creates a Probe. queue may be nil.
func NewProbe(src Source, queue Queue, th Thresholds) *Probe {
	if th.Timeout <= 0 {
		th.Timeout = 2 * time.Second
	}
	return &Probe{src: src, queue: queue, th: th, now: time.Now}
}

// WithClock overrides the probe's clock.
func (p *Probe) WithClock(now func() time.Time) *Probe {
	p.now = now
	return p
}

// Check runs store connectivity and envelope checks concurrently.
func (p *Probe) Check(ctx context.Context) Report {
	now := p.now()
	rep := Report{CheckedAt: now.UTC(), Status: StatusOK}

	ctx, cancel := context.WithTimeout(ctx, p.th.Timeout)
	defer cancel()

	var (
		pingCheck  = Check{Name: "store", Status: StatusOK}
		statsCheck = Check{Name: "envelopes", Status: StatusOK}
		stats      ledger.EnvelopeStats
	)
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		if err := p.src.Ping(ctx); err != nil {
			pingCheck.Status = StatusDown
			pingCheck.Detail = err.Error()
		}
		pingCheck.LatencyMs = time.Since(start).Milliseconds()
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		st, err := p.src.EnvelopeStats(ctx, now.Add(-24*time.Hour))
		statsCheck.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			statsCheck.Status = StatusDegraded
			statsCheck.Detail = err.Error()
			return nil
		}
		stats = st
		return nil
	})
	_ = g.Wait()
	rep.Checks = append(rep.Checks, pingCheck)

	if statsCheck.Detail == "" {
		rep.FailedLast24h = stats.FailedSince
		rep.InFlight = stats.InFlight
		if !stats.LastReceivedAt.IsZero() {
			at := stats.LastReceivedAt.UTC()
			rep.LastEnvelopeAt = &at
		}
		statsCheck.Status, statsCheck.Detail = p.classifyEnvelopes(now, stats)
	}
	rep.Checks = append(rep.Checks, statsCheck)

	queueCheck := Check{Name: "invalidation_queue", Status: StatusOK}
	if p.queue != nil {
		rep.QueueDepth = p.queue.QueueDepth()
		if p.th.QueueDegradedAt > 0 && rep.QueueDepth >= p.th.QueueDegradedAt {
			queueCheck.Status = StatusDegraded
			queueCheck.Detail = fmt.Sprintf("%d pending", rep.QueueDepth)
		}
	}
	rep.Checks = append(rep.Checks, queueCheck)

	for _, c := range rep.Checks {
		rep.Status = rep.Status.Worse(c.Status)
	}
	return rep
}

func (p *Probe) classifyEnvelopes(now time.Time, st ledger.EnvelopeStats) (Status, string) {
	switch {
	case p.th.FailedDownAt > 0 && st.FailedSince >= p.th.FailedDownAt:
		return StatusDown, fmt.Sprintf("%d failed in 24h", st.FailedSince)
	case p.th.FailedDegradedAt > 0 && st.FailedSince >= p.th.FailedDegradedAt:
		return StatusDegraded, fmt.Sprintf("%d failed in 24h", st.FailedSince)
	case st.LastReceivedAt.IsZero():
		return StatusOK, "no envelopes received yet"
	case p.th.StaleAfter > 0 && now.Sub(st.LastReceivedAt) > p.th.StaleAfter:
		return StatusDegraded, fmt.Sprintf("last envelope %s ago", now.Sub(st.LastReceivedAt).Truncate(time.Second))
	}
	return StatusOK, ""
}
