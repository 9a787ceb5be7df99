package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/apply"
	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/metrics"
	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

// ErrNoRules is returned when Process runs before any rules were loaded.
var ErrNoRules = errors.New("engine: no normalization rules loaded")

// EnvelopeResult is the outcome of processing a single envelope.
type EnvelopeResult struct {
	EventID     string        `json:"event_id"`
	EventType   string        `json:"event_type"`
	Outcome     event.Outcome `json:"outcome"`
	DonationKey string        `json:"donation_key,omitempty"`
	MemberID    string        `json:"member_id,omitempty"`
	Queued      int           `json:"invalidations_queued,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	Detail      string        `json:"detail,omitempty"`
}

// Engine drives one envelope from receipt to a terminal ledger status.
type Engine struct {
	rules      atomic.Pointer[normalize.Rules]
	envelopes  ledger.EnvelopeLedger
	normalizer *normalize.Normalizer
	applier    *apply.Applier
	dispatch   *Dispatcher
	conf       config.EngineConf
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an Engine. dispatch may be nil when nothing needs invalidating.
func New(envelopes ledger.EnvelopeLedger, n *normalize.Normalizer, a *apply.Applier, dispatch *Dispatcher,
	rules *normalize.Rules, conf config.EngineConf, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		envelopes:  envelopes,
		normalizer: n,
		applier:    a,
		dispatch:   dispatch,
		conf:       conf,
		now:        time.Now,
		logger:     logger.With("component", "engine"),
	}
	e.rules.Store(rules)
	return e
}

// SwapRules atomically replaces the normalization rules (used on hot-reload).
// Pages ranked by company are re-derived under the new alias table, so they
// are queued for invalidation.
func (e *Engine) SwapRules(r *normalize.Rules) {
	e.rules.Store(r)
	if e.dispatch != nil {
		e.dispatch.Enqueue("rules-reload", companyPaths)
	}
}

var companyPaths = []string{"/leaderboard"}

// Rules returns the rules currently in effect.
func (e *Engine) Rules() *normalize.Rules {
	return e.rules.Load()
}

// Process records env in the envelope ledger and, if this call owns it,
// normalizes and applies it. A returned error means the provider should
// redeliver; ledger.ErrEnvelopeInFlight means another worker holds it.
func (e *Engine) Process(ctx context.Context, env event.Envelope) (*EnvelopeResult, error) {
	start := e.now()
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = start.UTC()
	}
	res := &EnvelopeResult{EventID: env.ID, EventType: env.Type}
	metrics.EnvelopesReceived.WithLabelValues(env.Type).Inc()
	log := e.logger.With("event_id", env.ID, "event_type", env.Type)

	claim, err := e.envelopes.BeginEnvelope(ctx, event.EnvelopeRecord{
		EventID:    env.ID,
		EventType:  env.Type,
		Livemode:   env.Livemode,
		Status:     event.StatusProcessing,
		ReceivedAt: env.ReceivedAt,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrEnvelopeInFlight) {
			log.Info("envelope already in flight")
		}
		return nil, fmt.Errorf("begin envelope %s: %w", env.ID, err)
	}
	if !claim.Owned() {
		res.Outcome = event.OutcomeDuplicateEnvelope
		res.DurationMs = time.Since(start).Milliseconds()
		metrics.EnvelopeOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		log.Info("duplicate envelope")
		return res, nil
	}
	if claim == ledger.ClaimReclaimed {
		log.Info("reclaimed envelope for retry")
	}

	// The row exists now; finish it even if the caller goes away.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.processTimeout())
	defer cancel()

	applied, procErr := e.handle(work, env, res)
	status, msg := terminalStatus(res, procErr)
	if err := e.envelopes.FinishEnvelope(work, env.ID, status, msg); err != nil {
		log.Warn("finish envelope failed", "status", status, "err", err)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.EnvelopeOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	metrics.EnvelopeProcessingDuration.Observe(float64(res.DurationMs))

	if procErr != nil {
		log.Error("envelope failed", "err", procErr)
		return res, procErr
	}
	if applied != nil && e.dispatch != nil {
		res.Queued = e.dispatch.Enqueue(res.DonationKey, applied.Paths)
	}
	log.Info("envelope processed", "outcome", res.Outcome, "donation_key", res.DonationKey, "duration_ms", res.DurationMs)
	return res, nil
}

// handle fills res.Outcome and returns the apply result when a donation was
// newly credited.
func (e *Engine) handle(ctx context.Context, env event.Envelope, res *EnvelopeResult) (*apply.Result, error) {
	if want := e.conf.Livemode; want != nil && env.Livemode != *want {
		res.Outcome = event.OutcomeIgnored
		res.Detail = fmt.Sprintf("livemode %t not accepted", env.Livemode)
		return nil, nil
	}
	if !normalize.Handles(env.Type) {
		res.Outcome = event.OutcomeIgnored
		res.Detail = "unhandled type"
		return nil, nil
	}
	rules := e.rules.Load()
	if rules == nil {
		res.Outcome = event.OutcomeFailed
		return nil, ErrNoRules
	}

	ev, err := e.normalizer.Normalize(ctx, rules, env)
	if err != nil {
		if errors.Is(err, normalize.ErrIgnored) {
			res.Outcome = event.OutcomeIgnored
			res.Detail = strings.TrimPrefix(err.Error(), normalize.ErrIgnored.Error()+": ")
			return nil, nil
		}
		res.Outcome = event.OutcomeFailed
		return nil, fmt.Errorf("normalize: %w", err)
	}
	res.DonationKey = ev.DonationKey

	out, err := e.applier.Apply(ctx, *ev, rules.SavingsPercent, rules.FeePercent)
	if err != nil {
		res.Outcome = event.OutcomeFailed
		return nil, err
	}
	res.MemberID = out.Member.ID
	if !out.Applied {
		res.Outcome = event.OutcomeAlreadyApplied
		return nil, nil
	}
	res.Outcome = event.OutcomeApplied
	return &out, nil
}

func terminalStatus(res *EnvelopeResult, err error) (event.EnvelopeStatus, string) {
	switch {
	case err != nil:
		return event.StatusFailed, err.Error()
	case res.Outcome == event.OutcomeAlreadyApplied:
		return event.StatusDuplicate, ""
	case res.Outcome == event.OutcomeIgnored:
		return event.StatusProcessed, "ignored: " + res.Detail
	}
	return event.StatusProcessed, ""
}

func (e *Engine) processTimeout() time.Duration {
	if e.conf.ProcessTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.conf.ProcessTimeoutMs) * time.Millisecond
}

// QueueDepth returns the number of invalidations waiting to be delivered.
func (e *Engine) QueueDepth() int {
	if e.dispatch == nil {
		return 0
	}
	return e.dispatch.Depth()
}

// QueueUtilization returns invalidation queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.dispatch == nil {
		return 0
	}
	return e.dispatch.Utilization()
}

// Shutdown drains pending invalidations.
func (e *Engine) Shutdown() {
	if e.dispatch != nil {
		e.dispatch.Drain()
	}
}
