package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/invalidate"
	"github.com/gyaneshwarpardhi/donationledger/internal/metrics"
)

type invalidation struct {
	donationKey string
	path        string
}

// Dispatcher delivers post-commit invalidations off the request path.
// Failures are logged and counted, never returned.
type Dispatcher struct {
	pool     *workerPool[invalidation]
	notifier invalidate.Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherConf sizes the dispatcher.
type DispatcherConf struct {
	Workers    int
	QueueDepth int
	Timeout    time.Duration
}

// NewDispatcher starts conf.Workers goroutines delivering to notifier.
func NewDispatcher(ctx context.Context, notifier invalidate.Notifier, conf DispatcherConf, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 1000
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		notifier: notifier,
		timeout:  conf.Timeout,
		logger:   logger.With("component", "invalidation"),
	}
	d.pool = newWorkerPool[invalidation](ctx, conf.Workers, conf.QueueDepth, d.deliver)
	return d
}

func (d *Dispatcher) deliver(ctx context.Context, job invalidation) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.notifier.Invalidate(ctx, job.path); err != nil {
		metrics.Invalidations.WithLabelValues("error").Inc()
		d.logger.Warn("invalidation failed", "path", job.path, "donation_key", job.donationKey, "err", err)
		return
	}
	metrics.Invalidations.WithLabelValues("ok").Inc()
}

// Enqueue queues every path and returns how many were accepted.
func (d *Dispatcher) Enqueue(donationKey string, paths []string) int {
	queued := 0
	for _, p := range paths {
		if d.pool.Submit(invalidation{donationKey: donationKey, path: p}) {
			queued++
			continue
		}
		metrics.Invalidations.WithLabelValues("dropped").Inc()
		d.logger.Warn("invalidation queue full, dropping", "path", p, "donation_key", donationKey)
	}
	metrics.InvalidationQueueUtilization.Set(d.Utilization())
	return queued
}

// Depth returns the number of invalidations waiting for a worker.
func (d *Dispatcher) Depth() int { return d.pool.QueueLen() }

// Utilization returns queue used / capacity (0–1).
func (d *Dispatcher) Utilization() float64 {
	if d.pool.QueueCap() == 0 {
		return 0
	}
	return float64(d.pool.QueueLen()) / float64(d.pool.QueueCap())
}

// Drain stops accepting work and waits for queued invalidations.
func (d *Dispatcher) Drain() { d.pool.Drain() }
