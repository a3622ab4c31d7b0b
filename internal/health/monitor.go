// Package health implements the orphan-recovery policy: a periodic scan
// that reclaims queue entries held by expired sessions and enforces the
// interrupt grace period. Any reader of the log can run it; it appends
// ordinary cancellation events that every client observes.
package health

import (
	"context"
	"log/slog"
	"time"

	"cellplane/internal/interrupt"
	"cellplane/internal/queue"
	"cellplane/internal/registry"
)

const (
	// DefaultScanInterval is the cadence of the expiry scan. It is
	// independent of the renewal cadence.
	DefaultScanInterval = 60 * time.Second

	// DefaultInterruptGrace is how long a holding session gets to honor
	// an interrupt before the entry is cancelled unilaterally.
	DefaultInterruptGrace = 10 * time.Second
)

// Reasons recorded on reclaimed entries.
const (
	ReasonOrphanedSession  = "orphaned-session"
	ReasonInterruptTimeout = "interrupt-timeout"
)

// Monitor scans in-flight work for dead owners. Reclamation is
// detection-and-recovery, not retry: a reclaimed cell goes back to idle
// and re-submission is an explicit caller action.
type Monitor struct {
	queue      *queue.Manager
	registry   *registry.Registry
	interrupts *interrupt.Controller
	logger     *slog.Logger

	scanInterval   time.Duration
	interruptGrace time.Duration
	now            func() time.Time
}

// Option tweaks monitor construction.
type Option func(*Monitor)

// WithScanInterval overrides the scan cadence.
func WithScanInterval(d time.Duration) Option {
	return func(m *Monitor) { m.scanInterval = d }
}

// WithInterruptGrace overrides the interrupt grace period.
func WithInterruptGrace(d time.Duration) Option {
	return func(m *Monitor) { m.interruptGrace = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over the given materialized state.
func New(q *queue.Manager, r *registry.Registry, ic *interrupt.Controller, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		queue:          q,
		registry:       r,
		interrupts:     ic,
		logger:         logger,
		scanInterval:   DefaultScanInterval,
		interruptGrace: DefaultInterruptGrace,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run scans periodically until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.Scan(ctx); n > 0 {
				m.logger.Info("reclaimed stuck entries", "count", n)
			}
		}
	}
}

// Scan performs one pass and returns how many entries were cancelled.
func (m *Monitor) Scan(ctx context.Context) int {
	reclaimed := 0

	for _, e := range m.queue.NonTerminal() {
		if e.Status != queue.StatusAssigned && e.Status != queue.StatusRunning {
			continue
		}
		if m.registry.HealthAt(e.AssignedSessionID, m.now()) != registry.Expired {
			continue
		}
		if err := m.queue.Cancel(ctx, e.ID, ReasonOrphanedSession); err != nil {
			// Lost a race with the owner finishing or another monitor.
			m.logger.Debug("orphan cancel rejected", "queue_id", e.ID, "error", err)
			continue
		}
		m.logger.Warn("cancelled orphaned entry",
			"queue_id", e.ID, "cell_id", e.CellID, "session_id", e.AssignedSessionID)
		reclaimed++
	}

	deadline := m.now().Add(-m.interruptGrace)
	for _, r := range m.interrupts.All() {
		if r.RequestedAt.After(deadline) {
			continue
		}
		e, ok := m.queue.Get(r.QueueID)
		if !ok || e.Status.Terminal() {
			continue
		}
		if err := m.queue.Cancel(ctx, r.QueueID, ReasonInterruptTimeout); err != nil {
			m.logger.Debug("interrupt-timeout cancel rejected", "queue_id", r.QueueID, "error", err)
			continue
		}
		m.logger.Warn("interrupt unanswered, entry cancelled",
			"queue_id", r.QueueID, "cell_id", r.CellID, "session_id", r.SessionID)
		reclaimed++
	}

	return reclaimed
}
