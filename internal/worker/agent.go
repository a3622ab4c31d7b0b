package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cellplane/internal/interrupt"
	"cellplane/internal/outputs"
	"cellplane/internal/queue"
	"cellplane/internal/registry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// AgentConfig holds configuration for the runtime session agent.
type AgentConfig struct {
	SessionID     string
	RuntimeID     string
	Kind          string
	Capabilities  []string
	ValidFor      time.Duration // liveness lease, default 30s
	RenewInterval time.Duration // default ValidFor / 2
	PollInterval  time.Duration // base poll cadence, default 1s
	MaxBackoff    time.Duration // backoff cap on an empty queue, default 30s
	ClaimRate     rate.Limit    // claim attempts per second, default 10
}

// Agent is one runtime session: it registers itself, keeps its lease
// renewed, claims pending entries of its kind one at a time, and drives
// the execution backend. The loop is single-threaded and cooperative: a
// session executes at most one entry at any moment.
type Agent struct {
	queue      *queue.Manager
	registry   *registry.Registry
	outputs    *outputs.Aggregator
	interrupts *interrupt.Controller
	sources    SourceResolver
	handler    Handler
	config     AgentConfig
	logger     *slog.Logger
	limiter    *rate.Limiter
	done       chan struct{}

	execCounter  metric.Int64Counter
	claimCounter metric.Int64Counter
	execSeconds  metric.Float64Histogram
}

// New creates a runtime session agent.
func New(q *queue.Manager, r *registry.Registry, o *outputs.Aggregator, ic *interrupt.Controller,
	sources SourceResolver, handler Handler, config AgentConfig, logger *slog.Logger) *Agent {

	if config.SessionID == "" {
		config.SessionID = uuid.New().String()
	}
	if config.Kind == "" {
		config.Kind = queue.DefaultKind
	}
	if config.ValidFor <= 0 {
		config.ValidFor = registry.DefaultValidFor
	}
	if config.RenewInterval <= 0 {
		config.RenewInterval = config.ValidFor / 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.ClaimRate <= 0 {
		config.ClaimRate = 10
	}

	meter := otel.Meter("cellplane-worker")
	execCounter, _ := meter.Int64Counter("cellplane.executions.total")
	claimCounter, _ := meter.Int64Counter("cellplane.claims.total")
	execSeconds, _ := meter.Float64Histogram("cellplane.execution.duration.seconds")

	return &Agent{
		queue:        q,
		registry:     r,
		outputs:      o,
		interrupts:   ic,
		sources:      sources,
		handler:      handler,
		config:       config,
		logger:       logger.With("session_id", config.SessionID, "kind", config.Kind),
		limiter:      rate.NewLimiter(config.ClaimRate, 1),
		done:         make(chan struct{}),
		execCounter:  execCounter,
		claimCounter: claimCounter,
		execSeconds:  execSeconds,
	}
}

// SessionID returns the agent's session identity.
func (a *Agent) SessionID() string {
	return a.config.SessionID
}

// Done returns a channel closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Run registers the session and blocks in the claim loop until the
// context is cancelled or the session is terminated by arbitration.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)

	err := a.registry.StartRuntime(ctx, registry.Session{
		SessionID:    a.config.SessionID,
		RuntimeID:    a.config.RuntimeID,
		Kind:         a.config.Kind,
		Capabilities: a.config.Capabilities,
		ValidFor:     a.config.ValidFor,
	}, a.queue)
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	a.logger.Info("runtime session registered", "runtime_id", a.config.RuntimeID)

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go a.runHeartbeat(heartbeatCtx)

	currentBackoff := a.config.PollInterval

	for {
		select {
		case <-ctx.Done():
			a.shutdown("shutdown")
			return ctx.Err()

		case <-time.After(currentBackoff):

		case <-a.queue.Changes():
		}

		if s, ok := a.registry.Get(a.config.SessionID); !ok || s.Status == registry.StatusTerminated {
			a.logger.Info("session terminated by arbitration, stopping")
			return nil
		}

		if a.claimNext(ctx) {
			currentBackoff = a.config.PollInterval
		} else {
			currentBackoff *= 2
			if currentBackoff > a.config.MaxBackoff {
				currentBackoff = a.config.MaxBackoff
			}
		}
	}
}

// claimNext scans pending work and tries to claim the best entry. It
// reports whether any work was found (claimed or lost to a peer).
func (a *Agent) claimNext(ctx context.Context) bool {
	found := false
	for {
		if ctx.Err() != nil {
			return found
		}
		pending := a.queue.Pending(a.config.Kind)
		if len(pending) == 0 {
			return found
		}
		found = true

		entry := pending[0]
		if err := a.limiter.Wait(ctx); err != nil {
			return found
		}

		err := a.queue.Assign(ctx, entry.ID, a.config.SessionID)
		if errors.Is(err, queue.ErrConflict) {
			// Another session won; re-read and move on.
			a.claimCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "lost")))
			continue
		}
		if err != nil {
			a.logger.Error("claim failed", "queue_id", entry.ID, "error", err)
			return found
		}

		a.claimCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "won")))
		a.execute(ctx, entry.ID)
	}
}

// execute drives one claimed entry through running to a terminal state.
func (a *Agent) execute(ctx context.Context, queueID uuid.UUID) {
	entry, ok := a.queue.Get(queueID)
	if !ok {
		return
	}

	tracer := otel.Tracer("cellplane-worker")
	ctx, span := tracer.Start(ctx, "execute_cell",
		trace.WithAttributes(
			attribute.String("queue.id", queueID.String()),
			attribute.String("cell.id", entry.CellID),
			attribute.Int("execution.count", entry.ExecutionCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	a.registry.SetStatus(a.config.SessionID, registry.StatusBusy)
	defer a.registry.SetStatus(a.config.SessionID, registry.StatusReady)

	if err := a.queue.Start(ctx, queueID, a.config.SessionID); err != nil {
		// Entry moved on without us (cancelled or reclaimed).
		a.logger.Warn("start rejected", "queue_id", queueID, "error", err)
		return
	}
	started := time.Now()
	a.logger.Info("executing cell", "cell_id", entry.CellID, "queue_id", queueID)

	out := &OutputContext{
		queueID:    queueID,
		cellID:     entry.CellID,
		sessionID:  a.config.SessionID,
		outputs:    a.outputs,
		interrupts: a.interrupts,
	}

	// A new run starts from a clean output sequence; the clear is an
	// explicit ordered operation on the log, not a side effect.
	if err := a.outputs.Clear(ctx, entry.CellID, a.config.SessionID); err != nil {
		a.completeWith(ctx, queueID, false, fmt.Sprintf("failed to clear outputs: %v", err), time.Since(started))
		return
	}

	source, err := a.sources.Source(ctx, entry.CellID)
	if err != nil {
		out.Error(ctx, "SourceUnavailable", err.Error(), nil)
		a.completeWith(ctx, queueID, false, fmt.Sprintf("failed to resolve source: %v", err), time.Since(started))
		return
	}

	outcome, err := a.handler.Execute(ctx, Request{
		QueueID:        queueID,
		CellID:         entry.CellID,
		ExecutionCount: entry.ExecutionCount,
		Source:         source,
	}, out)
	duration := time.Since(started)

	if err != nil {
		span.RecordError(err)
		out.Error(ctx, "ExecutionError", err.Error(), nil)
		a.completeWith(ctx, queueID, false, err.Error(), duration)
		return
	}

	a.completeWith(ctx, queueID, outcome.Success, outcome.Error, duration)
}

func (a *Agent) completeWith(ctx context.Context, queueID uuid.UUID, success bool, errMsg string, duration time.Duration) {
	status := "completed"
	if !success {
		status = "error"
	}
	a.execCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	a.execSeconds.Record(ctx, duration.Seconds())

	if err := a.queue.Complete(ctx, queueID, a.config.SessionID, success, errMsg, duration); err != nil {
		// Most likely reclaimed as orphaned while we were partitioned.
		a.logger.Warn("completion rejected", "queue_id", queueID, "error", err)
		return
	}
	a.logger.Info("execution finished",
		"queue_id", queueID, "status", status, "duration_ms", duration.Milliseconds())
}

// runHeartbeat renews the session lease at half-lease cadence until
// stopped.
func (a *Agent) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.config.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.registry.Renew(ctx, a.config.SessionID, a.config.ValidFor); err != nil {
				if errors.Is(err, registry.ErrSessionTerminated) {
					return
				}
				a.logger.Error("lease renewal failed", "error", err)
			}
		}
	}
}

// shutdown terminates the session on the log with best effort.
func (a *Agent) shutdown(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.registry.Terminate(ctx, a.config.SessionID, reason); err != nil {
		a.logger.Error("failed to terminate session", "error", err)
	}
}
