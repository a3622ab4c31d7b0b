package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cellplane/internal/eventlog"
	"cellplane/internal/projector"
	"cellplane/internal/queue"

	"github.com/google/uuid"
)

// WorkReleaser gives the registry access to the queue when it has to
// gracefully stop a session: claimed-but-not-started entries are
// cancelled and re-queued so they return to the pending pool.
type WorkReleaser interface {
	Held(sessionID string) []queue.Entry
	Cancel(ctx context.Context, queueID uuid.UUID, reason string) error
	RequestExecution(ctx context.Context, req queue.ExecutionRequest) (uuid.UUID, error)
}

// Registry materializes runtime sessions from the event log and arbitrates
// which sessions may be live against the document.
type Registry struct {
	log       eventlog.Log
	waiter    projector.Waiter
	policy    Policy
	tolerance time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option tweaks registry construction.
type Option func(*Registry)

// WithPolicy overrides the default single-active policy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		if p.MaxConcurrent <= 0 {
			p.MaxConcurrent = 1
		}
		r.policy = p
	}
}

// WithTolerance overrides the default lease grace window.
func WithTolerance(d time.Duration) Option {
	return func(r *Registry) { r.tolerance = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry bound to a log.
func New(log eventlog.Log, waiter projector.Waiter, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:       log,
		waiter:    waiter,
		policy:    Policy{MaxConcurrent: 1},
		tolerance: DefaultTolerance,
		now:       time.Now,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tolerance reports the configured lease grace window.
func (r *Registry) Tolerance() time.Duration {
	return r.tolerance
}

// Register announces a new session on the log. It fails with
// ErrDuplicateCapabilityClass while another live session of the same kind
// exists and the policy forbids that.
func (r *Registry) Register(ctx context.Context, s Session) error {
	if s.ValidFor <= 0 {
		s.ValidFor = DefaultValidFor
	}
	ev, err := eventlog.New(eventlog.TypeSessionStarted, eventlog.SessionStarted{
		SessionID:    s.SessionID,
		RuntimeID:    s.RuntimeID,
		Kind:         s.Kind,
		Capabilities: s.Capabilities,
		ValidForMs:   s.ValidFor.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if _, err := r.log.Append(ctx, ev); err != nil {
		return err
	}
	return r.waiter.Wait(ctx, ev.ID)
}

// Renew extends the session's liveness lease.
func (r *Registry) Renew(ctx context.Context, sessionID string, validFor time.Duration) error {
	if validFor <= 0 {
		validFor = DefaultValidFor
	}
	ev, err := eventlog.New(eventlog.TypeSessionRenewed, eventlog.SessionRenewed{
		SessionID:  sessionID,
		ValidForMs: validFor.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if _, err := r.log.Append(ctx, ev); err != nil {
		return err
	}
	return r.waiter.Wait(ctx, ev.ID)
}

// Terminate removes the session.
func (r *Registry) Terminate(ctx context.Context, sessionID, reason string) error {
	ev, err := eventlog.New(eventlog.TypeSessionTerminated, eventlog.SessionTerminated{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	if _, err := r.log.Append(ctx, ev); err != nil {
		return err
	}
	return r.waiter.Wait(ctx, ev.ID)
}

// Apply implements projector.Applier. Liveness checks inside Apply use
// the event's commit timestamp so every process reaches the same verdict.
func (r *Registry) Apply(ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.TypeSessionStarted:
		return r.applyStarted(ev)
	case eventlog.TypeSessionRenewed:
		return r.applyRenewed(ev)
	case eventlog.TypeSessionTerminated:
		return r.applyTerminated(ev)
	}
	return nil
}

func (r *Registry) applyStarted(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.SessionStarted](ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[p.SessionID]; exists {
		return nil
	}

	if !r.policy.AllowMultipleOfSameType {
		for _, s := range r.sessions {
			if s.Kind == p.Kind && s.Status != StatusTerminated &&
				s.HealthAt(ev.At, r.tolerance) != Expired {
				return fmt.Errorf("kind %s held by %s: %w", p.Kind, s.SessionID, ErrDuplicateCapabilityClass)
			}
		}
	}

	validFor := time.Duration(p.ValidForMs) * time.Millisecond
	if validFor <= 0 {
		validFor = DefaultValidFor
	}
	r.sessions[p.SessionID] = &Session{
		SessionID:     p.SessionID,
		RuntimeID:     p.RuntimeID,
		Kind:          p.Kind,
		Capabilities:  p.Capabilities,
		Status:        StatusReady,
		LastRenewedAt: ev.At,
		ValidFor:      validFor,
	}
	return nil
}

func (r *Registry) applyRenewed(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.SessionRenewed](ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[p.SessionID]
	if !ok {
		return fmt.Errorf("renew %s: %w", p.SessionID, ErrUnknownSession)
	}
	if s.Status == StatusTerminated {
		return fmt.Errorf("renew %s: %w", p.SessionID, ErrSessionTerminated)
	}
	s.LastRenewedAt = ev.At
	if p.ValidForMs > 0 {
		s.ValidFor = time.Duration(p.ValidForMs) * time.Millisecond
	}
	return nil
}

func (r *Registry) applyTerminated(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.SessionTerminated](ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[p.SessionID]
	if !ok {
		return fmt.Errorf("terminate %s: %w", p.SessionID, ErrUnknownSession)
	}
	if s.Status == StatusTerminated {
		return nil
	}
	s.Status = StatusTerminated
	return nil
}

// Get returns a copy of the session record.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetStatus records the session's local ready/busy state. This is
// in-process bookkeeping for the worker's own loop; it is not an event.
func (r *Registry) SetStatus(sessionID string, status SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok && s.Status != StatusTerminated {
		s.Status = status
	}
}

// HealthOf classifies a session's liveness right now. Unknown sessions
// report Expired: their work is reclaimable either way.
func (r *Registry) HealthOf(sessionID string) Health {
	return r.HealthAt(sessionID, r.now())
}

// HealthAt classifies a session's liveness at a given instant.
func (r *Registry) HealthAt(sessionID string, at time.Time) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status == StatusTerminated {
		return Expired
	}
	return s.HealthAt(at, r.tolerance)
}

// ActiveRuntime returns the live session of a kind, if one exists.
func (r *Registry) ActiveRuntime(kind string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	for _, s := range r.sessions {
		if s.Kind == kind && s.Status != StatusTerminated &&
			s.HealthAt(now, r.tolerance) != Expired {
			return *s, true
		}
	}
	return Session{}, false
}

// CanStart reports whether a new session may be admitted without
// stopping anything.
func (r *Registry) CanStart() bool {
	return r.activeCount() < r.policy.MaxConcurrent
}

func (r *Registry) activeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	count := 0
	for _, s := range r.sessions {
		if s.Status != StatusTerminated && s.HealthAt(now, r.tolerance) != Expired {
			count++
		}
	}
	return count
}

// List returns all known sessions, live first, then by id.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].Status != StatusTerminated, out[j].Status != StatusTerminated
		if li != lj {
			return li
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// StartRuntime admits a new session, first gracefully stopping the
// incumbent of the same kind when the single-active policy requires it.
// Claimed-but-not-started work of the stopped session is released back
// to the pending pool as fresh requests.
func (r *Registry) StartRuntime(ctx context.Context, s Session, releaser WorkReleaser) error {
	if !r.policy.AllowMultipleOfSameType {
		if cur, ok := r.ActiveRuntime(s.Kind); ok && cur.SessionID != s.SessionID {
			if err := r.stopSession(ctx, cur, releaser); err != nil {
				return fmt.Errorf("failed to stop session %s: %w", cur.SessionID, err)
			}
		}
	}
	return r.Register(ctx, s)
}

func (r *Registry) stopSession(ctx context.Context, s Session, releaser WorkReleaser) error {
	r.logger.Info("stopping incumbent runtime session",
		"session_id", s.SessionID, "kind", s.Kind)

	if releaser != nil {
		for _, e := range releaser.Held(s.SessionID) {
			if e.Status != queue.StatusAssigned {
				continue
			}
			if err := releaser.Cancel(ctx, e.ID, "runtime-restart"); err != nil {
				return err
			}
			if _, err := releaser.RequestExecution(ctx, queue.ExecutionRequest{
				CellID:      e.CellID,
				RequestedBy: e.RequestedBy,
				Priority:    e.Priority,
				Kind:        e.Kind,
			}); err != nil {
				return err
			}
		}
	}

	return r.Terminate(ctx, s.SessionID, "superseded")
}
