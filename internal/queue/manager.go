package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cellplane/internal/eventlog"
	"cellplane/internal/projector"

	"github.com/google/uuid"
)

// Manager materializes queue entries from the event log and provides the
// command surface that appends transitions to it. All validation lives
// in Apply, which every process runs over the same event order; first
// commit wins and later conflicting commits are rejected identically
// everywhere.
type Manager struct {
	log    eventlog.Log
	waiter projector.Waiter

	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	active  map[string]uuid.UUID // cellID -> non-terminal entry
	counts  map[string]int       // cellID -> execution count high-water mark
	notify  chan struct{}
}

// NewManager creates an empty queue manager bound to a log. The waiter
// resolves command outcomes; it is the projector applying this manager.
func NewManager(log eventlog.Log, waiter projector.Waiter) *Manager {
	return &Manager{
		log:     log,
		waiter:  waiter,
		entries: make(map[uuid.UUID]*Entry),
		active:  make(map[string]uuid.UUID),
		counts:  make(map[string]int),
		notify:  make(chan struct{}, 1),
	}
}

// Changes signals when pending work may have appeared. The channel has a
// one-slot buffer; readers treat a receive as "re-scan pending", not as
// a count of updates.
func (m *Manager) Changes() <-chan struct{} {
	return m.notify
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// RequestExecution appends a pending entry for the cell. It fails with
// ErrDuplicateRequest while the cell already has a non-terminal entry.
func (m *Manager) RequestExecution(ctx context.Context, req ExecutionRequest) (uuid.UUID, error) {
	if req.Kind == "" {
		req.Kind = DefaultKind
	}

	m.mu.RLock()
	_, dup := m.active[req.CellID]
	m.mu.RUnlock()
	if dup {
		return uuid.Nil, fmt.Errorf("cell %s: %w", req.CellID, ErrDuplicateRequest)
	}

	queueID := uuid.New()
	ev, err := eventlog.New(eventlog.TypeExecutionRequested, eventlog.ExecutionRequested{
		QueueID:     queueID,
		CellID:      req.CellID,
		RequestedBy: req.RequestedBy,
		Priority:    req.Priority,
		Kind:        req.Kind,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := m.log.Append(ctx, ev); err != nil {
		return uuid.Nil, err
	}
	if err := m.waiter.Wait(ctx, ev.ID); err != nil {
		return uuid.Nil, err
	}
	return queueID, nil
}

// Assign is a session's optimistic claim on a pending entry. Exactly one
// of any set of racing callers succeeds; the rest get ErrConflict.
func (m *Manager) Assign(ctx context.Context, queueID uuid.UUID, sessionID string) error {
	return m.transition(ctx, eventlog.TypeExecutionAssigned, eventlog.ExecutionAssigned{
		QueueID:   queueID,
		SessionID: sessionID,
	})
}

// Start moves an entry assigned to sessionID into running.
func (m *Manager) Start(ctx context.Context, queueID uuid.UUID, sessionID string) error {
	return m.transition(ctx, eventlog.TypeExecutionStarted, eventlog.ExecutionStarted{
		QueueID:   queueID,
		SessionID: sessionID,
	})
}

// Complete terminates a running entry with completed or error status.
func (m *Manager) Complete(ctx context.Context, queueID uuid.UUID, sessionID string, success bool, errMsg string, duration time.Duration) error {
	status := string(StatusCompleted)
	var errPtr *string
	if !success {
		status = string(StatusError)
		errPtr = &errMsg
	}
	return m.transition(ctx, eventlog.TypeExecutionCompleted, eventlog.ExecutionCompleted{
		QueueID:    queueID,
		SessionID:  sessionID,
		Status:     status,
		Error:      errPtr,
		DurationMs: duration.Milliseconds(),
	})
}

// Cancel terminates an entry from any non-terminal state. Used for
// interrupts and for reclaiming orphaned entries.
func (m *Manager) Cancel(ctx context.Context, queueID uuid.UUID, reason string) error {
	return m.transition(ctx, eventlog.TypeExecutionCancelled, eventlog.ExecutionCancelled{
		QueueID: queueID,
		Reason:  reason,
	})
}

func (m *Manager) transition(ctx context.Context, t eventlog.Type, payload any) error {
	ev, err := eventlog.New(t, payload)
	if err != nil {
		return err
	}
	if _, err := m.log.Append(ctx, ev); err != nil {
		return err
	}
	return m.waiter.Wait(ctx, ev.ID)
}

// Apply implements projector.Applier. It is the single place transitions
// are validated; commands only observe its verdicts.
func (m *Manager) Apply(ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.TypeExecutionRequested:
		return m.applyRequested(ev)
	case eventlog.TypeExecutionAssigned:
		return m.applyAssigned(ev)
	case eventlog.TypeExecutionStarted:
		return m.applyStarted(ev)
	case eventlog.TypeExecutionCompleted:
		return m.applyCompleted(ev)
	case eventlog.TypeExecutionCancelled:
		return m.applyCancelled(ev)
	}
	return nil
}

func (m *Manager) applyRequested(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.ExecutionRequested](ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[p.QueueID]; exists {
		// Same request delivered again.
		return nil
	}
	if _, busy := m.active[p.CellID]; busy {
		return fmt.Errorf("cell %s: %w", p.CellID, ErrDuplicateRequest)
	}

	kind := p.Kind
	if kind == "" {
		kind = DefaultKind
	}
	m.counts[p.CellID]++
	m.entries[p.QueueID] = &Entry{
		ID:             p.QueueID,
		CellID:         p.CellID,
		Kind:           kind,
		ExecutionCount: m.counts[p.CellID],
		RequestedBy:    p.RequestedBy,
		Priority:       p.Priority,
		Status:         StatusPending,
		RequestedAt:    ev.At,
	}
	m.active[p.CellID] = p.QueueID
	m.signal()
	return nil
}

func (m *Manager) applyAssigned(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.ExecutionAssigned](ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p.QueueID]
	if !ok {
		return fmt.Errorf("assign %s: %w", p.QueueID, ErrNotFound)
	}
	if e.Status == StatusAssigned && e.AssignedSessionID == p.SessionID {
		return nil // at-least-once redelivery
	}
	if e.Status != StatusPending {
		return fmt.Errorf("assign %s to %s: status %s: %w", p.QueueID, p.SessionID, e.Status, ErrConflict)
	}
	e.Status = StatusAssigned
	e.AssignedSessionID = p.SessionID
	return nil
}

func (m *Manager) applyStarted(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.ExecutionStarted](ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p.QueueID]
	if !ok {
		return fmt.Errorf("start %s: %w", p.QueueID, ErrNotFound)
	}
	if e.Status == StatusRunning && e.AssignedSessionID == p.SessionID {
		return nil
	}
	if e.Status != StatusAssigned || e.AssignedSessionID != p.SessionID {
		return fmt.Errorf("start %s by %s: status %s held by %q: %w",
			p.QueueID, p.SessionID, e.Status, e.AssignedSessionID, ErrInvalidTransition)
	}
	at := ev.At
	e.Status = StatusRunning
	e.StartedAt = &at
	return nil
}

func (m *Manager) applyCompleted(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.ExecutionCompleted](ev)
	if err != nil {
		return err
	}

	target := Status(p.Status)
	if target != StatusCompleted && target != StatusError {
		return fmt.Errorf("complete %s with status %q: %w", p.QueueID, p.Status, ErrInvalidTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p.QueueID]
	if !ok {
		return fmt.Errorf("complete %s: %w", p.QueueID, ErrNotFound)
	}
	if e.Status == target && e.AssignedSessionID == p.SessionID {
		return nil
	}
	if e.Status != StatusRunning || e.AssignedSessionID != p.SessionID {
		return fmt.Errorf("complete %s by %s: status %s held by %q: %w",
			p.QueueID, p.SessionID, e.Status, e.AssignedSessionID, ErrInvalidTransition)
	}
	at := ev.At
	e.Status = target
	e.CompletedAt = &at
	e.ErrorMessage = p.Error
	e.DurationMs = p.DurationMs
	delete(m.active, e.CellID)
	return nil
}

func (m *Manager) applyCancelled(ev eventlog.Event) error {
	p, err := eventlog.Decode[eventlog.ExecutionCancelled](ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p.QueueID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", p.QueueID, ErrNotFound)
	}
	if e.Status == StatusCancelled {
		return nil
	}
	if e.Status.Terminal() {
		return fmt.Errorf("cancel %s: status %s: %w", p.QueueID, e.Status, ErrInvalidTransition)
	}
	at := ev.At
	e.Status = StatusCancelled
	e.CompletedAt = &at
	reason := p.Reason
	e.ErrorMessage = &reason
	delete(m.active, e.CellID)
	return nil
}

// Get returns a copy of the entry with the given id.
func (m *Manager) Get(queueID uuid.UUID) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[queueID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ActiveEntry returns the cell's current non-terminal entry, if any.
func (m *Manager) ActiveEntry(cellID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[cellID]
	if !ok {
		return Entry{}, false
	}
	return *m.entries[id], true
}

// Pending lists pending entries of the given capability class ordered by
// priority descending, then request time ascending. Ties break on id so
// every session scans in the same order.
func (m *Manager) Pending(kind string) []Entry {
	m.mu.RLock()
	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusPending && e.Kind == kind {
			out = append(out, *e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Held lists entries currently assigned to or running on a session.
func (m *Manager) Held(sessionID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.AssignedSessionID == sessionID &&
			(e.Status == StatusAssigned || e.Status == StatusRunning) {
			out = append(out, *e)
		}
	}
	return out
}

// NonTerminal lists every entry still in flight, for health scans.
func (m *Manager) NonTerminal() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if !e.Status.Terminal() {
			out = append(out, *e)
		}
	}
	return out
}

// List returns every known entry, newest request first.
func (m *Manager) List() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out
}

// ExecutionCount reports the cell's request high-water mark.
func (m *Manager) ExecutionCount(cellID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[cellID]
}
