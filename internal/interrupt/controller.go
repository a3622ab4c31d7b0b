// Package interrupt routes cooperative interrupt requests to the session
// holding a cell's active execution. Delivery is advisory: the holding
// session checks for pending interrupts at safe points, and the health
// monitor cancels unilaterally if it never responds within the grace
// period.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cellplane/internal/eventlog"
	"cellplane/internal/projector"
	"cellplane/internal/queue"

	"github.com/google/uuid"
)

// ErrNoActiveExecution rejects interrupting a cell whose entry is not
// currently held by a session.
var ErrNoActiveExecution = errors.New("cell has no claimed execution to interrupt")

// EntryResolver looks up a cell's current non-terminal queue entry.
type EntryResolver interface {
	ActiveEntry(cellID string) (queue.Entry, bool)
}

// Request is one pending interrupt addressed to a session.
type Request struct {
	QueueID     uuid.UUID
	CellID      string
	SessionID   string
	RequestedBy string
	Reason      string
	RequestedAt time.Time
}

// Controller materializes pending interrupts from the log.
type Controller struct {
	log      eventlog.Log
	waiter   projector.Waiter
	resolver EntryResolver

	mu      sync.RWMutex
	pending map[uuid.UUID]Request // by queue entry id
}

// NewController creates a controller bound to a log.
func NewController(log eventlog.Log, waiter projector.Waiter, resolver EntryResolver) *Controller {
	return &Controller{
		log:      log,
		waiter:   waiter,
		resolver: resolver,
		pending:  make(map[uuid.UUID]Request),
	}
}

// RequestInterrupt appends an interrupt request addressed to the session
// holding the cell's active entry. Pending (unclaimed) entries have no
// holder; cancel those through the queue manager instead.
func (c *Controller) RequestInterrupt(ctx context.Context, cellID, requestedBy, reason string) error {
	e, ok := c.resolver.ActiveEntry(cellID)
	if !ok || (e.Status != queue.StatusAssigned && e.Status != queue.StatusRunning) {
		return fmt.Errorf("cell %s: %w", cellID, ErrNoActiveExecution)
	}

	ev, err := eventlog.New(eventlog.TypeInterruptRequested, eventlog.InterruptRequested{
		QueueID:     e.ID,
		CellID:      cellID,
		SessionID:   e.AssignedSessionID,
		RequestedBy: requestedBy,
		Reason:      reason,
	})
	if err != nil {
		return err
	}
	if _, err := c.log.Append(ctx, ev); err != nil {
		return err
	}
	return c.waiter.Wait(ctx, ev.ID)
}

// Apply implements projector.Applier. A terminal transition of the entry
// retires its pending interrupt.
func (c *Controller) Apply(ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.TypeInterruptRequested:
		p, err := eventlog.Decode[eventlog.InterruptRequested](ev)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if _, dup := c.pending[p.QueueID]; !dup {
			c.pending[p.QueueID] = Request{
				QueueID:     p.QueueID,
				CellID:      p.CellID,
				SessionID:   p.SessionID,
				RequestedBy: p.RequestedBy,
				Reason:      p.Reason,
				RequestedAt: ev.At,
			}
		}
		c.mu.Unlock()
		return nil

	case eventlog.TypeExecutionCompleted:
		p, err := eventlog.Decode[eventlog.ExecutionCompleted](ev)
		if err != nil {
			return err
		}
		c.retireIfTerminal(p.QueueID)
		return nil

	case eventlog.TypeExecutionCancelled:
		p, err := eventlog.Decode[eventlog.ExecutionCancelled](ev)
		if err != nil {
			return err
		}
		c.retireIfTerminal(p.QueueID)
		return nil
	}
	return nil
}

// retireIfTerminal drops the entry's pending interrupt only if the
// queue reducer, which runs before this one, actually accepted the
// terminal transition. A completion the queue rejected (wrong session,
// wrong state) leaves the entry active, and the interrupt must stay
// armed for the grace-period scan.
func (c *Controller) retireIfTerminal(queueID uuid.UUID) {
	c.mu.RLock()
	r, ok := c.pending[queueID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if e, active := c.resolver.ActiveEntry(r.CellID); active && e.ID == queueID {
		return
	}
	c.mu.Lock()
	delete(c.pending, queueID)
	c.mu.Unlock()
}

// IsPending reports whether the entry has an unanswered interrupt. The
// holding session polls this from its execution context.
func (c *Controller) IsPending(queueID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pending[queueID]
	return ok
}

// PendingFor lists unanswered interrupts addressed to a session.
func (c *Controller) PendingFor(sessionID string) []Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Request
	for _, r := range c.pending {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// All lists every unanswered interrupt, for grace-period enforcement.
func (c *Controller) All() []Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Request, 0, len(c.pending))
	for _, r := range c.pending {
		out = append(out, r)
	}
	return out
}
