// Package projector drives the deterministic materialization of a
// document's event log. Committed events are applied in sequence order on
// a single goroutine to every registered reducer, and the apply outcome
// of each event is retained so that the appender of an optimistic write
// (a claim, a transition) can learn whether it won or was rejected.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cellplane/internal/eventlog"

	"github.com/google/uuid"
)

// ErrStopped is returned from Wait when the apply loop has exited.
// Outcomes can no longer arrive, so blocking further would hang the
// caller forever.
var ErrStopped = errors.New("projector stopped")

// outcomeHistory bounds how many per-event outcomes are retained.
const outcomeHistory = 4096

// readBatch is the page size used when catching up via Read.
const readBatch = 500

// Applier is a reducer over the event log. Apply is called exactly once
// per committed event, in sequence order, on the projector goroutine.
// Returning an error marks the event rejected; appliers must ignore
// event types they do not own by returning nil.
type Applier interface {
	Apply(ev eventlog.Event) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ev eventlog.Event) error

func (f ApplierFunc) Apply(ev eventlog.Event) error { return f(ev) }

// Waiter resolves the apply outcome of a committed event. A nil result
// means every reducer accepted the event.
type Waiter interface {
	Wait(ctx context.Context, eventID uuid.UUID) error
}

// Projector subscribes to a log and feeds committed events to its
// appliers in order.
type Projector struct {
	log      eventlog.Log
	appliers []Applier
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeq  int64
	outcomes map[uuid.UUID]error
	applied  map[uuid.UUID]bool
	order    []uuid.UUID
	waiters  map[uuid.UUID][]chan error
	stopErr  error
}

// New creates a projector over the given log and reducers.
func New(log eventlog.Log, logger *slog.Logger, appliers ...Applier) *Projector {
	return &Projector{
		log:      log,
		appliers: appliers,
		logger:   logger,
		outcomes: make(map[uuid.UUID]error),
		applied:  make(map[uuid.UUID]bool),
		waiters:  make(map[uuid.UUID][]chan error),
	}
}

// Run blocks, applying committed events until the context is cancelled.
// It first replays history, then follows the reactive subscription. If
// the subscription is dropped for falling behind, it re-reads from the
// last applied sequence and resubscribes.
func (p *Projector) Run(ctx context.Context) error {
	for {
		sub, err := p.log.Subscribe(ctx)
		if err != nil {
			return p.stop(err)
		}

		// Catch up on everything committed before the subscription.
		if err := p.catchUp(ctx); err != nil {
			sub.Close()
			return p.stop(err)
		}

	deliver:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return p.stop(ctx.Err())
			case ev, ok := <-sub.Events():
				if !ok {
					if sub.Err() == eventlog.ErrSlowSubscriber {
						p.logger.Warn("projector fell behind, re-reading log")
						break deliver
					}
					return p.stop(sub.Err())
				}
				p.apply(ev)
			}
		}
	}
}

// stop records why the apply loop exited and fails every pending and
// future Wait with it. It returns the cause for Run's own return value.
func (p *Projector) stop(cause error) error {
	err := ErrStopped
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrStopped, cause)
	}

	p.mu.Lock()
	p.stopErr = err
	for id, chs := range p.waiters {
		for _, ch := range chs {
			ch <- err
		}
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	return cause
}

// CatchUp applies all committed history without subscribing. It is used
// by one-shot readers (CLI commands) that want a materialized view
// without a long-running goroutine.
func (p *Projector) CatchUp(ctx context.Context) error {
	return p.catchUp(ctx)
}

func (p *Projector) catchUp(ctx context.Context) error {
	for {
		p.mu.Lock()
		after := p.lastSeq
		p.mu.Unlock()

		events, err := p.log.Read(ctx, after, readBatch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			p.apply(ev)
		}
	}
}

func (p *Projector) apply(ev eventlog.Event) {
	p.mu.Lock()
	if ev.Seq <= p.lastSeq || p.applied[ev.ID] {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	var outcome error
	for _, a := range p.appliers {
		if err := a.Apply(ev); err != nil && outcome == nil {
			outcome = err
		}
	}

	if outcome != nil {
		p.logger.Debug("event rejected",
			"event_id", ev.ID, "type", string(ev.Type), "seq", ev.Seq, "error", outcome)
	}

	p.mu.Lock()
	p.lastSeq = ev.Seq
	p.applied[ev.ID] = true
	p.outcomes[ev.ID] = outcome
	p.order = append(p.order, ev.ID)
	if len(p.order) > outcomeHistory {
		evict := p.order[0]
		p.order = p.order[1:]
		delete(p.outcomes, evict)
		delete(p.applied, evict)
	}
	for _, ch := range p.waiters[ev.ID] {
		ch <- outcome
	}
	delete(p.waiters, ev.ID)
	p.mu.Unlock()
}

// Wait blocks until the event with the given id has been applied and
// returns its outcome: nil if accepted, the reducer's rejection
// otherwise.
func (p *Projector) Wait(ctx context.Context, eventID uuid.UUID) error {
	p.mu.Lock()
	if p.applied[eventID] {
		outcome := p.outcomes[eventID]
		p.mu.Unlock()
		return outcome
	}
	if p.stopErr != nil {
		stopErr := p.stopErr
		p.mu.Unlock()
		return stopErr
	}
	ch := make(chan error, 1)
	p.waiters[eventID] = append(p.waiters[eventID], ch)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

// LastSeq reports the sequence number of the most recently applied event.
func (p *Projector) LastSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}
