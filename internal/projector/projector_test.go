package projector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cellplane/internal/eventlog"
)

type applierFunc func(ev eventlog.Event) error

func (f applierFunc) Apply(ev eventlog.Event) error { return f(ev) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects applied events in order.
type recorder struct {
	mu   sync.Mutex
	seqs []int64
}

func (r *recorder) Apply(ev eventlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, ev.Seq)
	return nil
}

func (r *recorder) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.seqs))
	copy(out, r.seqs)
	return out
}

func appendEvent(t *testing.T, log eventlog.Log, typ eventlog.Type, payload any) eventlog.Event {
	t.Helper()
	ev, err := eventlog.New(typ, payload)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seq, err := log.Append(context.Background(), ev)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	ev.Seq = seq
	return ev
}

func TestRun_AppliesHistoryThenLive(t *testing.T) {
	log := eventlog.NewMemoryLog()
	rec := &recorder{}
	p := New(log, testLogger(), rec)

	// Two events committed before the projector starts.
	appendEvent(t, log, eventlog.TypeSessionStarted, eventlog.SessionStarted{SessionID: "sess-1"})
	appendEvent(t, log, eventlog.TypeSessionRenewed, eventlog.SessionRenewed{SessionID: "sess-1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Wait for the replay, then commit a live event.
	waitFor(t, func() bool { return p.LastSeq() >= 2 })
	appendEvent(t, log, eventlog.TypeSessionTerminated, eventlog.SessionTerminated{SessionID: "sess-1"})
	waitFor(t, func() bool { return p.LastSeq() >= 3 })

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 applied events, got %d", len(got))
	}
	for i, seq := range got {
		if seq != int64(i+1) {
			t.Errorf("position %d: got seq %d, want %d", i, seq, i+1)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestWait_ReturnsApplyOutcome(t *testing.T) {
	log := eventlog.NewMemoryLog()
	rejection := errors.New("claim lost")
	p := New(log, testLogger(), applierFunc(func(ev eventlog.Event) error {
		if ev.Type == eventlog.TypeExecutionAssigned {
			return rejection
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	accepted := appendEvent(t, log, eventlog.TypeSessionStarted, eventlog.SessionStarted{SessionID: "sess-1"})
	rejected := appendEvent(t, log, eventlog.TypeExecutionAssigned, eventlog.ExecutionAssigned{SessionID: "sess-1"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	if err := p.Wait(waitCtx, accepted.ID); err != nil {
		t.Errorf("Wait on accepted event = %v, want nil", err)
	}
	if err := p.Wait(waitCtx, rejected.ID); !errors.Is(err, rejection) {
		t.Errorf("Wait on rejected event = %v, want %v", err, rejection)
	}

	// Outcomes stay resolvable after the fact.
	if err := p.Wait(waitCtx, rejected.ID); !errors.Is(err, rejection) {
		t.Errorf("second Wait on rejected event = %v, want %v", err, rejection)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	log := eventlog.NewMemoryLog()
	p := New(log, testLogger())

	ev, err := eventlog.New(eventlog.TypeSessionStarted, eventlog.SessionStarted{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The event was never committed, so Wait can only end with the context.
	if err := p.Wait(ctx, ev.ID); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestWait_FailsWhenRunStops(t *testing.T) {
	log := eventlog.NewMemoryLog()
	p := New(log, testLogger())

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()

	ev, err := eventlog.New(eventlog.TypeSessionStarted, eventlog.SessionStarted{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// The event is never committed; this wait can only resolve when the
	// apply loop stops. Its own context has no deadline.
	waitErr := make(chan error, 1)
	go func() { waitErr <- p.Wait(context.Background(), ev.ID) }()

	cancel()

	select {
	case err := <-waitErr:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("pending Wait = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending Wait hung after the apply loop stopped")
	}
	<-done

	// Waits registered after the stop fail fast with the same cause.
	err = p.Wait(context.Background(), ev.ID)
	if !errors.Is(err, ErrStopped) || !errors.Is(err, context.Canceled) {
		t.Errorf("late Wait = %v, want ErrStopped wrapping context.Canceled", err)
	}
}

func TestCatchUp_OneShot(t *testing.T) {
	log := eventlog.NewMemoryLog()
	rec := &recorder{}
	p := New(log, testLogger(), rec)

	for i := 0; i < 5; i++ {
		appendEvent(t, log, eventlog.TypeSessionRenewed, eventlog.SessionRenewed{SessionID: "sess-1"})
	}

	if err := p.CatchUp(context.Background()); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if p.LastSeq() != 5 {
		t.Errorf("LastSeq = %d, want 5", p.LastSeq())
	}
	if got := rec.snapshot(); len(got) != 5 {
		t.Errorf("expected 5 applied events, got %d", len(got))
	}

	// A second catch-up applies nothing new.
	if err := p.CatchUp(context.Background()); err != nil {
		t.Fatalf("second CatchUp failed: %v", err)
	}
	if got := rec.snapshot(); len(got) != 5 {
		t.Errorf("expected 5 applied events after re-run, got %d", len(got))
	}
}

func TestApply_RedeliveryIsNoOp(t *testing.T) {
	log := eventlog.NewMemoryLog()
	var calls int
	p := New(log, testLogger(), applierFunc(func(ev eventlog.Event) error {
		calls++
		return nil
	}))

	ev := appendEvent(t, log, eventlog.TypeSessionStarted, eventlog.SessionStarted{SessionID: "sess-1"})
	if err := p.CatchUp(context.Background()); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}

	p.apply(ev)
	p.apply(ev)

	if calls != 1 {
		t.Errorf("applier called %d times, want 1", calls)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
