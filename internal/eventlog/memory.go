package eventlog

import (
	"context"
	"sync"
	"time"
)

// subscriberBuffer bounds how many undelivered events a subscription may
// hold before it is dropped.
const subscriberBuffer = 256

// MemoryLog is an in-process Log. It serves single-process deployments
// and tests; multi-process deployments use the postgres implementation
// behind the same interface.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
	subs   map[*memorySub]struct{}
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{subs: make(map[*memorySub]struct{})}
}

// Append commits the event, assigns the next sequence number and fans it
// out to subscribers. Subscribers that cannot keep up are closed with
// ErrSlowSubscriber rather than blocking the commit.
func (l *MemoryLog) Append(ctx context.Context, ev Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = int64(len(l.events)) + 1
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	l.events = append(l.events, ev)

	for sub := range l.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.err = ErrSlowSubscriber
			close(sub.ch)
			delete(l.subs, sub)
		}
	}

	return ev.Seq, nil
}

// Read returns committed events after the given sequence number.
func (l *MemoryLog) Read(ctx context.Context, after int64, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if after < 0 {
		after = 0
	}
	if after >= int64(len(l.events)) {
		return nil, nil
	}

	tail := l.events[after:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}

	out := make([]Event, len(tail))
	copy(out, tail)
	return out, nil
}

// Subscribe registers a new reactive reader.
func (l *MemoryLog) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{
		log: l,
		ch:  make(chan Event, subscriberBuffer),
	}

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	return sub, nil
}

type memorySub struct {
	log    *MemoryLog
	ch     chan Event
	err    error
	closed bool
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Err() error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.err
}

func (s *memorySub) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	if s.closed || s.err != nil {
		s.closed = true
		return
	}
	s.closed = true
	close(s.ch)
	delete(s.log.subs, s)
}
