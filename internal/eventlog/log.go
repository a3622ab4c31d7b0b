package eventlog

import (
	"context"
	"errors"
)

// ErrSlowSubscriber is reported by a subscription whose buffer overflowed.
// The subscriber must re-read from its last applied sequence.
var ErrSlowSubscriber = errors.New("subscriber fell behind, buffer overflow")

// Log is the per-document append-only event store. Implementations must
// provide a total order per document: Append assigns a strictly
// increasing sequence number, Read returns events in sequence order, and
// Subscribe delivers committed events in the same order.
type Log interface {
	// Append commits an event and returns its assigned sequence number.
	Append(ctx context.Context, ev Event) (int64, error)

	// Read returns up to limit committed events with Seq > after,
	// in sequence order. limit <= 0 means no limit.
	Read(ctx context.Context, after int64, limit int) ([]Event, error)

	// Subscribe registers a reactive reader of newly committed events.
	// Delivery starts with the first event committed after the call.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one reactive reader of the log. Events are delivered
// through a bounded buffer; if the reader falls behind, the subscription
// is closed with ErrSlowSubscriber and the reader must catch up via Read.
type Subscription interface {
	// Events returns the delivery channel. It is closed when the
	// subscription ends for any reason.
	Events() <-chan Event

	// Err reports why the subscription ended, nil after a plain Close.
	Err() error

	// Close unregisters the subscription. Safe to call more than once.
	Close()
}
