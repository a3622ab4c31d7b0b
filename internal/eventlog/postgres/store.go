// Package postgres implements the document event log on PostgreSQL.
// Sequence numbers come from the events table's BIGSERIAL column, so
// every process attached to the same database observes the same order.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"cellplane/internal/eventlog"

	_ "github.com/lib/pq"
)

const (
	// defaultPollInterval is how often a subscription tails the table
	// for newly committed events.
	defaultPollInterval = 500 * time.Millisecond

	// pollBatch bounds how many rows one poll reads.
	pollBatch = 256
)

// Store is a PostgreSQL-backed eventlog.Log scoped to one document.
type Store struct {
	db           *sql.DB
	documentID   string
	pollInterval time.Duration
}

// New connects to PostgreSQL, runs pending migrations and returns a log
// scoped to the given document.
func New(ctx context.Context, databaseURL, documentID string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		documentID:   documentID,
		pollInterval: defaultPollInterval,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append commits the event and returns the sequence number the database
// assigned to it. Appends to one document are serialized under a
// per-document advisory lock so sequence order equals commit order:
// without it, a writer holding a lower BIGSERIAL value could commit
// after a higher one, and a subscription polling in that window would
// advance its cursor past the still-uncommitted event and never see it.
func (s *Store) Append(ctx context.Context, ev eventlog.Event) (int64, error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, s.documentID,
	); err != nil {
		return 0, fmt.Errorf("failed to lock document log: %w", err)
	}

	query := `
		INSERT INTO document_events (id, document_id, event_type, at, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`

	var seq int64
	err = tx.QueryRowContext(ctx, query, ev.ID, s.documentID, string(ev.Type), ev.At, []byte(ev.Payload)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append %s event: %w", ev.Type, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s event: %w", ev.Type, err)
	}

	return seq, nil
}

// Read returns up to limit committed events with Seq > after, in
// sequence order. limit <= 0 means no limit.
func (s *Store) Read(ctx context.Context, after int64, limit int) ([]eventlog.Event, error) {
	query := `
		SELECT seq, id, event_type, at, payload
		FROM document_events
		WHERE document_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	args := []interface{}{s.documentID, after}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var (
			ev      eventlog.Event
			evType  string
			payload []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &evType, &ev.At, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Type = eventlog.Type(evType)
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows error: %w", err)
	}

	return events, nil
}

// Subscribe tails the events table by polling. Delivery starts with the
// first event committed after the call.
func (s *Store) Subscribe(ctx context.Context) (eventlog.Subscription, error) {
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM document_events WHERE document_id = $1`,
		s.documentID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to read log head: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &pollSub{
		ch:     make(chan eventlog.Event, pollBatch),
		cancel: cancel,
	}

	go sub.run(subCtx, s, last)

	return sub, nil
}

type pollSub struct {
	ch     chan eventlog.Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *pollSub) Events() <-chan eventlog.Event { return s.ch }

func (s *pollSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pollSub) Close() { s.cancel() }

func (s *pollSub) run(ctx context.Context, store *Store, last int64) {
	defer close(s.ch)

	ticker := time.NewTicker(store.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events, err := store.Read(ctx, last, pollBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		for _, ev := range events {
			select {
			case s.ch <- ev:
				last = ev.Seq
			case <-ctx.Done():
				return
			}
		}
	}
}
