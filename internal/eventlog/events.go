// Package eventlog defines the append-only event model for a document.
// Every state change in the system is recorded as a typed event; all
// processes attached to the same document reduce over the same ordered
// sequence of events and therefore converge on the same state.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of an event on the log.
type Type string

const (
	TypeExecutionRequested Type = "execution-requested"
	TypeExecutionAssigned  Type = "execution-assigned"
	TypeExecutionStarted   Type = "execution-started"
	TypeExecutionCompleted Type = "execution-completed"
	TypeExecutionCancelled Type = "execution-cancelled"
	TypeInterruptRequested Type = "interrupt-requested"
	TypeOutputAppended     Type = "output-appended"
	TypeOutputsCleared     Type = "outputs-cleared"
	TypeSessionStarted     Type = "runtime-session-started"
	TypeSessionRenewed     Type = "runtime-session-renewed"
	TypeSessionTerminated  Type = "runtime-session-terminated"
)

// Event is one committed entry on a document's log. After commit it is
// immutable. Seq is assigned by the log at commit time and is strictly
// increasing per document; At is the commit timestamp and is the only
// clock reducers may consult, so that every process applying the same
// sequence reaches the same state.
type Event struct {
	ID      uuid.UUID       `json:"id"`
	Seq     int64           `json:"seq"`
	Type    Type            `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// New builds an uncommitted event with a fresh id and the payload
// marshalled to JSON. Seq is zero until the log commits it.
func New(t Type, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		ID:      uuid.New(),
		Type:    t,
		At:      time.Now().UTC(),
		Payload: raw,
	}, nil
}

// Decode unmarshals an event's payload into the typed payload struct.
func Decode[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
	}
	return out, nil
}

// ExecutionRequested enqueues a new pending execution for a cell. Kind
// names the capability class a session must declare to claim the entry.
type ExecutionRequested struct {
	QueueID     uuid.UUID `json:"queue_id"`
	CellID      string    `json:"cell_id"`
	RequestedBy string    `json:"requested_by"`
	Priority    int       `json:"priority"`
	Kind        string    `json:"kind"`
}

// ExecutionAssigned is a session's optimistic claim on a pending entry.
// Only the first assignment applied against a pending entry wins; later
// ones are rejected by the queue reducer.
type ExecutionAssigned struct {
	QueueID   uuid.UUID `json:"queue_id"`
	SessionID string    `json:"session_id"`
}

// ExecutionStarted marks the claimed entry as running.
type ExecutionStarted struct {
	QueueID   uuid.UUID `json:"queue_id"`
	SessionID string    `json:"session_id"`
}

// ExecutionCompleted terminates a running entry with success or error.
type ExecutionCompleted struct {
	QueueID    uuid.UUID `json:"queue_id"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"` // "completed" or "error"
	Error      *string   `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// ExecutionCancelled terminates an entry from any non-terminal state.
type ExecutionCancelled struct {
	QueueID uuid.UUID `json:"queue_id"`
	Reason  string    `json:"reason"`
}

// InterruptRequested asks the session holding a cell's active entry to
// stop at its next safe point. Delivery is cooperative.
type InterruptRequested struct {
	QueueID     uuid.UUID `json:"queue_id"`
	CellID      string    `json:"cell_id"`
	SessionID   string    `json:"session_id"`
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason"`
}

// OutputAppended records one typed output for a cell. Position is
// assigned by the emitting session (the single writer for the cell while
// it runs) and validated as gapless by the output reducer.
type OutputAppended struct {
	OutputID        uuid.UUID                  `json:"output_id"`
	CellID          string                     `json:"cell_id"`
	OutputType      string                     `json:"output_type"`
	StreamName      string                     `json:"stream_name,omitempty"`
	Text            string                     `json:"text,omitempty"`
	Representations map[string]json.RawMessage `json:"representations,omitempty"`
	Position        int                        `json:"position"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
}

// OutputsCleared logically truncates a cell's outputs. It is an explicit
// marker on the log, never a deletion of history.
type OutputsCleared struct {
	CellID    string `json:"cell_id"`
	ClearedBy string `json:"cleared_by"`
}

// SessionStarted announces a connected worker process.
type SessionStarted struct {
	SessionID    string   `json:"session_id"`
	RuntimeID    string   `json:"runtime_id"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
	ValidForMs   int64    `json:"valid_for_ms"`
}

// SessionRenewed extends a session's liveness lease.
type SessionRenewed struct {
	SessionID  string `json:"session_id"`
	ValidForMs int64  `json:"valid_for_ms"`
}

// SessionTerminated removes a session, releasing its claim eligibility.
type SessionTerminated struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}
