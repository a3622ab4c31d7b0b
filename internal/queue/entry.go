// Package queue contains the execution queue state machine. Entries move
// strictly forward through pending → assigned → running → terminal, and
// at most one non-terminal entry exists per cell at a time.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal entries are
// immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// DefaultKind is the capability class assumed when a request names none.
const DefaultKind = "code"

var (
	// ErrDuplicateRequest rejects a new request for a cell that already
	// has a non-terminal entry.
	ErrDuplicateRequest = errors.New("cell already has a queued or running execution")

	// ErrConflict rejects an assignment that lost the claim race. The
	// caller is expected to re-read pending work and retry.
	ErrConflict = errors.New("entry already claimed")

	// ErrInvalidTransition rejects an out-of-order transition. This is
	// a programming error on the caller's side and is never retried.
	ErrInvalidTransition = errors.New("invalid queue entry transition")

	// ErrNotFound rejects a transition for an unknown entry.
	ErrNotFound = errors.New("queue entry not found")
)

// Entry is one execution request and its lifecycle state. Once the
// status is terminal the entry never changes again.
type Entry struct {
	ID                uuid.UUID
	CellID            string
	Kind              string
	ExecutionCount    int
	RequestedBy       string
	Priority          int
	Status            Status
	AssignedSessionID string
	RequestedAt       time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ErrorMessage      *string
	DurationMs        int64
}

// ExecutionRequest carries the caller-facing parameters of a new
// execution request.
type ExecutionRequest struct {
	CellID      string
	RequestedBy string
	Priority    int
	Kind        string // defaults to DefaultKind
}
