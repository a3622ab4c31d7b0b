// Package api contains shared JSON view structs for materialized state.
// This package is shared between the CLI and the worker's status surface.
package api

import (
	"encoding/json"
	"time"
)

// QueueEntryView is the JSON form of one execution queue entry.
type QueueEntryView struct {
	ID                string     `json:"id"`
	CellID            string     `json:"cell_id"`
	Kind              string     `json:"kind"`
	ExecutionCount    int        `json:"execution_count"`
	RequestedBy       string     `json:"requested_by"`
	Priority          int        `json:"priority"`
	Status            string     `json:"status"`
	AssignedSessionID string     `json:"assigned_session_id,omitempty"`
	RequestedAt       time.Time  `json:"requested_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Error             *string    `json:"error,omitempty"`
	DurationMs        int64      `json:"duration_ms,omitempty"`
}

// SessionView is the JSON form of one runtime session.
type SessionView struct {
	SessionID     string    `json:"session_id"`
	RuntimeID     string    `json:"runtime_id"`
	Kind          string    `json:"kind"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Status        string    `json:"status"`
	Health        string    `json:"health"`
	LastRenewedAt time.Time `json:"last_renewed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// OutputView is the JSON form of one cell output record.
type OutputView struct {
	ID              string                     `json:"id"`
	CellID          string                     `json:"cell_id"`
	OutputType      string                     `json:"output_type"`
	StreamName      string                     `json:"stream_name,omitempty"`
	Text            string                     `json:"text,omitempty"`
	Representations map[string]json.RawMessage `json:"representations,omitempty"`
	Position        int                        `json:"position"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
}

// InterruptView is the JSON form of one pending interrupt.
type InterruptView struct {
	QueueID     string    `json:"queue_id"`
	CellID      string    `json:"cell_id"`
	SessionID   string    `json:"session_id"`
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// DocumentStatus is the full materialized view of a document: its queue,
// sessions, and pending interrupts.
type DocumentStatus struct {
	DocumentID string           `json:"document_id"`
	AsOfSeq    int64            `json:"as_of_seq"`
	Queue      []QueueEntryView `json:"queue"`
	Sessions   []SessionView    `json:"sessions"`
	Interrupts []InterruptView  `json:"interrupts,omitempty"`
}

// CellOutputs is the consolidated output view for one cell.
type CellOutputs struct {
	CellID  string       `json:"cell_id"`
	Outputs []OutputView `json:"outputs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Priority levels for execution requests
const (
	PriorityLow      = 0
	PriorityNormal   = 50
	PriorityHigh     = 75
	PriorityCritical = 100

	PriorityMin = 0
	PriorityMax = 100
)
