// Package worker contains the runtime session agent: the claim loop,
// the heartbeat, and the bridge between the execution backend and the
// output aggregator.
package worker

import (
	"context"
	"encoding/json"

	"cellplane/internal/interrupt"
	"cellplane/internal/outputs"

	"github.com/google/uuid"
)

// Request carries one claimed execution into the backend.
type Request struct {
	QueueID        uuid.UUID
	CellID         string
	ExecutionCount int
	Source         string
}

// Outcome is the backend's verdict on a finished execution. A failed
// execution is data, not an infrastructure error: it surfaces as an
// error output plus an error-status completion, never as a panic across
// the worker boundary.
type Outcome struct {
	Success bool
	Error   string
}

// Handler is the execution backend contract. The handler receives the
// cell's source and an output context; it calls the context's primitives
// zero or more times and is expected to poll Interrupted at safe points.
type Handler interface {
	Execute(ctx context.Context, req Request, out *OutputContext) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request, out *OutputContext) (Outcome, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request, out *OutputContext) (Outcome, error) {
	return f(ctx, req, out)
}

// SourceResolver fetches a cell's source text. The document layer owns
// cells; the worker only references them.
type SourceResolver interface {
	Source(ctx context.Context, cellID string) (string, error)
}

// OutputContext is the narrow surface a handler uses to emit outputs.
// All writes land as ordered records for the handler's cell.
type OutputContext struct {
	queueID    uuid.UUID
	cellID     string
	sessionID  string
	outputs    *outputs.Aggregator
	interrupts *interrupt.Controller
}

// Stdout appends a stdout fragment.
func (o *OutputContext) Stdout(ctx context.Context, text string) error {
	_, err := o.outputs.AppendTerminal(ctx, o.cellID, outputs.StreamStdout, text)
	return err
}

// Stderr appends a stderr fragment.
func (o *OutputContext) Stderr(ctx context.Context, text string) error {
	_, err := o.outputs.AppendTerminal(ctx, o.cellID, outputs.StreamStderr, text)
	return err
}

// Display appends a multimedia display record keyed by content type.
func (o *OutputContext) Display(ctx context.Context, representations map[string]json.RawMessage, metadata map[string]string) error {
	_, err := o.outputs.AppendDisplay(ctx, o.cellID, representations, metadata)
	return err
}

// Result appends the execution-result record of the run.
func (o *OutputContext) Result(ctx context.Context, representations map[string]json.RawMessage, metadata map[string]string) error {
	_, err := o.outputs.AppendResult(ctx, o.cellID, representations, metadata)
	return err
}

// Error appends an interpreter error record.
func (o *OutputContext) Error(ctx context.Context, name, message string, trace []string) error {
	_, err := o.outputs.AppendError(ctx, o.cellID, name, message, trace)
	return err
}

// Clear truncates the cell's prior outputs.
func (o *OutputContext) Clear(ctx context.Context) error {
	return o.outputs.Clear(ctx, o.cellID, o.sessionID)
}

// Interrupted reports whether an interrupt is pending for this
// execution. Handlers poll it at safe points and stop cooperatively.
func (o *OutputContext) Interrupted() bool {
	return o.interrupts.IsPending(o.queueID)
}
