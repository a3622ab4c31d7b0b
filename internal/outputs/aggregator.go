// Package outputs maintains the ordered, typed output sequence of each
// cell and the read-time consolidation of terminal stream fragments.
package outputs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cellplane/internal/eventlog"
	"cellplane/internal/projector"

	"github.com/google/uuid"
)

// OutputType classifies one output record.
type OutputType string

const (
	TypeTerminal          OutputType = "terminal"
	TypeMultimediaDisplay OutputType = "multimedia_display"
	TypeMultimediaResult  OutputType = "multimedia_result"
	TypeError             OutputType = "error"
)

// Stream names for terminal output.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ErrPositionGap rejects an output whose position is not the cell's next
// expected one. Positions are gapless and strictly increasing since the
// last clear.
var ErrPositionGap = fmt.Errorf("output position out of sequence")

// Record is one materialized output of a cell.
type Record struct {
	ID              uuid.UUID
	CellID          string
	Type            OutputType
	StreamName      string
	Text            string
	Representations map[string]json.RawMessage
	Position        int
	Metadata        map[string]string
}

// Aggregator materializes per-cell output sequences from the log and
// appends new ones. The running session is the only writer for a cell,
// so it can assign positions locally; the reducer still validates them.
type Aggregator struct {
	log    eventlog.Log
	waiter projector.Waiter

	mu      sync.RWMutex
	records map[string][]Record // cellID -> ordered records
	next    map[string]int      // cellID -> next position
}

// NewAggregator creates an empty aggregator bound to a log.
func NewAggregator(log eventlog.Log, waiter projector.Waiter) *Aggregator {
	return &Aggregator{
		log:     log,
		waiter:  waiter,
		records: make(map[string][]Record),
		next:    make(map[string]int),
	}
}

// AppendTerminal appends one terminal fragment on the named stream.
func (a *Aggregator) AppendTerminal(ctx context.Context, cellID, streamName, text string) (int, error) {
	return a.append(ctx, eventlog.OutputAppended{
		OutputID:   uuid.New(),
		CellID:     cellID,
		OutputType: string(TypeTerminal),
		StreamName: streamName,
		Text:       text,
	})
}

// AppendDisplay appends a multimedia display record with content-type
// keyed representations.
func (a *Aggregator) AppendDisplay(ctx context.Context, cellID string, representations map[string]json.RawMessage, metadata map[string]string) (int, error) {
	return a.append(ctx, eventlog.OutputAppended{
		OutputID:        uuid.New(),
		CellID:          cellID,
		OutputType:      string(TypeMultimediaDisplay),
		Representations: representations,
		Metadata:        metadata,
	})
}

// AppendResult appends the execution-result record of a run.
func (a *Aggregator) AppendResult(ctx context.Context, cellID string, representations map[string]json.RawMessage, metadata map[string]string) (int, error) {
	return a.append(ctx, eventlog.OutputAppended{
		OutputID:        uuid.New(),
		CellID:          cellID,
		OutputType:      string(TypeMultimediaResult),
		Representations: representations,
		Metadata:        metadata,
	})
}

// AppendError appends an interpreter error record.
func (a *Aggregator) AppendError(ctx context.Context, cellID, name, message string, trace []string) (int, error) {
	payload, err := json.Marshal(map[string]any{
		"ename":     name,
		"evalue":    message,
		"traceback": trace,
	})
	if err != nil {
		return 0, err
	}
	return a.append(ctx, eventlog.OutputAppended{
		OutputID:        uuid.New(),
		CellID:          cellID,
		OutputType:      string(TypeError),
		Representations: map[string]json.RawMessage{"application/json": payload},
	})
}

func (a *Aggregator) append(ctx context.Context, p eventlog.OutputAppended) (int, error) {
	a.mu.RLock()
	p.Position = a.next[p.CellID]
	a.mu.RUnlock()

	ev, err := eventlog.New(eventlog.TypeOutputAppended, p)
	if err != nil {
		return 0, err
	}
	if _, err := a.log.Append(ctx, ev); err != nil {
		return 0, err
	}
	if err := a.waiter.Wait(ctx, ev.ID); err != nil {
		return 0, err
	}
	return p.Position, nil
}

// Clear logically truncates the cell's outputs and resets its position
// counter. It appends an explicit marker event; history is never deleted.
func (a *Aggregator) Clear(ctx context.Context, cellID, clearedBy string) error {
	ev, err := eventlog.New(eventlog.TypeOutputsCleared, eventlog.OutputsCleared{
		CellID:    cellID,
		ClearedBy: clearedBy,
	})
	if err != nil {
		return err
	}
	if _, err := a.log.Append(ctx, ev); err != nil {
		return err
	}
	return a.waiter.Wait(ctx, ev.ID)
}

// Apply implements projector.Applier.
func (a *Aggregator) Apply(ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.TypeOutputAppended:
		p, err := eventlog.Decode[eventlog.OutputAppended](ev)
		if err != nil {
			return err
		}
		return a.applyAppended(p)
	case eventlog.TypeOutputsCleared:
		p, err := eventlog.Decode[eventlog.OutputsCleared](ev)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.records[p.CellID] = nil
		a.next[p.CellID] = 0
		a.mu.Unlock()
		return nil
	}
	return nil
}

func (a *Aggregator) applyAppended(p eventlog.OutputAppended) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := a.next[p.CellID]
	if p.Position < want {
		// Redelivery of an already applied record.
		for _, r := range a.records[p.CellID] {
			if r.ID == p.OutputID {
				return nil
			}
		}
		return fmt.Errorf("cell %s: position %d, want %d: %w", p.CellID, p.Position, want, ErrPositionGap)
	}
	if p.Position > want {
		return fmt.Errorf("cell %s: position %d, want %d: %w", p.CellID, p.Position, want, ErrPositionGap)
	}

	a.records[p.CellID] = append(a.records[p.CellID], Record{
		ID:              p.OutputID,
		CellID:          p.CellID,
		Type:            OutputType(p.OutputType),
		StreamName:      p.StreamName,
		Text:            p.Text,
		Representations: p.Representations,
		Position:        p.Position,
		Metadata:        p.Metadata,
	})
	a.next[p.CellID] = want + 1
	return nil
}

// List returns the cell's raw output records in position order.
func (a *Aggregator) List(cellID string) []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Record, len(a.records[cellID]))
	copy(out, a.records[cellID])
	return out
}

// Consolidated returns the cell's outputs with consecutive same-stream
// terminal fragments merged.
func (a *Aggregator) Consolidated(cellID string) []Record {
	return Consolidate(a.List(cellID))
}

// Consolidate merges runs of consecutive terminal records that share a
// stream name into one record holding the concatenated text, keeping the
// position of the run's first record. Any record of another type or
// stream breaks the run. The function is a fixed point: applying it to
// its own result changes nothing.
func Consolidate(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Type == TypeTerminal && r.Type == TypeTerminal && last.StreamName == r.StreamName {
				last.Text += r.Text
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
