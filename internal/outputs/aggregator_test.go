package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"cellplane/internal/eventlog"
	"cellplane/internal/projector"

	"github.com/google/uuid"
)

type applierFunc func(ev eventlog.Event) error

func (f applierFunc) Apply(ev eventlog.Event) error { return f(ev) }

func newTestAggregator(t *testing.T) (*Aggregator, context.Context) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := eventlog.NewMemoryLog()
	var a *Aggregator
	proj := projector.New(log, slog.Default(), applierFunc(func(ev eventlog.Event) error {
		return a.Apply(ev)
	}))
	a = NewAggregator(log, proj)

	go proj.Run(ctx)
	return a, ctx
}

func TestAppend_PositionsAreGaplessAndIncreasing(t *testing.T) {
	a, ctx := newTestAggregator(t)

	for want := 0; want < 4; want++ {
		pos, err := a.AppendTerminal(ctx, "c1", StreamStdout, "x")
		if err != nil {
			t.Fatalf("append %d failed: %v", want, err)
		}
		if pos != want {
			t.Errorf("got position %d, want %d", pos, want)
		}
	}
}

func TestAppend_IndependentPerCell(t *testing.T) {
	a, ctx := newTestAggregator(t)

	a.AppendTerminal(ctx, "c1", StreamStdout, "a")
	pos, err := a.AppendTerminal(ctx, "c2", StreamStdout, "b")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if pos != 0 {
		t.Errorf("c2 first position: got %d, want 0", pos)
	}
}

func TestClear_ResetsPositionCounter(t *testing.T) {
	a, ctx := newTestAggregator(t)

	a.AppendTerminal(ctx, "c1", StreamStdout, "old")
	a.AppendTerminal(ctx, "c1", StreamStdout, "old")

	if err := a.Clear(ctx, "c1", "s1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if got := a.List("c1"); len(got) != 0 {
		t.Errorf("got %d records after clear, want 0", len(got))
	}

	pos, err := a.AppendTerminal(ctx, "c1", StreamStdout, "new")
	if err != nil {
		t.Fatalf("append after clear failed: %v", err)
	}
	if pos != 0 {
		t.Errorf("position after clear: got %d, want 0", pos)
	}
}

func TestApply_RejectsPositionGap(t *testing.T) {
	a, _ := newTestAggregator(t)

	err := a.Apply(mustEvent(t, eventlog.TypeOutputAppended, eventlog.OutputAppended{
		OutputID:   uuid.New(),
		CellID:     "c1",
		OutputType: string(TypeTerminal),
		StreamName: StreamStdout,
		Text:       "late",
		Position:   3,
	}))
	if !errors.Is(err, ErrPositionGap) {
		t.Errorf("got %v, want ErrPositionGap", err)
	}
}

func TestApply_RedeliveryIsNoOp(t *testing.T) {
	a, _ := newTestAggregator(t)

	p := eventlog.OutputAppended{
		OutputID:   uuid.New(),
		CellID:     "c1",
		OutputType: string(TypeTerminal),
		StreamName: StreamStdout,
		Text:       "a",
		Position:   0,
	}
	if err := a.Apply(mustEvent(t, eventlog.TypeOutputAppended, p)); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := a.Apply(mustEvent(t, eventlog.TypeOutputAppended, p)); err != nil {
		t.Errorf("redelivery: got %v, want nil", err)
	}
	if got := a.List("c1"); len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func mustEvent(t *testing.T, typ eventlog.Type, payload any) eventlog.Event {
	t.Helper()
	ev, err := eventlog.New(typ, payload)
	if err != nil {
		t.Fatalf("event build failed: %v", err)
	}
	return ev
}

func TestConsolidate_MergesConsecutiveSameStream(t *testing.T) {
	a, ctx := newTestAggregator(t)

	a.AppendTerminal(ctx, "c1", StreamStdout, "a")
	a.AppendTerminal(ctx, "c1", StreamStdout, "b")
	a.AppendDisplay(ctx, "c1", map[string]json.RawMessage{"text/plain": json.RawMessage(`"42"`)}, nil)
	a.AppendTerminal(ctx, "c1", StreamStderr, "x")

	got := a.Consolidated("c1")
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Type != TypeTerminal || got[0].StreamName != StreamStdout || got[0].Text != "ab" {
		t.Errorf("first record: %+v", got[0])
	}
	if got[0].Position != 0 {
		t.Errorf("merged run should keep first position, got %d", got[0].Position)
	}
	if got[1].Type != TypeMultimediaDisplay {
		t.Errorf("second record: %+v", got[1])
	}
	if got[2].Type != TypeTerminal || got[2].StreamName != StreamStderr || got[2].Text != "x" {
		t.Errorf("third record: %+v", got[2])
	}
}

func TestConsolidate_DifferentStreamsBreakRuns(t *testing.T) {
	records := []Record{
		{Type: TypeTerminal, StreamName: StreamStdout, Text: "a", Position: 0},
		{Type: TypeTerminal, StreamName: StreamStderr, Text: "b", Position: 1},
		{Type: TypeTerminal, StreamName: StreamStdout, Text: "c", Position: 2},
	}
	got := Consolidate(records)
	if len(got) != 3 {
		t.Errorf("got %d records, want 3", len(got))
	}
}

func TestConsolidate_NeverMergesNonTerminal(t *testing.T) {
	records := []Record{
		{Type: TypeError, Position: 0},
		{Type: TypeError, Position: 1},
		{Type: TypeMultimediaDisplay, Position: 2},
		{Type: TypeMultimediaDisplay, Position: 3},
	}
	got := Consolidate(records)
	if len(got) != 4 {
		t.Errorf("got %d records, want 4", len(got))
	}
}

func TestConsolidate_Idempotent(t *testing.T) {
	records := []Record{
		{Type: TypeTerminal, StreamName: StreamStdout, Text: "a", Position: 0},
		{Type: TypeTerminal, StreamName: StreamStdout, Text: "b", Position: 1},
		{Type: TypeMultimediaDisplay, Position: 2},
		{Type: TypeTerminal, StreamName: StreamStderr, Text: "x", Position: 3},
	}

	once := Consolidate(records)
	twice := Consolidate(once)
	if len(once) != len(twice) {
		t.Fatalf("lengths differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Text != twice[i].Text || once[i].Type != twice[i].Type ||
			once[i].StreamName != twice[i].StreamName || once[i].Position != twice[i].Position {
			t.Errorf("record %d differs after second pass: %+v vs %+v", i, once[i], twice[i])
		}
	}
}
