package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"cellplane/internal/eventlog"
	"cellplane/pkg/api"

	"github.com/google/uuid"
)

func TestStatusCommand_EmptyQueue(t *testing.T) {
	resetViper()
	useMemoryLog(t, "doc-1")

	output := runCommand(t, "status")

	if !strings.Contains(output, "Queue is empty") {
		t.Errorf("expected empty-queue message, got: %s", output)
	}
}

func TestStatusCommand_ListsEntries(t *testing.T) {
	resetViper()
	memLog := useMemoryLog(t, "doc-1")

	queueID := uuid.New()
	seedEvent(t, memLog, eventlog.TypeExecutionRequested, eventlog.ExecutionRequested{
		QueueID:     queueID,
		CellID:      "cell-a1",
		RequestedBy: "alice",
		Kind:        "code",
	})
	seedEvent(t, memLog, eventlog.TypeSessionStarted, eventlog.SessionStarted{
		SessionID: "sess-1",
		RuntimeID: "rt-1",
		Kind:      "code",
	})
	seedEvent(t, memLog, eventlog.TypeExecutionAssigned, eventlog.ExecutionAssigned{
		QueueID:   queueID,
		SessionID: "sess-1",
	})

	output := runCommand(t, "status")

	if !strings.Contains(output, "cell-a1") {
		t.Errorf("expected cell id in output, got: %s", output)
	}
	if !strings.Contains(output, "assigned") {
		t.Errorf("expected assigned status in output, got: %s", output)
	}
	if !strings.Contains(output, "sess-1") {
		t.Errorf("expected owning session in output, got: %s", output)
	}
}

func TestStatusCommand_CellDetail(t *testing.T) {
	resetViper()
	memLog := useMemoryLog(t, "doc-1")

	seedEvent(t, memLog, eventlog.TypeExecutionRequested, eventlog.ExecutionRequested{
		QueueID:     uuid.New(),
		CellID:      "cell-b2",
		RequestedBy: "bob",
		Priority:    75,
		Kind:        "code",
	})

	output := runCommand(t, "status", "cell-b2")

	if !strings.Contains(output, "Execution Details") {
		t.Errorf("expected detail header, got: %s", output)
	}
	if !strings.Contains(output, "cell-b2") {
		t.Errorf("expected cell id, got: %s", output)
	}
	if !strings.Contains(output, "pending") {
		t.Errorf("expected pending status, got: %s", output)
	}
	if !strings.Contains(output, "75") {
		t.Errorf("expected priority, got: %s", output)
	}
}

func TestStatusCommand_UnknownCell(t *testing.T) {
	resetViper()
	useMemoryLog(t, "doc-1")

	output := runCommand(t, "status", "cell-nothing")

	if !strings.Contains(output, "has no executions") {
		t.Errorf("expected no-executions message, got: %s", output)
	}
}

func TestStatusCommand_JSON(t *testing.T) {
	resetViper()
	memLog := useMemoryLog(t, "doc-1")

	seedEvent(t, memLog, eventlog.TypeExecutionRequested, eventlog.ExecutionRequested{
		QueueID: uuid.New(),
		CellID:  "cell-a1",
		Kind:    "code",
	})
	seedEvent(t, memLog, eventlog.TypeSessionStarted, eventlog.SessionStarted{
		SessionID: "sess-1",
		RuntimeID: "rt-1",
		Kind:      "code",
	})

	output := runCommand(t, "status", "--json")

	start := strings.Index(output, "{")
	if start < 0 {
		t.Fatalf("expected JSON object in output, got: %s", output)
	}
	var status api.DocumentStatus
	if err := json.Unmarshal([]byte(output[start:]), &status); err != nil {
		t.Fatalf("failed to parse JSON output: %v\n%s", err, output)
	}

	if status.DocumentID != "doc-1" {
		t.Errorf("expected document id doc-1, got: %s", status.DocumentID)
	}
	if status.AsOfSeq != 2 {
		t.Errorf("expected as_of_seq 2, got: %d", status.AsOfSeq)
	}
	if len(status.Queue) != 1 || status.Queue[0].CellID != "cell-a1" {
		t.Errorf("expected one queue entry for cell-a1, got: %+v", status.Queue)
	}
	if len(status.Sessions) != 1 || status.Sessions[0].Health != "healthy" {
		t.Errorf("expected one healthy session, got: %+v", status.Sessions)
	}
}
