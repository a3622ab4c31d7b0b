package cmd

import (
	"strings"
	"testing"

	"cellplane/internal/eventlog"

	"github.com/google/uuid"
)

func TestInterruptCommand_NoActiveExecution(t *testing.T) {
	resetViper()
	useMemoryLog(t, "doc-1")

	output := runCommand(t, "interrupt", "cell-idle")

	if !strings.Contains(output, "no claimed or running execution") {
		t.Errorf("expected rejection message, got: %s", output)
	}
}

func TestInterruptCommand_RequestsInterrupt(t *testing.T) {
	resetViper()
	memLog := useMemoryLog(t, "doc-1")

	queueID := uuid.New()
	seedEvent(t, memLog, eventlog.TypeExecutionRequested, eventlog.ExecutionRequested{
		QueueID: queueID,
		CellID:  "cell-a1",
		Kind:    "code",
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
	seedEvent(t, memLog, eventlog.TypeExecutionStarted, eventlog.ExecutionStarted{
		QueueID:   queueID,
		SessionID: "sess-1",
	})

	output := runCommand(t, "interrupt", "cell-a1", "--reason", "wrong input")

	if !strings.Contains(output, "Interrupt requested for cell cell-a1") {
		t.Errorf("expected confirmation, got: %s", output)
	}
}
