package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cellplane/internal/eventlog"
	pglog "cellplane/internal/eventlog/postgres"
	"cellplane/internal/interrupt"
	"cellplane/internal/outputs"
	"cellplane/internal/projector"
	"cellplane/internal/queue"
	"cellplane/internal/registry"

	"github.com/spf13/viper"
)

// workspace is the CLI-side materialization of one document: the event
// log plus the reducers, caught up to the committed head.
type workspace struct {
	documentID string
	queue      *queue.Manager
	registry   *registry.Registry
	outputs    *outputs.Aggregator
	interrupts *interrupt.Controller
	proj       *projector.Projector
	close      func()
}

// openLog connects to the configured event log. Tests swap it for an
// in-memory log.
var openLog = func(ctx context.Context, documentID string) (eventlog.Log, func(), error) {
	database := viper.GetString("database")
	if database == "" {
		return nil, nil, fmt.Errorf("event log not configured: set --database or CELLPLANE_DATABASE")
	}
	store, err := pglog.New(ctx, database, documentID)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func openWorkspace(ctx context.Context) (*workspace, error) {
	documentID := viper.GetString("document")
	if documentID == "" {
		return nil, fmt.Errorf("document not configured: set --document or CELLPLANE_DOCUMENT")
	}

	log, closeLog, err := openLog(ctx, documentID)
	if err != nil {
		return nil, err
	}

	ws := &workspace{documentID: documentID}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws.proj = projector.New(log, quiet,
		projector.ApplierFunc(func(ev eventlog.Event) error { return ws.queue.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return ws.registry.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return ws.outputs.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return ws.interrupts.Apply(ev) }),
	)
	ws.queue = queue.NewManager(log, ws.proj)
	ws.registry = registry.New(log, ws.proj, quiet)
	ws.outputs = outputs.NewAggregator(log, ws.proj)
	ws.interrupts = interrupt.NewController(log, ws.proj, ws.queue)

	// Replay committed history so reads see the current state, then
	// follow live so command outcomes resolve.
	if err := ws.proj.CatchUp(ctx); err != nil {
		closeLog()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		// When Run exits it fails outstanding waits with the cause, so
		// in-flight commands report the stop instead of hanging.
		_ = ws.proj.Run(runCtx)
	}()

	ws.close = func() {
		cancel()
		closeLog()
	}
	return ws, nil
}
