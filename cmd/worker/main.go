// Package main is the entry point for the cellplane worker.
// The worker hosts one runtime session: it attaches to a document's
// event log, claims pending cell executions of its kind, and keeps its
// liveness lease renewed. It also runs the orphan-recovery monitor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cellplane/internal/config"
	"cellplane/internal/eventlog"
	pglog "cellplane/internal/eventlog/postgres"
	"cellplane/internal/health"
	"cellplane/internal/interrupt"
	"cellplane/internal/logger"
	"cellplane/internal/observability"
	"cellplane/internal/outputs"
	"cellplane/internal/projector"
	"cellplane/internal/queue"
	"cellplane/internal/registry"
	"cellplane/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New().With("document_id", cfg.DocumentID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "cellplane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Select event log based on configuration
	var evLog eventlog.Log
	if cfg.DatabaseURL != "" {
		store, err := pglog.New(ctx, cfg.DatabaseURL, cfg.DocumentID)
		if err != nil {
			log.Fatalf("Failed to open postgres event log: %v", err)
		}
		defer store.Close()
		evLog = store
		slogger.Info("using postgres event log")
	} else {
		evLog = eventlog.NewMemoryLog()
		slogger.Info("using in-memory event log")
	}

	// Materialize shared state: every component reduces over the same
	// ordered event sequence through one projector.
	var (
		q   *queue.Manager
		reg *registry.Registry
		agg *outputs.Aggregator
		ic  *interrupt.Controller
	)
	proj := projector.New(evLog, slogger,
		projector.ApplierFunc(func(ev eventlog.Event) error { return q.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return reg.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return agg.Apply(ev) }),
		projector.ApplierFunc(func(ev eventlog.Event) error { return ic.Apply(ev) }),
	)
	q = queue.NewManager(evLog, proj)
	reg = registry.New(evLog, proj, slogger, registry.WithTolerance(cfg.SessionTolerance))
	agg = outputs.NewAggregator(evLog, proj)
	ic = interrupt.NewController(evLog, proj, q)

	go func() {
		if err := proj.Run(ctx); err != nil && ctx.Err() == nil {
			slogger.Error("projector stopped", "error", err)
		}
	}()

	agent := worker.New(q, reg, agg, ic,
		worker.DirSources{Dir: cfg.SourceDir},
		worker.EchoHandler{},
		worker.AgentConfig{
			RuntimeID:    cfg.RuntimeID,
			Kind:         cfg.RuntimeKind,
			ValidFor:     cfg.SessionValidFor,
			PollInterval: cfg.WorkerPollInterval,
		}, slogger)

	slogger.Info("worker starting", "runtime_id", cfg.RuntimeID, "kind", cfg.RuntimeKind)
	go func() {
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			slogger.Error("agent stopped", "error", err)
		}
	}()

	monitor := health.New(q, reg, ic, slogger,
		health.WithScanInterval(cfg.HealthScanInterval),
		health.WithInterruptGrace(cfg.InterruptGrace),
	)
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			slogger.Error("health monitor stopped", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"status":     "healthy",
				"session_id": agent.SessionID(),
			})
		})
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		slogger.Info("metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slogger.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down worker")
	cancel()

	<-agent.Done()
}
