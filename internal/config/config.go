// Package config handles environment variable loading for the worker
// and monitor processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for a cellplane process.
type Config struct {
	// Document this process attaches to.
	DocumentID string

	// Postgres connection string for the durable event log. Empty
	// selects the in-memory log (single-process mode).
	DatabaseURL string

	// Capability class this worker executes ("code", "ai", "sql", ...).
	RuntimeKind string

	// Stable identity of this worker installation.
	RuntimeID string

	// Liveness lease duration.
	SessionValidFor time.Duration

	// Grace window after lease expiry before a session counts as gone.
	SessionTolerance time.Duration

	// Cadence of the orphan-recovery scan.
	HealthScanInterval time.Duration

	// How long a session gets to honor an interrupt.
	InterruptGrace time.Duration

	// Base poll interval of the worker claim loop.
	WorkerPollInterval time.Duration

	// Directory the built-in source resolver reads cell sources from.
	SourceDir string

	// OTLP collector endpoint for traces.
	OTELEndpoint string

	// Port of the metrics/health HTTP server.
	MetricsPort int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	documentID := os.Getenv("CELLPLANE_DOCUMENT_ID")
	if documentID == "" {
		return nil, fmt.Errorf("CELLPLANE_DOCUMENT_ID is required")
	}

	kind := os.Getenv("CELLPLANE_RUNTIME_KIND")
	if kind == "" {
		kind = "code"
	}

	runtimeID := os.Getenv("CELLPLANE_RUNTIME_ID")
	if runtimeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to derive runtime id: %w", err)
		}
		runtimeID = hostname
	}

	validFor, err := durationEnv("CELLPLANE_SESSION_VALID_FOR", 30*time.Second)
	if err != nil {
		return nil, err
	}

	tolerance, err := durationEnv("CELLPLANE_SESSION_TOLERANCE", 15*time.Second)
	if err != nil {
		return nil, err
	}

	scanInterval, err := durationEnv("CELLPLANE_HEALTH_SCAN_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	interruptGrace, err := durationEnv("CELLPLANE_INTERRUPT_GRACE", 10*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("CELLPLANE_WORKER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}

	sourceDir := os.Getenv("CELLPLANE_SOURCE_DIR")
	if sourceDir == "" {
		sourceDir = "cells"
	}

	otelEndpoint := os.Getenv("CELLPLANE_OTEL_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	metricsPort := 6172
	if portStr := os.Getenv("CELLPLANE_METRICS_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid CELLPLANE_METRICS_PORT: %w", err)
		}
		metricsPort = p
	}

	return &Config{
		DocumentID:         documentID,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RuntimeKind:        kind,
		RuntimeID:          runtimeID,
		SessionValidFor:    validFor,
		SessionTolerance:   tolerance,
		HealthScanInterval: scanInterval,
		InterruptGrace:     interruptGrace,
		WorkerPollInterval: pollInterval,
		SourceDir:          sourceDir,
		OTELEndpoint:       otelEndpoint,
		MetricsPort:        metricsPort,
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
