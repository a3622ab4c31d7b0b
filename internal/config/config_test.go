package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresDocumentID(t *testing.T) {
	t.Setenv("CELLPLANE_DOCUMENT_ID", "")

	_, err := Load()
	if err == nil {
		t.Error("expected error when CELLPLANE_DOCUMENT_ID is missing")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("CELLPLANE_DOCUMENT_ID", "doc-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RuntimeKind != "code" {
		t.Errorf("expected RuntimeKind code, got %s", cfg.RuntimeKind)
	}
	if cfg.RuntimeID == "" {
		t.Error("expected RuntimeID to default to hostname")
	}
	if cfg.SessionValidFor != 30*time.Second {
		t.Errorf("expected SessionValidFor 30s, got %v", cfg.SessionValidFor)
	}
	if cfg.SessionTolerance != 15*time.Second {
		t.Errorf("expected SessionTolerance 15s, got %v", cfg.SessionTolerance)
	}
	if cfg.HealthScanInterval != 60*time.Second {
		t.Errorf("expected HealthScanInterval 60s, got %v", cfg.HealthScanInterval)
	}
	if cfg.InterruptGrace != 10*time.Second {
		t.Errorf("expected InterruptGrace 10s, got %v", cfg.InterruptGrace)
	}
	if cfg.WorkerPollInterval != 1*time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.MetricsPort != 6172 {
		t.Errorf("expected MetricsPort 6172, got %d", cfg.MetricsPort)
	}
	if cfg.SourceDir != "cells" {
		t.Errorf("expected SourceDir cells, got %s", cfg.SourceDir)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected empty DatabaseURL (memory log), got %s", cfg.DatabaseURL)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("CELLPLANE_DOCUMENT_ID", "doc-2")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("CELLPLANE_RUNTIME_KIND", "sql")
	t.Setenv("CELLPLANE_RUNTIME_ID", "rt-42")
	t.Setenv("CELLPLANE_SESSION_VALID_FOR", "45s")
	t.Setenv("CELLPLANE_SESSION_TOLERANCE", "20s")
	t.Setenv("CELLPLANE_HEALTH_SCAN_INTERVAL", "30s")
	t.Setenv("CELLPLANE_INTERRUPT_GRACE", "5s")
	t.Setenv("CELLPLANE_WORKER_POLL_INTERVAL", "2s")
	t.Setenv("CELLPLANE_OTEL_ENDPOINT", "otel-collector:4317")
	t.Setenv("CELLPLANE_METRICS_PORT", "9999")
	t.Setenv("CELLPLANE_SOURCE_DIR", "/var/lib/cellplane/cells")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DocumentID != "doc-2" {
		t.Errorf("expected DocumentID doc-2, got %s", cfg.DocumentID)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.RuntimeKind != "sql" {
		t.Errorf("expected RuntimeKind sql, got %s", cfg.RuntimeKind)
	}
	if cfg.RuntimeID != "rt-42" {
		t.Errorf("expected RuntimeID rt-42, got %s", cfg.RuntimeID)
	}
	if cfg.SessionValidFor != 45*time.Second {
		t.Errorf("expected SessionValidFor 45s, got %v", cfg.SessionValidFor)
	}
	if cfg.SessionTolerance != 20*time.Second {
		t.Errorf("expected SessionTolerance 20s, got %v", cfg.SessionTolerance)
	}
	if cfg.HealthScanInterval != 30*time.Second {
		t.Errorf("expected HealthScanInterval 30s, got %v", cfg.HealthScanInterval)
	}
	if cfg.InterruptGrace != 5*time.Second {
		t.Errorf("expected InterruptGrace 5s, got %v", cfg.InterruptGrace)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Errorf("expected WorkerPollInterval 2s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.MetricsPort != 9999 {
		t.Errorf("expected MetricsPort 9999, got %d", cfg.MetricsPort)
	}
	if cfg.SourceDir != "/var/lib/cellplane/cells" {
		t.Errorf("expected SourceDir from env, got %s", cfg.SourceDir)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CELLPLANE_DOCUMENT_ID", "doc-1")
	t.Setenv("CELLPLANE_SESSION_VALID_FOR", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoad_InvalidMetricsPort(t *testing.T) {
	t.Setenv("CELLPLANE_DOCUMENT_ID", "doc-1")
	t.Setenv("CELLPLANE_METRICS_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid metrics port")
	}
}
