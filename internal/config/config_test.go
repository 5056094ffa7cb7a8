package config_test

import (
	"strings"
	"testing"
	"time"

	"PayLedger/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 4 || cfg.QueueCapacity != 100 {
		t.Fatalf("expected 4 workers / 100 capacity, got %d / %d", cfg.Workers, cfg.QueueCapacity)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("expected 30s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	if cfg.OutputFormat != config.FormatCSV {
		t.Fatalf("expected csv output, got %q", cfg.OutputFormat)
	}
	if cfg.NATSURL != "" || cfg.PostgresDSN != "" {
		t.Fatal("optional sinks must be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAYLEDGER_WORKERS", "16")
	t.Setenv("PAYLEDGER_QUEUE_CAPACITY", "8")
	t.Setenv("PAYLEDGER_OUTPUT_FORMAT", " JSON ")
	t.Setenv("PAYLEDGER_NATS_URL", "nats://localhost:4222")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 16 || cfg.QueueCapacity != 8 {
		t.Fatalf("got %d / %d", cfg.Workers, cfg.QueueCapacity)
	}
	if cfg.OutputFormat != config.FormatJSON {
		t.Fatalf("expected json, got %q", cfg.OutputFormat)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Fatalf("got NATS URL %q", cfg.NATSURL)
	}

	ec := cfg.Engine()
	if ec.Workers != 16 || ec.QueueCapacity != 8 {
		t.Fatalf("engine config mismatch: %+v", ec)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("PAYLEDGER_WORKERS", "many")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("PAYLEDGER_WORKERS", "0")
	t.Setenv("PAYLEDGER_OUTPUT_FORMAT", "xml")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"WORKERS", "OUTPUT_FORMAT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}
