package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/willswire/mcheyne/internal/api"
	"github.com/willswire/mcheyne/internal/app"
	"github.com/willswire/mcheyne/internal/config"
	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/metrics"
	"github.com/willswire/mcheyne/internal/plan"
)

func testApp(t *testing.T) *app.App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	start := time.Date(2022, time.November, 24, 0, 0, 0, 0, time.UTC)

	p, err := plan.New(context.Background(), plan.Options{
		Local:    kvstore.NewMemoryStore(),
		Now:      func() time.Time { return start.AddDate(0, 0, 3) },
		Location: time.UTC,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("plan.New() error = %v", err)
	}
	t.Cleanup(p.Close)
	p.SetStartDate(context.Background(), start)

	return &app.App{Plan: p, Location: time.UTC, Logger: logger}
}

func TestSelectionArg(t *testing.T) {
	a := testApp(t)

	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"today", 3, false},
		{"0", 0, false},
		{"364", 364, false},
		{"365", 0, true},
		{"-1", 0, true},
		{"tomorrow", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, sel, err := selectionArg(a.Plan, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectionArg(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want || sel == nil {
				t.Errorf("selectionArg(%q) = %d, %v; want %d", tt.arg, got, sel, tt.want)
			}
		})
	}
}

func TestPrintSelection(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	index, sel, err := selectionArg(a.Plan, "0")
	if err != nil {
		t.Fatalf("selectionArg() error = %v", err)
	}
	sel.Passage(0).Read(ctx)

	var buf bytes.Buffer
	if err := printSelection(&buf, a, index, sel); err != nil {
		t.Fatalf("printSelection() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Day 1 (2022-11-24)", "[x] 0  Genesis 1", "[ ] 1  Matthew 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"OFF", false, false},
		{"true", true, false},
		{"0", false, false},
		{"sometimes", false, true},
	}

	for _, tt := range tests {
		got, err := parseSwitch(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSwitch(%q) = %v, %v; want %v, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want %q", got, "short")
	}
	if got := truncate("2024-01-05T01:56:00.123456789-08:00", 16); got != "2024-01-05T01..." {
		t.Errorf("truncate() = %q", got)
	}
}

func TestSmokeRunner(t *testing.T) {
	a := testApp(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Env: config.EnvDevelopment, APIKey: "smoke-key"}
	handlers := api.NewHandlers(a.Plan, nil, time.UTC, logger)
	srv := httptest.NewServer(api.SetupRoutes(handlers, metrics.New(), cfg, logger))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	runner := newSmokeRunner(srv.URL, "smoke-key", true, &buf)
	if err := runner.ping(); err != nil {
		t.Fatalf("ping() error = %v", err)
	}
	runner.Run()

	if runner.errorCount != 0 {
		t.Fatalf("smoke run had %d failures:\n%s", runner.errorCount, buf.String())
	}
	if !strings.Contains(buf.String(), "Passage restored") {
		t.Errorf("round trip did not run:\n%s", buf.String())
	}

	// The round trip leaves progress as it found it.
	if n := a.Plan.Stats().CompletedPassages; n != 0 {
		t.Errorf("CompletedPassages = %d after smoke run, want 0", n)
	}
}

func TestSmokeRunner_RejectedKey(t *testing.T) {
	a := testApp(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Env: config.EnvDevelopment, APIKey: "smoke-key"}
	srv := httptest.NewServer(api.SetupRoutes(api.NewHandlers(a.Plan, nil, time.UTC, logger), nil, cfg, logger))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	runner := newSmokeRunner(srv.URL, "wrong", false, &buf)
	runner.Run()

	// The round trip fails on auth and /metrics is absent without a registry.
	if runner.errorCount != 2 {
		t.Errorf("errorCount = %d, want 2:\n%s", runner.errorCount, buf.String())
	}
}
