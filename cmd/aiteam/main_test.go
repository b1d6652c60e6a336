package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/pipeline"
	"github.com/mtzanidakis/aiteam/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Log:      config.LogConfig{Level: "info"},
		Store:    config.StoreConfig{Path: filepath.Join(t.TempDir(), "aiteam.db")},
		Dispatch: config.DispatchConfig{Timeout: 5 * time.Second, Workers: 2},
		Pipeline: config.PipelineConfig{Timeout: 10 * time.Second},
		Retro:    config.RetroConfig{Enabled: true, Schedule: "@hourly"},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(testConfig(t), brokerNone)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL(config.NATSConfig{Port: 4333}); got != "nats://127.0.0.1:4333" {
		t.Errorf("local url = %q", got)
	}
	if got := brokerURL(config.NATSConfig{URL: "nats://broker:4222", Port: 4333}); got != "nats://broker:4222" {
		t.Errorf("external url = %q", got)
	}
}

func TestStreamEvents(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	err := streamEvents(context.Background(), a.orchestrator, "Build a chat app with a React frontend", pipeline.Options{}, &out)
	if err != nil {
		t.Fatalf("stream events: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 6 {
		t.Fatalf("expected at least 6 events, got %d:\n%s", len(lines), out.String())
	}

	var first, last map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatal(err)
	}
	if first["type"] != "plan_start" {
		t.Errorf("first event = %v, want plan_start", first["type"])
	}
	if last["type"] != "expert_update" || last["message"] != "Experts prepared." {
		t.Errorf("last event = %v", last)
	}

	runs, err := a.store.ListPipelineRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Errorf("expected one completed run record, got %+v", runs)
	}
}

func TestStreamEventsEmptyDescription(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	err := streamEvents(context.Background(), a.orchestrator, "   ", pipeline.Options{}, &out)
	if !errors.Is(err, agent.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(out.String(), `"type":"error"`) {
		t.Errorf("expected an error event, got %s", out.String())
	}
}

func TestReload(t *testing.T) {
	a := newTestApp(t)
	retros := &retroControl{coach: a.coach}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer retros.stop()

	old := a.cfg
	next := *old
	next.Dispatch.Timeout = 3 * time.Second
	next.Retro.Schedule = "*/5 * * * *"
	next.Log.Level = "debug"
	next.Web.Port = old.Web.Port + 1

	if err := retros.apply(ctx, old.Retro); err != nil {
		t.Fatal(err)
	}
	reload(ctx, a, nil, retros, old, &next)

	if got := a.dispatcher.Timeout(); got != 3*time.Second {
		t.Errorf("dispatch timeout = %s, want 3s", got)
	}
	if got := logLevel.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	retros.mu.Lock()
	sched := retros.sched
	retros.mu.Unlock()
	if sched == nil || sched.Schedule() != "*/5 * * * *" {
		t.Fatal("expected retro schedule to be updated")
	}
	logLevel.Set(slog.LevelInfo)
}

func TestRetroControl(t *testing.T) {
	mem := memory.NewInMemory()
	retros := &retroControl{coach: agent.NewCoach(mem, nil)}
	ctx := context.Background()

	if got := retros.RunNow(ctx); got != "Scheduled next retrospective" {
		t.Errorf("RunNow without scheduler = %q", got)
	}

	if err := retros.apply(ctx, config.RetroConfig{Enabled: true, Schedule: "not cron"}); err == nil {
		t.Error("expected invalid schedule to fail")
	}
	if err := retros.apply(ctx, config.RetroConfig{Enabled: true, Schedule: "@daily"}); err != nil {
		t.Fatal(err)
	}
	if got := retros.RunNow(ctx); got != "Scheduled next retrospective" {
		t.Errorf("RunNow with scheduler = %q", got)
	}
	if err := retros.apply(ctx, config.RetroConfig{}); err != nil {
		t.Fatal(err)
	}
	if retros.sched != nil {
		t.Error("expected scheduler to be stopped")
	}

	records, err := mem.History(ctx, agent.KeyCoach, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 coach records, got %d", len(records))
	}
}

func TestMemoryCommandHistoryLimit(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aiteam.db")
	cfgPath := filepath.Join(dir, "aiteam.yaml")
	yaml := "store:\n  path: " + dbPath + "\npipeline:\n  history_limit: 2\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AITEAM_CONFIG", cfgPath)

	db, err := store.New(config.StoreConfig{Path: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	mem := memory.NewSQLite(db)
	for _, p := range []string{"one", "two", "three"} {
		if err := mem.Append(context.Background(), agent.KeyPlanner, p); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"memory", agent.KeyPlanner})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		logLevel.Set(slog.LevelInfo)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasSuffix(lines[0], "two") || !strings.HasSuffix(lines[1], "three") {
		t.Errorf("unexpected history:\n%s", out.String())
	}
}
