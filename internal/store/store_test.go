package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mtzanidakis/aiteam/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryAppendAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendMemory(ctx, &MemoryItem{
			Agent:   "po",
			Payload: "item " + string(rune('A'+i)),
		}); err != nil {
			t.Fatalf("append memory: %v", err)
		}
	}
	_ = s.AppendMemory(ctx, &MemoryItem{Agent: "ac", Payload: "other agent"})

	items, err := s.GetMemory(ctx, "po", 10)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	// Should be in chronological order
	if items[0].Payload != "item A" {
		t.Errorf("expected first item 'item A', got '%s'", items[0].Payload)
	}

	// Limit keeps the most recent, still oldest first
	items, err = s.GetMemory(ctx, "po", 2)
	if err != nil {
		t.Fatalf("get memory limited: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Payload != "item D" || items[1].Payload != "item E" {
		t.Errorf("expected [item D, item E], got [%s, %s]", items[0].Payload, items[1].Payload)
	}
}

func TestMemoryConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := s.AppendMemory(ctx, &MemoryItem{
					Agent:   fmt.Sprintf("agent-%d", w%2),
					Payload: fmt.Sprintf("%d-%d", w, i),
				}); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	for _, agent := range []string{"agent-0", "agent-1"} {
		items, err := s.GetMemory(ctx, agent, 100)
		if err != nil {
			t.Fatalf("get memory: %v", err)
		}
		if len(items) != 20 {
			t.Errorf("%s: expected 20 items, got %d", agent, len(items))
		}
		for i := 1; i < len(items); i++ {
			if items[i].ID <= items[i-1].ID {
				t.Errorf("%s: items not in insertion order", agent)
			}
		}
	}

	stats, err := s.GetMemoryStats(ctx)
	if err != nil {
		t.Fatalf("memory stats: %v", err)
	}
	if stats["agent-0"].ItemCount != 20 {
		t.Errorf("expected 20 items in stats, got %d", stats["agent-0"].ItemCount)
	}
}

func TestNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertNote(ctx, "ac", "feedback: one"); err != nil {
		t.Fatalf("upsert note: %v", err)
	}
	if err := s.UpsertNote(ctx, "ac", "feedback: two"); err != nil {
		t.Fatalf("upsert note: %v", err)
	}
	if err := s.UpsertNote(ctx, "po", "planned 2 task(s)"); err != nil {
		t.Fatalf("upsert note: %v", err)
	}

	notes, err := s.GetNotes(ctx, "ac", 10)
	if err != nil {
		t.Fatalf("get notes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].Text != "feedback: two" {
		t.Errorf("expected newest note first, got %s", notes[0].Text)
	}

	var agents int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM kg_nodes WHERE label = 'Agent'`).Scan(&agents); err != nil {
		t.Fatal(err)
	}
	if agents != 2 {
		t.Errorf("expected agent nodes to be merged (2), got %d", agents)
	}
}

func TestPipelineRunCRUD(t *testing.T) {
	s := newTestStore(t)

	run := &PipelineRun{
		ID:          "run-1",
		Description: "Build chat",
		Status:      "running",
	}
	if err := s.SavePipelineRun(run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := s.GetPipelineRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil || got.Status != "running" {
		t.Fatalf("expected running run, got %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("expected no completion time for running run")
	}

	run.Status = "completed"
	run.Mode = "sync"
	run.Roles = json.RawMessage(`["frontend","backend"]`)
	run.Result = json.RawMessage(`{"ok":true}`)
	if err := s.SavePipelineRun(run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, _ = s.GetPipelineRun("run-1")
	if got.Status != "completed" || got.Mode != "sync" {
		t.Errorf("expected completed sync run, got %s/%s", got.Status, got.Mode)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time")
	}
	if string(got.Roles) != `["frontend","backend"]` {
		t.Errorf("unexpected roles: %s", got.Roles)
	}

	runs, err := s.ListPipelineRuns(10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	if err := s.DeletePipelineRun("run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	got, err = s.GetPipelineRun("run-1")
	if err != nil {
		t.Fatalf("get deleted run: %v", err)
	}
	if got != nil {
		t.Error("expected nil for deleted run")
	}
}

func TestMemoryStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, agent := range []string{"po", "po", "ac"} {
		if err := s.AppendMemory(ctx, &MemoryItem{Agent: agent, Payload: "x"}); err != nil {
			t.Fatalf("append memory: %v", err)
		}
	}

	stats, err := s.GetMemoryStats(ctx)
	if err != nil {
		t.Fatalf("get memory stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(stats))
	}
	if stats["po"].ItemCount != 2 {
		t.Errorf("expected 2 items for po, got %d", stats["po"].ItemCount)
	}
	if stats["ac"].LastActive.IsZero() {
		t.Error("expected last active time for ac")
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendMemory(ctx, &MemoryItem{Agent: "po", Payload: "kept"}); err != nil {
		t.Fatalf("append memory: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.db")
	if err := s.Snapshot(ctx, path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.Snapshot(ctx, path); err == nil {
		t.Fatal("expected error when snapshot target exists")
	}

	snap, err := New(config.StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()

	items, err := snap.GetMemory(ctx, "po", 10)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if len(items) != 1 || items[0].Payload != "kept" {
		t.Errorf("unexpected snapshot contents: %+v", items)
	}
}
