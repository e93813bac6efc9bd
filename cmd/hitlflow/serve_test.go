package main

import (
	"context"
	"testing"
	"time"

	"github.com/hitlflow/hitlflow/internal/history"
	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/logging"
	"github.com/hitlflow/hitlflow/internal/persistence"
)

func TestSweepStores_EvictsParkedAndHistory(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	parked, err := persistence.NewMemoryStore(persistence.WithClock(clock))
	if err != nil {
		t.Fatalf("parked store: %v", err)
	}
	histKV, err := persistence.NewMemoryStore(persistence.WithClock(clock))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}

	ctx := context.Background()
	if err := parked.Save(ctx, "agent_workflow_chat_1", []byte("{}"), time.Minute); err != nil {
		t.Fatalf("save interrupt: %v", err)
	}
	hist := history.NewKVStore(histKV, time.Minute)
	for _, thread := range []string{"a", "b", "c"} {
		if err := hist.Save(ctx, history.Key(thread, 1), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}); err != nil {
			t.Fatalf("save history: %v", err)
		}
	}

	if n := sweepStores(ctx, logging.Discard(), parked, histKV); n != 0 {
		t.Fatalf("nothing expired yet, swept %d", n)
	}

	now = now.Add(2 * time.Minute)
	if n := sweepStores(ctx, logging.Discard(), parked, histKV); n != 4 {
		t.Fatalf("expected 4 records swept, got %d", n)
	}
}
