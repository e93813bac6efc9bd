package main

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/logging"
	"github.com/hitlflow/hitlflow/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createMember(t *testing.T, db *sql.DB, email string, free float64) int64 {
	t.Helper()
	id, err := (&store.MemberRepo{}).Create(context.Background(), db, domain.Member{Email: email, FreeCredits: free})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return id
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "migrate", "seed", "credits", "members", "models", "usage", "batch", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered (err=%v)", name, err)
		}
	}

	for _, name := range []string{"refill", "add", "show"} {
		cmd, _, err := root.Find([]string{"credits", name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("credits %q not registered (err=%v)", name, err)
		}
	}
}

func TestUsageTable(t *testing.T) {
	out := usageTable([]domain.UsageEntry{
		{
			ID:              7,
			Model:           "gpt-4o-mini",
			RequestType:     domain.RequestContent,
			EntityClass:     "Article",
			EntityID:        12,
			Usage:           domain.TokenUsage{InputTokens: 100, OutputTokens: 20},
			Cost:            0.0045,
			Success:         true,
			RequestTimeUnix: 1700000000,
		},
		{
			ID:          8,
			RequestType: domain.RequestAgent,
			ErrorType:   domain.ErrorTypeInterrupt,
		},
	})

	for _, want := range []string{"gpt-4o-mini", "Article #12", "120", "$0.004500", "interrupt"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRefillCredits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ledger := billing.NewLedger(db, logging.Discard())
	repo := &store.MemberRepo{}
	a := createMember(t, db, "a@example.com", 0.1)
	b := createMember(t, db, "b@example.com", 0.2)

	n, err := refillCredits(ctx, ledger, db, "a@example.com", 2)
	if err != nil {
		t.Fatalf("refill one: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 member refilled, got %d", n)
	}
	ma, _ := repo.GetByID(ctx, db, a)
	mb, _ := repo.GetByID(ctx, db, b)
	if ma.FreeCredits != 2 || mb.FreeCredits != 0.2 {
		t.Fatalf("single refill touched the wrong members: a=%v b=%v", ma.FreeCredits, mb.FreeCredits)
	}

	n, err = refillCredits(ctx, ledger, db, "", 3)
	if err != nil {
		t.Fatalf("refill all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 members refilled, got %d", n)
	}

	if _, err := refillCredits(ctx, ledger, db, "nobody@example.com", 2); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestSetMemberModel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := createMember(t, db, "a@example.com", 0)
	modelID, err := (&store.ModelRepo{}).Upsert(ctx, db, domain.AIModel{Name: "large", Active: true})
	if err != nil {
		t.Fatalf("upsert model: %v", err)
	}

	if err := setMemberModel(ctx, db, "a@example.com", "large"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	m, _ := (&store.MemberRepo{}).GetByID(ctx, db, id)
	if m.ModelID != modelID {
		t.Fatalf("model_id = %d, want %d", m.ModelID, modelID)
	}

	if err := setMemberModel(ctx, db, "a@example.com", "missing"); !errors.Is(err, domain.ErrModelNotConfigured) {
		t.Fatalf("expected ErrModelNotConfigured, got %v", err)
	}

	if err := setMemberModel(ctx, db, "a@example.com", ""); err != nil {
		t.Fatalf("clear model: %v", err)
	}
	m, _ = (&store.MemberRepo{}).GetByID(ctx, db, id)
	if m.ModelID != 0 {
		t.Fatalf("model_id = %d after clear, want 0", m.ModelID)
	}
}

func TestModelsTable(t *testing.T) {
	out := modelsTable([]domain.AIModel{{Name: "small", Provider: "openai", InputCostPer1M: 0.15, AllowedForFreeCredits: true}})
	for _, want := range []string{"small", "openai", "$0.15", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
