package batch

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/logging"
	"github.com/hitlflow/hitlflow/internal/store"
)

type fakeGenerator struct {
	mu     sync.Mutex
	seen   []int64
	failOn map[int64]error
}

func (f *fakeGenerator) GenerateUnattended(_ context.Context, _ *domain.Member, ref domain.EntityRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, ref.ID)
	return f.failOn[ref.ID]
}

func seed(t *testing.T, contents ...string) (*sql.DB, []int64) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var ids []int64
	for _, c := range contents {
		id, err := (&store.EntityRepo{}).Create(context.Background(), db, domain.Entity{Class: "Article", Content: c})
		if err != nil {
			t.Fatalf("seed entity: %v", err)
		}
		ids = append(ids, id)
	}
	if _, err := (&store.EntityRepo{}).Create(context.Background(), db, domain.Entity{Class: "Person"}); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	return db, ids
}

func TestRun_FillsEmptyEntities(t *testing.T) {
	db, ids := seed(t, "", "  ", "written", "")
	gen := &fakeGenerator{failOn: map[int64]error{ids[1]: domain.ErrProvider}}
	r := NewRunner(db, gen, 2, logging.Discard())

	rep, err := r.Run(context.Background(), &domain.Member{ID: 1, IsAdmin: true}, "Article", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Attempted != 3 || rep.Succeeded != 2 || len(rep.Failures) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Failures[0].Entity.ID != ids[1] || !errors.Is(rep.Failures[0].Err, domain.ErrProvider) {
		t.Errorf("failure = %+v", rep.Failures[0])
	}

	sort.Slice(gen.seen, func(i, j int) bool { return gen.seen[i] < gen.seen[j] })
	want := []int64{ids[0], ids[1], ids[3]}
	for i := range want {
		if gen.seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", gen.seen, want)
		}
	}
}

func TestRun_Limit(t *testing.T) {
	db, _ := seed(t, "", "", "", "")
	gen := &fakeGenerator{}
	rep, err := NewRunner(db, gen, 0, logging.Discard()).Run(context.Background(), &domain.Member{ID: 1}, "Article", 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Attempted != 2 {
		t.Errorf("attempted = %d, want 2", rep.Attempted)
	}
}

func TestRun_StopsOnCreditLimit(t *testing.T) {
	db, ids := seed(t, "", "", "")
	gen := &fakeGenerator{failOn: map[int64]error{ids[0]: domain.ErrCreditLimit}}
	rep, err := NewRunner(db, gen, 1, logging.Discard()).Run(context.Background(), &domain.Member{ID: 1}, "Article", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Attempted != 1 || rep.Succeeded != 0 {
		t.Errorf("report = %+v, want a single failed attempt", rep)
	}
}

func TestRun_RequiresClass(t *testing.T) {
	db, _ := seed(t)
	_, err := NewRunner(db, &fakeGenerator{}, 1, nil).Run(context.Background(), &domain.Member{ID: 1}, "", 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
