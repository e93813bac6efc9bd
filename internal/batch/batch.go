// Package batch fills empty entities unattended: each entity gets its own
// content workflow with review skipped, several running at once.
package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
)

// DefaultConcurrency bounds the workflows in flight.
const DefaultConcurrency = 5

// Generator is the content operation a batch drives.
type Generator interface {
	GenerateUnattended(ctx context.Context, m *domain.Member, ref domain.EntityRef) error
}

// Failure is one entity the batch could not fill.
type Failure struct {
	Entity domain.EntityRef
	Err    error
}

// Report summarises a batch run.
type Report struct {
	Attempted int
	Succeeded int
	Failures  []Failure
}

// Runner lists empty entities and generates content for each.
type Runner struct {
	DB          *sql.DB
	Entities    *store.EntityRepo
	Content     Generator
	Concurrency int
	Logger      *slog.Logger
}

// NewRunner creates a runner. concurrency <= 0 uses DefaultConcurrency.
func NewRunner(db *sql.DB, content Generator, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{DB: db, Entities: &store.EntityRepo{}, Content: content, Concurrency: concurrency, Logger: logger}
}

// Run generates content for up to limit entities of class whose content is
// empty, acting as m. A failing entity does not stop the others. Running out
// of credits stops new work, since every later entity would fail the same way.
func (r *Runner) Run(ctx context.Context, m *domain.Member, class string, limit int) (*Report, error) {
	if class == "" {
		return nil, domain.ErrValidation.WithMessage("entity class is required")
	}
	ids, err := r.Entities.ListEmptyContent(ctx, r.DB, class, limit)
	if err != nil {
		return nil, fmt.Errorf("list empty %s entities: %w", class, err)
	}

	rep := &Report{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency)

	for _, id := range ids {
		ref := domain.EntityRef{Class: class, ID: id}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := r.Content.GenerateUnattended(ctx, m, ref)

			mu.Lock()
			defer mu.Unlock()
			rep.Attempted++
			if err != nil {
				rep.Failures = append(rep.Failures, Failure{Entity: ref, Err: err})
				r.Logger.WarnContext(ctx, "batch entity failed",
					slog.String("entity_class", ref.Class),
					slog.Int64("entity_id", ref.ID),
					slog.Any("error", err))
				if errors.Is(err, domain.ErrCreditLimit) {
					return err
				}
				return nil
			}
			rep.Succeeded++
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, domain.ErrCreditLimit) {
		return rep, err
	}

	r.Logger.InfoContext(ctx, "batch finished",
		slog.String("entity_class", class),
		slog.Int("attempted", rep.Attempted),
		slog.Int("succeeded", rep.Succeeded),
		slog.Int("failed", len(rep.Failures)))
	return rep, nil
}
