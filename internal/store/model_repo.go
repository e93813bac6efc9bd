package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// ModelRepo handles persistence for priced AI models.
type ModelRepo struct{}

const modelColumns = `id, name, display_name, provider, input_cost_per_1m, output_cost_per_1m,
	cache_write_cost_per_1m, cache_read_cost_per_1m, active, allowed_for_free_credits, context_window`

// Upsert inserts a model or updates the existing row with the same name, and returns its id.
func (r *ModelRepo) Upsert(ctx context.Context, q Querier, m domain.AIModel) (int64, error) {
	const stmt = `INSERT INTO ai_models (name, display_name, provider, input_cost_per_1m, output_cost_per_1m,
	cache_write_cost_per_1m, cache_read_cost_per_1m, active, allowed_for_free_credits, context_window)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	display_name = excluded.display_name,
	provider = excluded.provider,
	input_cost_per_1m = excluded.input_cost_per_1m,
	output_cost_per_1m = excluded.output_cost_per_1m,
	cache_write_cost_per_1m = excluded.cache_write_cost_per_1m,
	cache_read_cost_per_1m = excluded.cache_read_cost_per_1m,
	active = excluded.active,
	allowed_for_free_credits = excluded.allowed_for_free_credits,
	context_window = excluded.context_window
RETURNING id`

	var id int64
	err := q.QueryRowContext(ctx, stmt,
		m.Name,
		m.DisplayName,
		m.Provider,
		m.InputCostPer1M,
		m.OutputCostPer1M,
		m.CacheWriteCostPer1M,
		m.CacheReadCostPer1M,
		boolToInt(m.Active),
		boolToInt(m.AllowedForFreeCredits),
		m.ContextWindow,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert model: %w", err)
	}
	return id, nil
}

// GetByID retrieves an active model by id.
func (r *ModelRepo) GetByID(ctx context.Context, q Querier, id int64) (*domain.AIModel, error) {
	return r.getOne(ctx, q, `SELECT `+modelColumns+` FROM ai_models WHERE id = ? AND active = 1`, id)
}

// GetByName retrieves an active model by name.
func (r *ModelRepo) GetByName(ctx context.Context, q Querier, name string) (*domain.AIModel, error) {
	return r.getOne(ctx, q, `SELECT `+modelColumns+` FROM ai_models WHERE name = ? AND active = 1`, name)
}

// ListActive returns all active models ordered by name.
func (r *ModelRepo) ListActive(ctx context.Context, q Querier) ([]domain.AIModel, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+modelColumns+` FROM ai_models WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []domain.AIModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *ModelRepo) getOne(ctx context.Context, q Querier, query string, arg any) (*domain.AIModel, error) {
	m, err := scanModel(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrModelNotConfigured
		}
		return nil, err
	}
	return m, nil
}

func scanModel(s scanner) (*domain.AIModel, error) {
	var m domain.AIModel
	var active, free int
	err := s.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Provider, &m.InputCostPer1M, &m.OutputCostPer1M,
		&m.CacheWriteCostPer1M, &m.CacheReadCostPer1M, &active, &free, &m.ContextWindow)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan model: %w", err)
	}
	m.Active = active != 0
	m.AllowedForFreeCredits = free != 0
	return &m, nil
}
