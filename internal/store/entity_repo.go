package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// EntityRepo handles persistence for content subject entities.
type EntityRepo struct{}

const entityColumns = `id, class, title, owner_id, instructions, context, content, updated_at_unix`

// Create inserts an entity and returns its id.
func (r *EntityRepo) Create(ctx context.Context, q Querier, e domain.Entity) (int64, error) {
	const stmt = `INSERT INTO entities (class, title, owner_id, instructions, context, content, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, stmt, e.Class, e.Title, e.OwnerID, e.Instructions, e.Context, e.Content, e.UpdatedAtUnix)
	if err != nil {
		return 0, fmt.Errorf("create entity: %w", err)
	}
	return res.LastInsertId()
}

// Get retrieves an entity by class and id.
func (r *EntityRepo) Get(ctx context.Context, q Querier, class string, id int64) (*domain.Entity, error) {
	const query = `SELECT ` + entityColumns + ` FROM entities WHERE class = ? AND id = ?`
	e, err := scanEntity(q.QueryRowContext(ctx, query, class, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntityNotFound
		}
		return nil, err
	}
	return e, nil
}

// UpdateContent replaces the content field of an entity.
func (r *EntityRepo) UpdateContent(ctx context.Context, q Querier, class string, id int64, content string, now int64) error {
	const stmt = `UPDATE entities SET content = ?, updated_at_unix = ? WHERE class = ? AND id = ?`
	res, err := q.ExecContext(ctx, stmt, content, now, class, id)
	if err != nil {
		return fmt.Errorf("update entity content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrEntityNotFound
	}
	return nil
}

// ListEmptyContent returns the ids of entities of a class whose content is empty.
func (r *EntityRepo) ListEmptyContent(ctx context.Context, q Querier, class string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id FROM entities WHERE class = ? AND TRIM(content) = '' ORDER BY id LIMIT ?`
	rows, err := q.QueryContext(ctx, query, class, limit)
	if err != nil {
		return nil, fmt.Errorf("list empty entities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntity(s scanner) (*domain.Entity, error) {
	var e domain.Entity
	err := s.Scan(&e.ID, &e.Class, &e.Title, &e.OwnerID, &e.Instructions, &e.Context, &e.Content, &e.UpdatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	return &e, nil
}
