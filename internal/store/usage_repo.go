package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// UsageRepo handles persistence for the usage ledger. Rows are immutable once written.
type UsageRepo struct{}

const usageColumns = `id, idempotency_key, member_id, model_id, model, request_type, entity_class, entity_id,
	prompt_tokens, completion_tokens, cache_write_tokens, cache_read_tokens, cost, used_free_credits, used_paid_credits,
	input_cost_per_1m, output_cost_per_1m, cache_write_cost_per_1m, cache_read_cost_per_1m,
	success, error_message, error_type, request_time, response_time`

// Insert writes a usage row. It reports false, without error, when a row with
// the same idempotency key already exists.
func (r *UsageRepo) Insert(ctx context.Context, q Querier, e domain.UsageEntry) (bool, error) {
	const stmt = `INSERT INTO usage_logs (idempotency_key, member_id, model_id, model, request_type, entity_class, entity_id,
	prompt_tokens, completion_tokens, total_tokens, cache_write_tokens, cache_read_tokens, cost, used_free_credits, used_paid_credits,
	input_cost_per_1m, output_cost_per_1m, cache_write_cost_per_1m, cache_read_cost_per_1m,
	success, error_message, error_type, request_time, response_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO NOTHING`

	res, err := q.ExecContext(ctx, stmt,
		e.IdempotencyKey,
		e.MemberID,
		e.ModelID,
		e.Model,
		string(e.RequestType),
		e.EntityClass,
		e.EntityID,
		e.Usage.InputTokens,
		e.Usage.OutputTokens,
		e.Usage.Total(),
		e.Usage.CacheWriteTokens,
		e.Usage.CacheReadTokens,
		e.Cost,
		e.UsedFreeCredits,
		e.UsedPaidCredits,
		e.InputCostPer1M,
		e.OutputCostPer1M,
		e.CacheWriteCostPer1M,
		e.CacheReadCostPer1M,
		boolToInt(e.Success),
		e.ErrorMessage,
		string(e.ErrorType),
		e.RequestTimeUnix,
		e.ResponseTimeUnix,
	)
	if err != nil {
		return false, fmt.Errorf("insert usage log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// GetByKey retrieves the row for an idempotency key.
func (r *UsageRepo) GetByKey(ctx context.Context, q Querier, key string) (*domain.UsageEntry, error) {
	e, err := scanUsage(q.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_logs WHERE idempotency_key = ?`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStoreQuery.WithMessage("usage log not found")
		}
		return nil, err
	}
	return e, nil
}

// ListByMember returns the most recent rows for a member, newest first.
func (r *UsageRepo) ListByMember(ctx context.Context, q Querier, memberID int64, limit int) ([]domain.UsageEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + usageColumns + ` FROM usage_logs WHERE member_id = ? ORDER BY request_time DESC, id DESC LIMIT ?`
	rows, err := q.QueryContext(ctx, query, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.UsageEntry
	for rows.Next() {
		e, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CountByMember returns the number of rows recorded for a member.
func (r *UsageRepo) CountByMember(ctx context.Context, q Querier, memberID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM usage_logs WHERE member_id = ?`, memberID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage logs: %w", err)
	}
	return n, nil
}

func scanUsage(s scanner) (*domain.UsageEntry, error) {
	var e domain.UsageEntry
	var reqType, errType string
	var success int
	err := s.Scan(&e.ID, &e.IdempotencyKey, &e.MemberID, &e.ModelID, &e.Model, &reqType, &e.EntityClass, &e.EntityID,
		&e.Usage.InputTokens, &e.Usage.OutputTokens, &e.Usage.CacheWriteTokens, &e.Usage.CacheReadTokens,
		&e.Cost, &e.UsedFreeCredits, &e.UsedPaidCredits,
		&e.InputCostPer1M, &e.OutputCostPer1M, &e.CacheWriteCostPer1M, &e.CacheReadCostPer1M,
		&success, &e.ErrorMessage, &errType, &e.RequestTimeUnix, &e.ResponseTimeUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan usage log: %w", err)
	}
	e.RequestType = domain.RequestType(reqType)
	e.ErrorType = domain.ErrorType(errType)
	e.Success = success != 0
	return &e, nil
}
