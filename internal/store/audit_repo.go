package store

import (
	"context"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// AuditRepo handles persistence for approval decision records.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, q Querier, rec domain.AuditRecord) error {
	const stmt = `INSERT INTO audit_records (id, token, member_id, category, action, decision_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, stmt,
		rec.ID,
		rec.Token,
		rec.MemberID,
		rec.Category,
		rec.Action,
		rec.DecisionJSON,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByToken returns all audit records for a resume token, ordered by creation time.
func (r *AuditRepo) ListByToken(ctx context.Context, q Querier, token string) ([]domain.AuditRecord, error) {
	const query = `SELECT id, token, member_id, category, action, decision_json, created_at
FROM audit_records
WHERE token = ?
ORDER BY created_at ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.Token, &a.MemberID, &a.Category, &a.Action, &a.DecisionJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
