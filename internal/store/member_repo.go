package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MemberRepo handles persistence for members and their credit pools.
type MemberRepo struct{}

const memberColumns = `id, email, api_token, is_admin, free_credits, purchased_credits, model_id, free_refilled_at, created_at_unix`

// Create inserts a member and returns its id.
func (r *MemberRepo) Create(ctx context.Context, q Querier, m domain.Member) (int64, error) {
	const stmt = `INSERT INTO members (email, api_token, is_admin, free_credits, purchased_credits, model_id, free_refilled_at, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, stmt,
		m.Email,
		m.APIToken,
		boolToInt(m.IsAdmin),
		m.FreeCredits,
		m.PurchasedCredits,
		m.ModelID,
		m.FreeRefilledAt,
		m.CreatedAtUnix,
	)
	if err != nil {
		return 0, fmt.Errorf("create member: %w", err)
	}
	return res.LastInsertId()
}

// GetByID retrieves a member by id.
func (r *MemberRepo) GetByID(ctx context.Context, q Querier, id int64) (*domain.Member, error) {
	return r.getOne(ctx, q, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
}

// GetByToken retrieves a member by API token. Empty tokens never match.
func (r *MemberRepo) GetByToken(ctx context.Context, q Querier, token string) (*domain.Member, error) {
	if token == "" {
		return nil, domain.ErrMemberNotFound
	}
	return r.getOne(ctx, q, `SELECT `+memberColumns+` FROM members WHERE api_token = ?`, token)
}

// GetByEmail retrieves a member by email.
func (r *MemberRepo) GetByEmail(ctx context.Context, q Querier, email string) (*domain.Member, error) {
	return r.getOne(ctx, q, `SELECT `+memberColumns+` FROM members WHERE email = ?`, email)
}

func (r *MemberRepo) getOne(ctx context.Context, q Querier, query string, arg any) (*domain.Member, error) {
	row := q.QueryRowContext(ctx, query, arg)

	var m domain.Member
	var admin int
	err := row.Scan(&m.ID, &m.Email, &m.APIToken, &admin, &m.FreeCredits, &m.PurchasedCredits,
		&m.ModelID, &m.FreeRefilledAt, &m.CreatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	m.IsAdmin = admin != 0
	return &m, nil
}

// Debit subtracts a split from the member's pools, clamping each pool at zero,
// and returns the amounts actually taken.
func (r *MemberRepo) Debit(ctx context.Context, q Querier, memberID int64, split domain.CreditSplit) (domain.CreditSplit, error) {
	m, err := r.GetByID(ctx, q, memberID)
	if err != nil {
		return domain.CreditSplit{}, err
	}

	applied := domain.CreditSplit{
		Free: math.Min(math.Max(split.Free, 0), m.FreeCredits),
		Paid: math.Min(math.Max(split.Paid, 0), m.PurchasedCredits),
	}
	if applied.Total() == 0 {
		return applied, nil
	}

	const stmt = `UPDATE members SET
		free_credits = ROUND(MAX(free_credits - ?, 0), 6),
		purchased_credits = ROUND(MAX(purchased_credits - ?, 0), 6)
	WHERE id = ?`
	res, err := q.ExecContext(ctx, stmt, applied.Free, applied.Paid, memberID)
	if err != nil {
		return domain.CreditSplit{}, fmt.Errorf("debit member credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.CreditSplit{}, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.CreditSplit{}, domain.ErrMemberNotFound
	}
	return applied, nil
}

// AddPurchased credits a positive amount to the purchased pool.
func (r *MemberRepo) AddPurchased(ctx context.Context, q Querier, memberID int64, amount float64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	const stmt = `UPDATE members SET purchased_credits = ROUND(purchased_credits + ?, 6) WHERE id = ?`
	return r.execOne(ctx, q, "add purchased credits", stmt, amount, memberID)
}

// RefillFree resets the free pool to amount and stamps the refill time.
func (r *MemberRepo) RefillFree(ctx context.Context, q Querier, memberID int64, amount float64, now int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	const stmt = `UPDATE members SET free_credits = ?, free_refilled_at = ? WHERE id = ?`
	return r.execOne(ctx, q, "refill free credits", stmt, amount, now, memberID)
}

// RefillAllFree resets every member's free pool and returns the number refilled.
func (r *MemberRepo) RefillAllFree(ctx context.Context, q Querier, amount float64, now int64) (int64, error) {
	if amount < 0 {
		return 0, domain.ErrInvalidAmount
	}
	res, err := q.ExecContext(ctx, `UPDATE members SET free_credits = ?, free_refilled_at = ?`, amount, now)
	if err != nil {
		return 0, fmt.Errorf("refill free credits: %w", err)
	}
	return res.RowsAffected()
}

// SetModel sets the member's paid-model override. Zero clears it.
func (r *MemberRepo) SetModel(ctx context.Context, q Querier, memberID, modelID int64) error {
	return r.execOne(ctx, q, "set member model", `UPDATE members SET model_id = ? WHERE id = ?`, modelID, memberID)
}

func (r *MemberRepo) execOne(ctx context.Context, q Querier, op, stmt string, args ...any) error {
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}
