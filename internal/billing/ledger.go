package billing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
	"github.com/hitlflow/hitlflow/internal/telemetry"
)

// Attempt describes one billable call, successful or not.
type Attempt struct {
	IdempotencyKey string
	MemberID       int64
	RequestType    domain.RequestType
	Entity         domain.EntityRef
	// Quote is nil when the call failed before a model was selected.
	Quote        *Quote
	Usage        domain.TokenUsage
	Success      bool
	ErrorMessage string
	ErrorType    domain.ErrorType
	RequestTime  time.Time
	ResponseTime time.Time
}

// Ledger writes usage rows and debits member balances. Every attempt yields
// exactly one row per idempotency key.
type Ledger struct {
	DB      *sql.DB
	Usage   *store.UsageRepo
	Members *store.MemberRepo
	Logger  *slog.Logger
	Now     func() time.Time

	metrics *telemetry.Metrics
}

// NewLedger creates a ledger over db.
func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		DB:      db,
		Usage:   &store.UsageRepo{},
		Members: &store.MemberRepo{},
		Logger:  logger,
		Now:     time.Now,
		metrics: telemetry.Default(),
	}
}

// Settle records a successful or interrupted attempt and debits its actual
// cost, both in one transaction. A repeated idempotency key returns
// ErrDuplicateCharge and leaves balances untouched.
func (l *Ledger) Settle(ctx context.Context, a Attempt) (*domain.UsageEntry, error) {
	if a.IdempotencyKey == "" {
		return nil, domain.ErrValidation.WithMessage("idempotency key is required")
	}
	if a.Quote == nil {
		return nil, domain.ErrValidation.WithMessage("settlement requires a quote")
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.ErrStoreWrite.Wrap(err)
	}
	defer tx.Rollback()

	m, err := l.Members.GetByID(ctx, tx, a.MemberID)
	if err != nil {
		return nil, err
	}

	e := l.entry(a)
	e.Cost = ComputeCost(a.Quote.Pricing, a.Usage)
	split := chargeSplit(m, a.Quote.AllowsFree(), e.Cost)
	e.UsedFreeCredits, e.UsedPaidCredits = split.Free, split.Paid

	inserted, err := l.Usage.Insert(ctx, tx, e)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domain.ErrDuplicateCharge
	}
	if split.Total() > 0 {
		if _, err := l.Members.Debit(ctx, tx, a.MemberID, split); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.ErrStoreWrite.Wrap(fmt.Errorf("commit settlement: %w", err))
	}

	l.observe(ctx, e)
	return &e, nil
}

// RecordFailure writes a failed attempt at zero cost without touching balances.
func (l *Ledger) RecordFailure(ctx context.Context, a Attempt) (*domain.UsageEntry, error) {
	if a.IdempotencyKey == "" {
		return nil, domain.ErrValidation.WithMessage("idempotency key is required")
	}
	a.Success = false
	e := l.entry(a)
	inserted, err := l.Usage.Insert(ctx, l.DB, e)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domain.ErrDuplicateCharge
	}
	l.observe(ctx, e)
	return &e, nil
}

func (l *Ledger) entry(a Attempt) domain.UsageEntry {
	now := l.Now()
	if a.RequestTime.IsZero() {
		a.RequestTime = now
	}
	if a.ResponseTime.IsZero() {
		a.ResponseTime = now
	}
	e := domain.UsageEntry{
		IdempotencyKey:   a.IdempotencyKey,
		MemberID:         a.MemberID,
		RequestType:      a.RequestType,
		EntityClass:      a.Entity.Class,
		EntityID:         a.Entity.ID,
		Usage:            a.Usage,
		Success:          a.Success,
		ErrorMessage:     a.ErrorMessage,
		ErrorType:        a.ErrorType,
		RequestTimeUnix:  a.RequestTime.Unix(),
		ResponseTimeUnix: a.ResponseTime.Unix(),
	}
	if q := a.Quote; q != nil {
		e.ModelID = q.Pricing.ModelID
		e.Model = q.Pricing.Model
		e.InputCostPer1M = q.Pricing.InputPer1M
		e.OutputCostPer1M = q.Pricing.OutputPer1M
		e.CacheWriteCostPer1M = q.Pricing.CacheWritePer1M
		e.CacheReadCostPer1M = q.Pricing.CacheReadPer1M
	}
	return e
}

func (l *Ledger) observe(ctx context.Context, e domain.UsageEntry) {
	attrs := metric.WithAttributes(
		attribute.String("request_type", string(e.RequestType)),
		attribute.Bool("success", e.Success),
	)
	l.metrics.Attempts.Add(ctx, 1, attrs)
	if charged := e.UsedFreeCredits + e.UsedPaidCredits; charged > 0 {
		l.metrics.Cost.Add(ctx, charged, attrs)
	}
	l.Logger.DebugContext(ctx, "usage recorded",
		slog.Int64("member_id", e.MemberID),
		slog.String("model", e.Model),
		slog.String("request_type", string(e.RequestType)),
		slog.Bool("success", e.Success),
		slog.Float64("cost", e.Cost),
	)
}

// ListUsage returns a member's most recent usage rows.
func (l *Ledger) ListUsage(ctx context.Context, memberID int64, limit int) ([]domain.UsageEntry, error) {
	return l.Usage.ListByMember(ctx, l.DB, memberID, limit)
}

// Balance returns the member's current pools.
func (l *Ledger) Balance(ctx context.Context, memberID int64) (*domain.Member, error) {
	return l.Members.GetByID(ctx, l.DB, memberID)
}

// AddPurchased credits a positive amount to a member's purchased pool.
func (l *Ledger) AddPurchased(ctx context.Context, memberID int64, amount float64) error {
	if err := l.Members.AddPurchased(ctx, l.DB, memberID, amount); err != nil {
		return err
	}
	l.Logger.InfoContext(ctx, "purchased credits added",
		slog.Int64("member_id", memberID), slog.Float64("amount", amount))
	return nil
}

// RefillFree resets one member's free pool to amount.
func (l *Ledger) RefillFree(ctx context.Context, memberID int64, amount float64) error {
	return l.Members.RefillFree(ctx, l.DB, memberID, amount, l.Now().Unix())
}

// RefillAllFree resets every member's free pool to amount.
func (l *Ledger) RefillAllFree(ctx context.Context, amount float64) (int64, error) {
	n, err := l.Members.RefillAllFree(ctx, l.DB, amount, l.Now().Unix())
	if err != nil {
		return 0, err
	}
	l.Logger.InfoContext(ctx, "free credits refilled",
		slog.Int64("members", n), slog.Float64("amount", amount))
	return n, nil
}
