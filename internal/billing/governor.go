package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
)

// Governor selects the model a member can afford before a call is made.
type Governor struct {
	DB      *sql.DB
	Models  *store.ModelRepo
	Members *store.MemberRepo

	// DefaultModel is the paid model used when a member has no override.
	DefaultModel string
	// FreeModel is the model used when only free credits can cover the call.
	FreeModel string
}

// NewGovernor creates a governor over db with the configured model names.
func NewGovernor(db *sql.DB, defaultModel, freeModel string) *Governor {
	return &Governor{
		DB:           db,
		Models:       &store.ModelRepo{},
		Members:      &store.MemberRepo{},
		DefaultModel: defaultModel,
		FreeModel:    freeModel,
	}
}

// Quote is the outcome of a pre-check: which model to run and what the
// estimate would take from each pool.
type Quote struct {
	Model     domain.AIModel
	Pricing   Pricing
	Estimated float64
	Split     domain.CreditSplit
	Admin     bool
}

// AllowsFree reports whether the quoted model may be paid with free credits.
func (q *Quote) AllowsFree() bool { return q.Model.AllowedForFreeCredits }

// Quote picks the paid model when purchased credits cover it, falls back to
// the free model when both pools together cover that, and otherwise fails
// with ErrCreditLimit. Admins always get the paid model at no charge.
func (g *Governor) Quote(ctx context.Context, m *domain.Member, est Estimate) (*Quote, error) {
	paid, err := g.paidModel(ctx, m)
	if err != nil {
		return nil, err
	}
	free, err := g.model(ctx, g.FreeModel, "free")
	if err != nil {
		return nil, err
	}

	paidPricing, freePricing := PricingFor(*paid), PricingFor(*free)
	paidCost := EstimateCost(paidPricing, est)
	freeCost := EstimateCost(freePricing, est)

	if m.IsAdmin {
		return &Quote{Model: *paid, Pricing: paidPricing, Estimated: paidCost, Admin: true}, nil
	}

	purchased, available := m.PurchasedCredits, m.FreeCredits
	if purchased >= paidCost {
		return &Quote{
			Model:     *paid,
			Pricing:   paidPricing,
			Estimated: paidCost,
			Split:     domain.CreditSplit{Paid: paidCost},
		}, nil
	}
	if purchased+available >= freeCost {
		usedPaid := math.Min(purchased, freeCost)
		return &Quote{
			Model:     *free,
			Pricing:   freePricing,
			Estimated: freeCost,
			Split:     domain.CreditSplit{Paid: usedPaid, Free: freeCost - usedPaid},
		}, nil
	}
	return nil, insufficient(freeCost, purchased+available)
}

// CheckMember reloads the member and quotes against its current balances.
func (g *Governor) CheckMember(ctx context.Context, memberID int64, est Estimate) (*domain.Member, *Quote, error) {
	m, err := g.Members.GetByID(ctx, g.DB, memberID)
	if err != nil {
		return nil, nil, err
	}
	q, err := g.Quote(ctx, m, est)
	if err != nil {
		return m, nil, err
	}
	return m, q, nil
}

func (g *Governor) paidModel(ctx context.Context, m *domain.Member) (*domain.AIModel, error) {
	if m.ModelID > 0 {
		override, err := g.Models.GetByID(ctx, g.DB, m.ModelID)
		if err == nil {
			return override, nil
		}
		if !errors.Is(err, domain.ErrModelNotConfigured) {
			return nil, err
		}
	}
	return g.model(ctx, g.DefaultModel, "paid")
}

func (g *Governor) model(ctx context.Context, name, kind string) (*domain.AIModel, error) {
	if name == "" {
		return nil, domain.ErrModelNotConfigured.WithMessage(kind + " model not configured")
	}
	m, err := g.Models.GetByName(ctx, g.DB, name)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotConfigured) {
			return nil, domain.ErrModelNotConfigured.WithMessage(kind + " model not configured")
		}
		return nil, err
	}
	return m, nil
}

// chargeSplit divides an actual cost across the member's pools, purchased
// first, clamping at the available balances instead of failing. Free credits
// only count when the quoted model allows them. An approved call is always
// charged what the member has, even when usage exceeded the estimate.
func chargeSplit(m *domain.Member, allowFree bool, cost float64) domain.CreditSplit {
	if cost <= 0 || m.IsAdmin {
		return domain.CreditSplit{}
	}
	paid := math.Min(math.Max(m.PurchasedCredits, 0), cost)
	split := domain.CreditSplit{Paid: Round6(paid)}
	if allowFree {
		split.Free = Round6(math.Min(math.Max(m.FreeCredits, 0), cost-paid))
	}
	return split
}

func insufficient(required, available float64) error {
	return domain.ErrCreditLimit.WithMessage(fmt.Sprintf(
		"Insufficient credits. Required: $%.2f, Available: $%.2f.", required, available))
}
