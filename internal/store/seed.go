package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Seed is the YAML document accepted by `hitlflow seed`.
type Seed struct {
	Models   []SeedModel  `yaml:"models"`
	Members  []SeedMember `yaml:"members"`
	Entities []SeedEntity `yaml:"entities"`
}

// SeedModel is one priced model.
type SeedModel struct {
	Name                  string  `yaml:"name"`
	DisplayName           string  `yaml:"display_name"`
	Provider              string  `yaml:"provider"`
	InputCostPer1M        float64 `yaml:"input_cost_per_1m"`
	OutputCostPer1M       float64 `yaml:"output_cost_per_1m"`
	CacheWriteCostPer1M   float64 `yaml:"cache_write_cost_per_1m"`
	CacheReadCostPer1M    float64 `yaml:"cache_read_cost_per_1m"`
	Active                *bool   `yaml:"active"`
	AllowedForFreeCredits bool    `yaml:"allowed_for_free_credits"`
	ContextWindow         int64   `yaml:"context_window"`
}

// SeedMember is one member. Existing emails are left alone.
type SeedMember struct {
	Email            string  `yaml:"email"`
	APIToken         string  `yaml:"api_token"`
	IsAdmin          bool    `yaml:"is_admin"`
	FreeCredits      float64 `yaml:"free_credits"`
	PurchasedCredits float64 `yaml:"purchased_credits"`
}

// SeedEntity is one content subject, owned by a seeded or existing member.
type SeedEntity struct {
	Class        string `yaml:"class"`
	Title        string `yaml:"title"`
	OwnerEmail   string `yaml:"owner_email"`
	Instructions string `yaml:"instructions"`
	Context      string `yaml:"context"`
	Content      string `yaml:"content"`
}

// SeedResult counts what Apply wrote.
type SeedResult struct {
	Models   int
	Members  int
	Entities int
}

// ParseSeed decodes a seed document. Unknown fields are rejected.
func ParseSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Seed
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("invalid seed file: %v", err))
	}
	for i, m := range s.Models {
		if m.Name == "" {
			return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("models[%d]: name is required", i))
		}
	}
	for i, m := range s.Members {
		if m.Email == "" {
			return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("members[%d]: email is required", i))
		}
	}
	for i, e := range s.Entities {
		if e.Class == "" {
			return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("entities[%d]: class is required", i))
		}
	}
	return &s, nil
}

// Apply writes the seed in one transaction.
func (s *Seed) Apply(ctx context.Context, db *sql.DB, now time.Time) (*SeedResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.ErrStoreWrite.Wrap(err)
	}
	defer tx.Rollback()

	var res SeedResult
	models, members, entities := &ModelRepo{}, &MemberRepo{}, &EntityRepo{}

	for _, m := range s.Models {
		active := m.Active == nil || *m.Active
		if _, err := models.Upsert(ctx, tx, domain.AIModel{
			Name:                  m.Name,
			DisplayName:           m.DisplayName,
			Provider:              m.Provider,
			InputCostPer1M:        m.InputCostPer1M,
			OutputCostPer1M:       m.OutputCostPer1M,
			CacheWriteCostPer1M:   m.CacheWriteCostPer1M,
			CacheReadCostPer1M:    m.CacheReadCostPer1M,
			Active:                active,
			AllowedForFreeCredits: m.AllowedForFreeCredits,
			ContextWindow:         m.ContextWindow,
		}); err != nil {
			return nil, err
		}
		res.Models++
	}

	for _, m := range s.Members {
		_, err := members.GetByEmail(ctx, tx, m.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrMemberNotFound) {
			return nil, err
		}
		if _, err := members.Create(ctx, tx, domain.Member{
			Email:            m.Email,
			APIToken:         m.APIToken,
			IsAdmin:          m.IsAdmin,
			FreeCredits:      m.FreeCredits,
			PurchasedCredits: m.PurchasedCredits,
			FreeRefilledAt:   now.Unix(),
			CreatedAtUnix:    now.Unix(),
		}); err != nil {
			return nil, err
		}
		res.Members++
	}

	for _, e := range s.Entities {
		var owner int64
		if e.OwnerEmail != "" {
			m, err := members.GetByEmail(ctx, tx, e.OwnerEmail)
			if err != nil {
				return nil, fmt.Errorf("entity %q owner %s: %w", e.Title, e.OwnerEmail, err)
			}
			owner = m.ID
		}
		if _, err := entities.Create(ctx, tx, domain.Entity{
			Class:         e.Class,
			Title:         e.Title,
			OwnerID:       owner,
			Instructions:  e.Instructions,
			Context:       e.Context,
			Content:       e.Content,
			UpdatedAtUnix: now.Unix(),
		}); err != nil {
			return nil, err
		}
		res.Entities++
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.ErrStoreWrite.Wrap(fmt.Errorf("commit seed: %w", err))
	}
	return &res, nil
}
