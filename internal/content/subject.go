// Package content implements AI content generation for subject entities:
// the generate, review and persist workflow, the entity contract it writes
// through and the text cleanup applied to drafts.
package content

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
)

// Subject is an entity that can receive generated content.
type Subject interface {
	Ref() domain.EntityRef
	// StaticInstructions is the stable part of the system prompt.
	StaticInstructions() string
	// DynamicContext is the per-request entity data the model writes from.
	DynamicContext() string
	ContentField() string
	Content() string
	SaveContent(ctx context.Context, text string) error
	CanEdit(m *domain.Member) bool
}

// Resolver finds subjects by class and id.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.EntityRef) (Subject, error)
}

// StoreResolver resolves subjects from the entities table.
type StoreResolver struct {
	DB   *sql.DB
	Repo *store.EntityRepo
	Now  func() time.Time
}

// NewStoreResolver creates a resolver over db.
func NewStoreResolver(db *sql.DB) *StoreResolver {
	return &StoreResolver{DB: db, Repo: &store.EntityRepo{}, Now: time.Now}
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(ctx context.Context, ref domain.EntityRef) (Subject, error) {
	if strings.TrimSpace(ref.Class) == "" {
		return nil, domain.ErrValidation.WithMessage("entity class is required")
	}
	if ref.ID <= 0 {
		return nil, domain.ErrEntityNotFound
	}
	e, err := r.Repo.Get(ctx, r.DB, ref.Class, ref.ID)
	if err != nil {
		return nil, err
	}
	return &entitySubject{entity: *e, resolver: r}, nil
}

type entitySubject struct {
	entity   domain.Entity
	resolver *StoreResolver
}

func (s *entitySubject) Ref() domain.EntityRef {
	return domain.EntityRef{Class: s.entity.Class, ID: s.entity.ID}
}

func (s *entitySubject) StaticInstructions() string { return s.entity.Instructions }

func (s *entitySubject) DynamicContext() string {
	if s.entity.Title == "" {
		return s.entity.Context
	}
	return "Title: " + s.entity.Title + "\n" + s.entity.Context
}

func (s *entitySubject) ContentField() string { return "content" }

func (s *entitySubject) Content() string { return s.entity.Content }

func (s *entitySubject) SaveContent(ctx context.Context, text string) error {
	r := s.resolver
	if err := r.Repo.UpdateContent(ctx, r.DB, s.entity.Class, s.entity.ID, text, r.Now().Unix()); err != nil {
		return err
	}
	s.entity.Content = text
	return nil
}

// CanEdit allows admins and the entity's owner.
func (s *entitySubject) CanEdit(m *domain.Member) bool {
	if m == nil {
		return false
	}
	return m.IsAdmin || (s.entity.OwnerID != 0 && s.entity.OwnerID == m.ID)
}
