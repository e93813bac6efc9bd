package content

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
)

// PermissionBroker checks edit rights on subjects. Denied attempts are audited.
type PermissionBroker struct {
	AuditRepo *store.AuditRepo
	DB        *sql.DB
	Logger    *slog.Logger
}

// NewPermissionBroker creates a PermissionBroker with default repos.
func NewPermissionBroker(db *sql.DB, logger *slog.Logger) *PermissionBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionBroker{
		AuditRepo: &store.AuditRepo{},
		DB:        db,
		Logger:    logger,
	}
}

// CheckEdit returns ErrUnauthenticated without a member and
// ErrPermissionDenied when the member may not edit s.
func (p *PermissionBroker) CheckEdit(ctx context.Context, m *domain.Member, s Subject) error {
	if m == nil || m.ID <= 0 {
		return domain.ErrUnauthenticated
	}
	if s.CanEdit(m) {
		return nil
	}
	p.auditDenial(ctx, m.ID, s.Ref())
	return domain.ErrPermissionDenied.WithMessage("you do not have permission to edit this entity")
}

func (p *PermissionBroker) auditDenial(ctx context.Context, memberID int64, ref domain.EntityRef) {
	if p.DB == nil {
		return
	}
	err := p.AuditRepo.Record(ctx, p.DB, domain.AuditRecord{
		ID:           "aud-perm-" + uuid.NewString(),
		MemberID:     memberID,
		Category:     "permission",
		Action:       "permission_denied",
		DecisionJSON: fmt.Sprintf(`{"entity_class":%q,"entity_id":%d}`, ref.Class, ref.ID),
		CreatedAt:    time.Now().Unix(),
	})
	if err != nil {
		p.Logger.WarnContext(ctx, "audit permission denial failed", slog.Any("error", err))
	}
}
