// Package service holds the orchestration façades the HTTP boundary calls:
// content generation and the chat agent. Each call validates its caller,
// quotes the cost, runs or resumes a workflow and leaves exactly one usage
// row behind, whatever the outcome.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/content"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// Deps are the collaborators shared by both services.
type Deps struct {
	DB          *sql.DB
	Governor    *billing.Governor
	Ledger      *billing.Ledger
	Resolver    content.Resolver
	Permissions *content.PermissionBroker
	Audit       *store.AuditRepo
	Logger      *slog.Logger
	Now         func() time.Time
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Audit == nil {
		d.Audit = &store.AuditRepo{}
	}
	if d.Permissions == nil {
		d.Permissions = content.NewPermissionBroker(d.DB, d.Logger)
	}
}

// attempt tracks one billable call from validation to its usage row.
type attempt struct {
	key      string
	kind     domain.RequestType
	memberID int64
	entity   domain.EntityRef
	quote    *billing.Quote
	started  time.Time
}

func (d *Deps) begin(kind domain.RequestType, m *domain.Member, ref domain.EntityRef) *attempt {
	a := &attempt{key: uuid.NewString(), kind: kind, entity: ref, started: d.Now()}
	if m != nil {
		a.memberID = m.ID
	}
	return a
}

// authorize checks the caller and, when ref names an entity, that the caller
// may edit it.
func (d *Deps) authorize(ctx context.Context, m *domain.Member, ref domain.EntityRef) (content.Subject, error) {
	if m == nil || m.ID <= 0 {
		return nil, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(ref.Class) == "" {
		return nil, domain.ErrValidation.WithMessage("entity class is required")
	}
	if ref.ID < 0 {
		return nil, domain.ErrValidation.WithMessage("entity id must not be negative")
	}
	if ref.ID == 0 {
		return nil, nil
	}
	subject, err := d.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := d.Permissions.CheckEdit(ctx, m, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

// quote prices the call against the member's current balances.
func (d *Deps) quote(ctx context.Context, a *attempt, est billing.Estimate) error {
	_, q, err := d.Governor.CheckMember(ctx, a.memberID, est)
	if err != nil {
		return err
	}
	a.quote = q
	return nil
}

// guardMember refuses to resume a workflow started by someone else.
func guardMember(memberID int64) workflow.ResumeOption {
	return workflow.WithGuard(func(st *workflow.State) error {
		if st.Int(content.KeyMemberID) != memberID {
			return domain.ErrPermissionDenied.WithMessage("this request belongs to another member")
		}
		return nil
	})
}

// useModel points a resumed workflow at the model quoted for this call.
func useModel(q *billing.Quote) workflow.ResumeOption {
	return workflow.WithStateUpdate(func(st *workflow.State) error {
		if err := st.Set(content.KeyModelID, q.Model.ID); err != nil {
			return err
		}
		return st.Set(content.KeyModel, q.Model.Name)
	})
}

// finish writes the usage row for a. Interrupts and completions are settled
// against the member's balance; failures are recorded at zero cost.
func (d *Deps) finish(ctx context.Context, a *attempt, out *workflow.Outcome, runErr error) {
	rec := billing.Attempt{
		IdempotencyKey: a.key,
		MemberID:       a.memberID,
		RequestType:    a.kind,
		Entity:         a.entity,
		Quote:          a.quote,
		RequestTime:    a.started,
		ResponseTime:   d.Now(),
	}

	var err error
	switch {
	case runErr != nil:
		rec.ErrorMessage = runErr.Error()
		rec.ErrorType = domain.Classify(runErr)
		_, err = d.Ledger.RecordFailure(ctx, rec)
		d.logFailure(ctx, a, runErr)
	case out.Status == workflow.StatusInterrupted:
		rec.Usage = out.Usage
		rec.ErrorMessage = domain.InterruptMarker
		rec.ErrorType = domain.ErrorTypeInterrupt
		_, err = d.Ledger.Settle(ctx, rec)
	default:
		rec.Usage = out.Usage
		rec.Success = true
		_, err = d.Ledger.Settle(ctx, rec)
	}
	if err != nil {
		d.Logger.ErrorContext(ctx, "record usage failed",
			slog.String("idempotency_key", a.key),
			slog.Int64("member_id", a.memberID),
			slog.Any("error", err),
		)
	}
}

func (d *Deps) logFailure(ctx context.Context, a *attempt, err error) {
	attrs := []any{
		slog.Int64("member_id", a.memberID),
		slog.String("entity_class", a.entity.Class),
		slog.Int64("entity_id", a.entity.ID),
		slog.Duration("duration", d.Now().Sub(a.started)),
		slog.Any("error", err),
	}
	if a.quote != nil {
		attrs = append(attrs, slog.String("model", a.quote.Model.Name))
	}
	if Unexpected(err) {
		d.Logger.ErrorContext(ctx, "request failed", attrs...)
		return
	}
	d.Logger.InfoContext(ctx, "request refused", attrs...)
}

// audit records who decided what on a resume token.
func (d *Deps) audit(ctx context.Context, category, token string, memberID int64, action string, detail any) {
	if d.DB == nil {
		return
	}
	b, err := json.Marshal(detail)
	if err != nil {
		b = []byte("{}")
	}
	err = d.Audit.Record(ctx, d.DB, domain.AuditRecord{
		ID:           "aud-" + uuid.NewString(),
		Token:        token,
		MemberID:     memberID,
		Category:     category,
		Action:       action,
		DecisionJSON: string(b),
		CreatedAt:    d.Now().Unix(),
	})
	if err != nil {
		d.Logger.WarnContext(ctx, "audit decision failed", slog.String("token", token), slog.Any("error", err))
	}
}
