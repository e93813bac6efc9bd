package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/content"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/telemetry"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// Content review decisions as sent by clients.
const (
	DecisionApproved = "approved"
	DecisionEdit     = "edit"
	DecisionRejected = "rejected"
)

// ContentResult is either a finished run or a draft awaiting review.
type ContentResult struct {
	Done        bool
	ResumeToken string
	Content     string
}

// MarshalJSON renders {"done":true} or {"resumeToken":..., "content":...}.
func (r ContentResult) MarshalJSON() ([]byte, error) {
	if r.Done {
		return json.Marshal(map[string]bool{"done": true})
	}
	return json.Marshal(struct {
		ResumeToken string `json:"resumeToken"`
		Content     string `json:"content"`
	}{r.ResumeToken, r.Content})
}

// ContentService generates content for entities behind a human review.
type ContentService struct {
	deps   Deps
	engine *workflow.Engine
	tracer trace.Tracer
}

// NewContentService creates the service over engine, which must run the
// content workflow.
func NewContentService(deps Deps, engine *workflow.Engine) *ContentService {
	deps.defaults()
	return &ContentService{deps: deps, engine: engine, tracer: telemetry.Tracer()}
}

// Generate drafts content for ref. With skipReview the draft is saved
// straight away; otherwise the result carries a resume token.
func (s *ContentService) Generate(ctx context.Context, m *domain.Member, ref domain.EntityRef, skipReview bool) (*ContentResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.content.generate", trace.WithAttributes(
		attribute.String("entity_class", ref.Class), attribute.Int64("entity_id", ref.ID)))
	defer span.End()

	a := s.deps.begin(domain.RequestContent, m, ref)
	out, err := s.generate(ctx, a, m, ref, skipReview, nil)
	s.deps.finish(ctx, a, out, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.result(ctx, out), nil
}

// GenerateUnattended drafts and saves content for ref without a review,
// quoting the fixed batch estimate.
func (s *ContentService) GenerateUnattended(ctx context.Context, m *domain.Member, ref domain.EntityRef) error {
	ctx, span := s.tracer.Start(ctx, "service.content.batch", trace.WithAttributes(
		attribute.String("entity_class", ref.Class), attribute.Int64("entity_id", ref.ID)))
	defer span.End()

	est := billing.EstimateBatch
	a := s.deps.begin(domain.RequestContent, m, ref)
	out, err := s.generate(ctx, a, m, ref, true, &est)
	s.deps.finish(ctx, a, out, err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *ContentService) generate(ctx context.Context, a *attempt, m *domain.Member, ref domain.EntityRef, skipReview bool, est *billing.Estimate) (*workflow.Outcome, error) {
	if ref.ID == 0 {
		return nil, domain.ErrValidation.WithMessage("entity id is required")
	}
	subject, err := s.deps.authorize(ctx, m, ref)
	if err != nil {
		return nil, err
	}
	if est == nil {
		e := billing.EstimateFromText(subject.DynamicContext(), billing.DefaultOutputEstimate)
		est = &e
	}
	if err := s.deps.quote(ctx, a, *est); err != nil {
		return nil, err
	}

	s.deps.Logger.InfoContext(ctx, "generating content",
		slog.String("entity_class", ref.Class),
		slog.Int64("entity_id", ref.ID),
		slog.Int64("member_id", m.ID),
		slog.String("model", a.quote.Model.Name),
		slog.Bool("skip_review", skipReview),
	)
	st, err := content.NewState(m.ID, ref, a.quote.Model, skipReview)
	if err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, st)
}

// Resume applies a review decision to a pending draft. decision is
// "approved", "edit" (text replaces the draft when present, even if empty)
// or anything else to reject.
func (s *ContentService) Resume(ctx context.Context, m *domain.Member, token, decision string, text *string) (*ContentResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.content.resume")
	defer span.End()

	a := s.deps.begin(domain.RequestContent, m, domain.EntityRef{})
	out, err := s.resume(ctx, a, m, token, decision, text)
	s.deps.finish(ctx, a, out, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.result(ctx, out), nil
}

func (s *ContentService) resume(ctx context.Context, a *attempt, m *domain.Member, token, decision string, text *string) (*workflow.Outcome, error) {
	if m == nil || m.ID <= 0 {
		return nil, domain.ErrUnauthenticated
	}
	pending, err := s.engine.Peek(ctx, token)
	if err != nil {
		return nil, err
	}
	ref := content.RefFromState(pending.State)
	a.entity = ref
	if pending.State.Int(content.KeyMemberID) != m.ID {
		return nil, domain.ErrPermissionDenied.WithMessage("this request belongs to another member")
	}
	if _, err := s.deps.authorize(ctx, m, ref); err != nil {
		return nil, err
	}
	if err := s.deps.quote(ctx, a, billing.EstimateResume); err != nil {
		return nil, err
	}

	verdict := ReviewVerdict(decision, text)
	s.deps.Logger.InfoContext(ctx, "resuming content review",
		slog.String("token", token),
		slog.String("decision", string(verdict.Decision)),
		slog.String("entity_class", ref.Class),
		slog.Int64("entity_id", ref.ID),
	)
	out, err := s.engine.Resume(ctx, token, approval.Decisions{content.ReviewAction: verdict},
		guardMember(m.ID), useModel(a.quote))
	if err != nil {
		return nil, err
	}
	s.deps.audit(ctx, "content", token, m.ID, string(verdict.Decision), map[string]any{
		"entity_class": ref.Class,
		"entity_id":    ref.ID,
		"edited":       verdict.Decision == approval.Edited,
	})
	return out, nil
}

// Save stores hand-written content without calling a model. No usage row
// is written.
func (s *ContentService) Save(ctx context.Context, m *domain.Member, ref domain.EntityRef, text string) error {
	if ref.ID == 0 {
		return domain.ErrValidation.WithMessage("entity id is required")
	}
	subject, err := s.deps.authorize(ctx, m, ref)
	if err != nil {
		return err
	}
	s.deps.Logger.InfoContext(ctx, "saving content",
		slog.String("entity_class", ref.Class), slog.Int64("entity_id", ref.ID))
	return subject.SaveContent(ctx, content.Sanitize(text))
}

// ReviewVerdict maps a client decision string onto the review action. A nil
// text on an edit keeps the generated draft.
func ReviewVerdict(decision string, text *string) approval.Verdict {
	switch decision {
	case DecisionApproved:
		return approval.Verdict{Decision: approval.Approved}
	case DecisionEdit:
		return approval.Verdict{Decision: approval.Edited, Feedback: text}
	default:
		return approval.Verdict{Decision: approval.Rejected}
	}
}

func (s *ContentService) result(ctx context.Context, out *workflow.Outcome) *ContentResult {
	if out.Status != workflow.StatusInterrupted {
		return &ContentResult{Done: true, Content: out.Result}
	}
	draft := ""
	if action, ok := out.Interrupt.Request.GetAction(content.ReviewAction); ok {
		draft = action.Payload
	}
	s.deps.Logger.InfoContext(ctx, "content awaiting review", slog.String("token", out.Interrupt.ResumeToken))
	return &ContentResult{ResumeToken: out.Interrupt.ResumeToken, Content: draft}
}
