package service

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/chat"
	"github.com/hitlflow/hitlflow/internal/content"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/telemetry"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// ChatInput is a new chat message.
type ChatInput struct {
	Member   *domain.Member
	ThreadID string
	Message  string
	Entity   domain.EntityRef
}

// ResumeInput answers an approval card.
type ResumeInput struct {
	Member         *domain.Member
	ThreadID       string
	Token          string
	RequestPayload string
	Approved       bool
	Entity         domain.EntityRef
}

// AgentService runs the chat assistant.
type AgentService struct {
	deps   Deps
	engine *workflow.Engine
	link   chat.Linker
	tracer trace.Tracer
}

// NewAgentService creates the service over engine, which must run the chat
// workflow. link may be nil.
func NewAgentService(deps Deps, engine *workflow.Engine, link chat.Linker) *AgentService {
	deps.defaults()
	return &AgentService{deps: deps, engine: engine, link: link, tracer: telemetry.Tracer()}
}

// Chat answers a message, or returns an approval card when the assistant
// wants to run a write tool.
func (s *AgentService) Chat(ctx context.Context, in ChatInput) (*chat.AgentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.agent.chat", trace.WithAttributes(
		attribute.String("entity_class", in.Entity.Class), attribute.Int64("entity_id", in.Entity.ID)))
	defer span.End()

	a := s.deps.begin(domain.RequestAgent, in.Member, in.Entity)
	out, err := s.chat(ctx, a, in)
	s.deps.finish(ctx, a, out, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.respond(ctx, out)
}

func (s *AgentService) chat(ctx context.Context, a *attempt, in ChatInput) (*workflow.Outcome, error) {
	if _, err := s.deps.authorize(ctx, in.Member, in.Entity); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, domain.ErrValidation.WithMessage("message is required")
	}
	if strings.TrimSpace(in.ThreadID) == "" {
		return nil, domain.ErrValidation.WithMessage("thread_id is required")
	}
	est := billing.EstimateFromText(in.Message, billing.DefaultOutputEstimate)
	if err := s.deps.quote(ctx, a, est); err != nil {
		return nil, err
	}

	s.deps.Logger.InfoContext(ctx, "processing chat",
		slog.String("entity_class", in.Entity.Class),
		slog.Int64("entity_id", in.Entity.ID),
		slog.Int64("member_id", in.Member.ID),
		slog.String("model", a.quote.Model.Name),
	)
	st, err := chat.NewState(chat.Input{
		MemberID: in.Member.ID,
		ThreadID: in.ThreadID,
		Message:  in.Message,
		Entity:   in.Entity,
		Model:    a.quote.Model,
	})
	if err != nil {
		return nil, err
	}
	return s.engine.Run(content.WithMember(ctx, in.Member), st)
}

// Resume approves or declines every action of a pending card and lets the
// assistant continue.
func (s *AgentService) Resume(ctx context.Context, in ResumeInput) (*chat.AgentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.agent.resume", trace.WithAttributes(
		attribute.Bool("approved", in.Approved)))
	defer span.End()

	a := s.deps.begin(domain.RequestAgent, in.Member, domain.EntityRef{})
	out, err := s.resume(ctx, a, in)
	s.deps.finish(ctx, a, out, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.respond(ctx, out)
}

// resume scopes the call to the entity the chat was started on; the client's
// context may only repeat it.
func (s *AgentService) resume(ctx context.Context, a *attempt, in ResumeInput) (*workflow.Outcome, error) {
	if in.Member == nil || in.Member.ID <= 0 {
		return nil, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(in.Token) == "" {
		return nil, domain.ErrValidation.WithMessage("resume_token is required")
	}
	req, err := approval.Decode(in.RequestPayload)
	if err != nil {
		return nil, err
	}
	pending, err := s.engine.Peek(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	ref := chat.RefFromState(pending.State)
	a.entity = ref
	if pending.State.Int(content.KeyMemberID) != in.Member.ID {
		return nil, domain.ErrPermissionDenied.WithMessage("this request belongs to another member")
	}
	if !sameEntity(in.Entity, ref) {
		return nil, domain.ErrValidation.WithMessage("context does not match the pending request")
	}
	if _, err := s.deps.authorize(ctx, in.Member, ref); err != nil {
		return nil, err
	}
	if err := s.deps.quote(ctx, a, billing.EstimateResume); err != nil {
		return nil, err
	}

	decisions := approval.DecideAll(req.Names(), approval.Approved, "")
	action := "approved"
	if !in.Approved {
		decisions = approval.DecideAll(req.Names(), approval.Rejected, chat.DeclinedResult)
		action = "rejected"
	}
	s.deps.Logger.InfoContext(ctx, "resuming chat",
		slog.String("token", in.Token),
		slog.Bool("approved", in.Approved),
		slog.String("entity_class", ref.Class),
		slog.Int64("entity_id", ref.ID),
		slog.String("model", a.quote.Model.Name),
	)
	out, err := s.engine.Resume(content.WithMember(ctx, in.Member), in.Token, decisions, guardMember(in.Member.ID), useModel(a.quote))
	if err != nil {
		return nil, err
	}
	s.deps.audit(ctx, "agent", in.Token, in.Member.ID, action, map[string]any{
		"actions":   req.Names(),
		"thread_id": in.ThreadID,
	})
	return out, nil
}

// sameEntity reports whether a client-supplied context names ref. An empty
// context is accepted.
func sameEntity(client, ref domain.EntityRef) bool {
	if client.Class == "" && client.ID == 0 {
		return true
	}
	return strings.EqualFold(client.Class, ref.Class) && client.ID == ref.ID
}

func (s *AgentService) respond(ctx context.Context, out *workflow.Outcome) (*chat.AgentResponse, error) {
	if out.Status != workflow.StatusInterrupted {
		return chat.FromMessage(out.Result, out.Usage, s.link), nil
	}
	payload, err := out.Interrupt.Request.Encode()
	if err != nil {
		return nil, err
	}
	s.deps.Logger.InfoContext(ctx, "chat awaiting approval",
		slog.String("token", out.Interrupt.ResumeToken),
		slog.Int("actions", len(out.Interrupt.Request.Actions)))
	return chat.FromInterrupt(out.Interrupt.ResumeToken, out.Interrupt.Request, payload), nil
}
