package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// State keys. Double-underscore keys are bookkeeping set by the service.
const (
	KeyMemberID    = "__member_id"
	KeyEntityClass = "__entity_class"
	KeyEntityID    = "__entity_id"
	KeyModelID     = "__model_id"
	KeyModel       = "__model"
	KeySkipReview  = "__skip_review"
	KeyContent     = "content"
)

// Domain events between the three steps.
const (
	EventGenerated workflow.SignalKind = "content_generated"
	EventApproved  workflow.SignalKind = "content_approved"
)

const (
	GeneratePrompt = "Generate the content now based on the data provided."
	ReviewMessage  = "Review the generated content before saving."
	// ReviewAction is the single action name of the review request.
	ReviewAction = "content"
	reviewLabel  = "Review Content"
)

// KeyScope is appended to the engine key prefix so parked reviews never
// collide with other workflows sharing the store.
const KeyScope = "content_"

// Workflow generates content for a subject, waits for review and saves it.
type Workflow struct {
	Resolver Resolver
	Provider llm.Provider
	Logger   *slog.Logger
}

// NewWorkflow creates the content workflow.
func NewWorkflow(resolver Resolver, provider llm.Provider, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{Resolver: resolver, Provider: provider, Logger: logger}
}

// Steps returns generate, review and persist, in that order.
func (w *Workflow) Steps() []workflow.Step {
	return []workflow.Step{
		workflow.StepFunc{StepName: "generate", Kind: workflow.KindStart, Fn: w.generate},
		workflow.StepFunc{StepName: "review", Kind: EventGenerated, Fn: w.review},
		workflow.StepFunc{StepName: "persist", Kind: EventApproved, Fn: w.persist},
	}
}

// NewState builds the initial state of a content run. skipReview is locked
// so that nothing downstream can turn review back off or on.
func NewState(memberID int64, ref domain.EntityRef, model domain.AIModel, skipReview bool) (*workflow.State, error) {
	st := workflow.NewState()
	for _, kv := range []struct {
		k string
		v any
	}{
		{KeyMemberID, memberID},
		{KeyEntityClass, ref.Class},
		{KeyEntityID, ref.ID},
		{KeyModelID, model.ID},
		{KeyModel, model.Name},
		{KeyContent, ""},
	} {
		if err := st.Set(kv.k, kv.v); err != nil {
			return nil, err
		}
	}
	if err := st.Lock(KeySkipReview, skipReview); err != nil {
		return nil, err
	}
	return st, nil
}

// RefFromState returns the subject a content run is working on.
func RefFromState(st *workflow.State) domain.EntityRef {
	return domain.EntityRef{Class: st.String(KeyEntityClass), ID: st.Int(KeyEntityID)}
}

func (w *Workflow) generate(ctx context.Context, rc *workflow.RunContext, _ workflow.Signal, st *workflow.State) (workflow.Signal, error) {
	subject, err := w.Resolver.Resolve(ctx, RefFromState(st))
	if err != nil {
		return workflow.Signal{}, err
	}

	agent := &llm.Agent{
		Provider:  w.Provider,
		Model:     st.String(KeyModel),
		System:    systemPrompt(subject),
		MaxRounds: 1,
		Logger:    w.Logger,
	}
	turn, err := agent.Run(ctx, []llm.Message{llm.UserMessage(GeneratePrompt)})
	if err != nil {
		return workflow.Signal{}, err
	}
	rc.AddUsage(turn.Usage)

	if err := st.Set(KeyContent, Sanitize(turn.Message)); err != nil {
		return workflow.Signal{}, err
	}
	w.Logger.DebugContext(ctx, "content generated",
		slog.String("entity_class", subject.Ref().Class),
		slog.Int64("entity_id", subject.Ref().ID),
		slog.Int("length", len(st.String(KeyContent))),
	)
	return workflow.Event(EventGenerated), nil
}

func (w *Workflow) review(_ context.Context, rc *workflow.RunContext, _ workflow.Signal, st *workflow.State) (workflow.Signal, error) {
	if st.Bool(KeySkipReview) {
		return workflow.Event(EventApproved), nil
	}

	req := approval.NewRequest(ReviewMessage, approval.NewAction(ReviewAction, reviewLabel, st.String(KeyContent)))
	decided, ok := rc.Await(req)
	if !ok {
		return workflow.Suspend(), nil
	}
	if decided.Rejected() {
		return workflow.StopEmpty(), nil
	}

	action, found := decided.GetAction(ReviewAction)
	if !found {
		return workflow.Signal{}, domain.ErrUnknownAction.WithMessage(fmt.Sprintf("action %q missing from review", ReviewAction))
	}
	if action.Decision == approval.Edited && action.Feedback != nil {
		if err := st.Set(KeyContent, Sanitize(*action.Feedback)); err != nil {
			return workflow.Signal{}, err
		}
	}
	return workflow.Event(EventApproved), nil
}

func (w *Workflow) persist(ctx context.Context, _ *workflow.RunContext, _ workflow.Signal, st *workflow.State) (workflow.Signal, error) {
	subject, err := w.Resolver.Resolve(ctx, RefFromState(st))
	if err != nil {
		return workflow.Signal{}, err
	}
	text := st.String(KeyContent)
	if err := subject.SaveContent(ctx, text); err != nil {
		return workflow.Signal{}, fmt.Errorf("save %s content: %w", subject.ContentField(), err)
	}
	return workflow.Stop(text), nil
}

func systemPrompt(s Subject) string {
	static, dynamic := s.StaticInstructions(), s.DynamicContext()
	switch {
	case static == "":
		return dynamic
	case dynamic == "":
		return static
	}
	return static + "\n\n" + dynamic
}
