package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/history"
	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// State keys.
const (
	KeyMemberID      = "__member_id"
	KeyEntityClass   = "__entity_class"
	KeyEntityID      = "__entity_id"
	KeyModelID       = "__model_id"
	KeyModel         = "__model"
	KeyContextWindow = "__context_window"
	KeyThreadID      = "__thread_id"
	KeyMessage       = "message"
	KeyTranscript    = "__transcript"
	KeyPending       = "__pending_calls"
)

// KeyScope is appended to the engine key prefix for parked chat turns.
const KeyScope = "chat_"

// DeclinedResult is the tool result fed back for a rejected call.
const DeclinedResult = "User declined."

// Workflow is the single-step chat workflow.
type Workflow struct {
	Provider llm.Provider
	Agents   *Directory
	History  history.Store
	Logger   *slog.Logger
}

// NewWorkflow creates the chat workflow.
func NewWorkflow(provider llm.Provider, agents *Directory, hist history.Store, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{Provider: provider, Agents: agents, History: hist, Logger: logger}
}

// Steps returns the agent step.
func (w *Workflow) Steps() []workflow.Step {
	return []workflow.Step{
		workflow.StepFunc{StepName: "agent", Kind: workflow.KindStart, Fn: w.agent},
	}
}

// Input is what a chat run starts from.
type Input struct {
	MemberID int64
	ThreadID string
	Message  string
	Entity   domain.EntityRef
	Model    domain.AIModel
}

// NewState builds the initial state of a chat run.
func NewState(in Input) (*workflow.State, error) {
	st := workflow.NewState()
	for _, kv := range []struct {
		k string
		v any
	}{
		{KeyMemberID, in.MemberID},
		{KeyEntityClass, in.Entity.Class},
		{KeyEntityID, in.Entity.ID},
		{KeyModelID, in.Model.ID},
		{KeyModel, in.Model.Name},
		{KeyContextWindow, in.Model.ContextWindow},
		{KeyThreadID, in.ThreadID},
		{KeyMessage, in.Message},
	} {
		if err := st.Set(kv.k, kv.v); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// RefFromState returns the entity a chat run is scoped to.
func RefFromState(st *workflow.State) domain.EntityRef {
	return domain.EntityRef{Class: st.String(KeyEntityClass), ID: st.Int(KeyEntityID)}
}

func (w *Workflow) agent(ctx context.Context, rc *workflow.RunContext, _ workflow.Signal, st *workflow.State) (workflow.Signal, error) {
	ref := RefFromState(st)
	profile := w.Agents.For(ref.Class)
	key := history.Key(st.String(KeyThreadID), ref.ID)

	var transcript []llm.Message
	if rc.Resuming() {
		decided, _ := rc.Await(nil)
		var pending []llm.ToolCall
		if err := decodeState(st, KeyTranscript, &transcript); err != nil {
			return workflow.Signal{}, err
		}
		if err := decodeState(st, KeyPending, &pending); err != nil {
			return workflow.Signal{}, err
		}
		results, err := w.execute(ctx, profile.Tools, pending, decided)
		if err != nil {
			return workflow.Signal{}, err
		}
		transcript = append(transcript, results...)
	} else {
		past, err := w.History.Load(ctx, key)
		if err != nil {
			return workflow.Signal{}, err
		}
		transcript = append(past, llm.UserMessage(st.String(KeyMessage)))
	}

	agent := &llm.Agent{
		Provider: w.Provider,
		Tools:    profile.Tools,
		Model:    st.String(KeyModel),
		System:   profile.Instructions,
		Logger:   w.Logger,
	}
	turn, err := agent.Run(ctx, transcript)
	if err != nil {
		return workflow.Signal{}, err
	}
	rc.AddUsage(turn.Usage)

	if turn.Interrupted() {
		if err := encodeState(st, KeyTranscript, turn.Transcript); err != nil {
			return workflow.Signal{}, err
		}
		if err := encodeState(st, KeyPending, turn.Pending); err != nil {
			return workflow.Signal{}, err
		}
		rc.Await(ApprovalFor(profile.Tools, turn.Pending))
		return workflow.Suspend(), nil
	}

	window := history.WindowFor(st.Int(KeyContextWindow))
	err = history.Append(ctx, w.History, key, window,
		llm.UserMessage(st.String(KeyMessage)), llm.AssistantMessage(turn.Message))
	if err != nil {
		w.Logger.WarnContext(ctx, "save chat history failed",
			slog.String("thread_id", st.String(KeyThreadID)), slog.Any("error", err))
	}
	return workflow.Stop(turn.Message), nil
}

// execute runs the calls a human let proceed and declines the rest,
// returning one tool result per pending call in order.
func (w *Workflow) execute(ctx context.Context, tools *llm.ToolRegistry, pending []llm.ToolCall, decided *approval.Request) ([]llm.Message, error) {
	names := ActionNames(pending)
	if len(decided.Actions) != len(names) {
		return nil, domain.ErrUnknownAction.WithMessage(fmt.Sprintf(
			"decided %d actions for %d tool calls", len(decided.Actions), len(names)))
	}
	proceed := make(map[string]approval.Action, len(names))
	for _, a := range decided.Proceeding() {
		proceed[a.Name] = a
	}

	out := make([]llm.Message, 0, len(pending))
	for i, call := range pending {
		if _, ok := decided.GetAction(names[i]); !ok {
			return nil, domain.ErrUnknownAction.WithMessage(fmt.Sprintf("no decision for tool call %q", names[i]))
		}
		action, ok := proceed[names[i]]
		if !ok {
			out = append(out, llm.ToolResult(call.ID, DeclinedResult))
			continue
		}
		if action.Decision == approval.Edited {
			if fb := action.FeedbackText(); json.Valid([]byte(fb)) {
				call.Arguments = json.RawMessage(fb)
			}
		}
		result, err := tools.Execute(ctx, call)
		if err != nil {
			w.Logger.WarnContext(ctx, "approved tool failed",
				slog.String("tool", call.Name), slog.Any("error", err))
			result = "Error: " + err.Error()
		}
		out = append(out, llm.ToolResult(call.ID, result))
	}
	return out, nil
}

// ApprovalFor builds the approval request for pending write calls: one
// action per call, labelled by the tool's summary, carrying its arguments.
func ApprovalFor(tools *llm.ToolRegistry, pending []llm.ToolCall) *approval.Request {
	names := ActionNames(pending)
	actions := make([]approval.Action, len(pending))
	for i, call := range pending {
		payload := string(call.Arguments)
		if payload == "" {
			payload = "{}"
		}
		actions[i] = approval.NewAction(names[i], tools.Summarise(call.Name, call.Args()), payload)
	}
	return approval.NewRequest(ConfirmMessage(len(pending)), actions...)
}

// ConfirmMessage is the summary line of an approval card.
func ConfirmMessage(n int) string {
	if n == 1 {
		return "Confirm action"
	}
	return "Confirm " + strconv.Itoa(n) + " actions"
}

// ActionNames names one action per call after its tool. Repeated tools get
// a numeric suffix so that every action name is unique.
func ActionNames(calls []llm.ToolCall) []string {
	seen := make(map[string]int, len(calls))
	names := make([]string, len(calls))
	for i, c := range calls {
		seen[c.Name]++
		if n := seen[c.Name]; n > 1 {
			names[i] = c.Name + "_" + strconv.Itoa(n)
			continue
		}
		names[i] = c.Name
	}
	return names
}

func encodeState(st *workflow.State, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return st.Set(key, string(b))
}

func decodeState(st *workflow.State, key string, v any) error {
	raw := st.String(key)
	if raw == "" {
		return domain.ErrInvalidState.WithMessage(fmt.Sprintf("state key %q is missing", key))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return domain.ErrInvalidState.Wrap(fmt.Errorf("decode %s: %w", key, err))
	}
	return nil
}
