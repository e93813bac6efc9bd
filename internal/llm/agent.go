package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// DefaultMaxRounds bounds the provider calls one agent turn may make.
const DefaultMaxRounds = 8

// Agent drives a provider through tool rounds. Read-only tool calls are
// answered in place; the first round that asks for a write tool ends the
// turn with those calls pending.
type Agent struct {
	Provider  Provider
	Tools     *ToolRegistry
	Model     string
	System    string
	MaxRounds int
	Logger    *slog.Logger
}

// Turn is the outcome of one agent run.
type Turn struct {
	// Message is the final assistant text. Empty when Pending is set.
	Message string
	// Transcript is the conversation including every message this run added.
	Transcript []Message
	// Pending holds write calls that need approval before they run.
	Pending []ToolCall
	Usage   domain.TokenUsage
}

// Interrupted reports whether the turn stopped on write calls.
func (t *Turn) Interrupted() bool { return len(t.Pending) > 0 }

// Run continues transcript until the model answers or requests a write tool.
func (a *Agent) Run(ctx context.Context, transcript []Message) (*Turn, error) {
	if a.Provider == nil {
		return nil, domain.ErrServiceUnavailable.WithMessage("no LLM provider configured")
	}
	maxRounds := a.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	turn := &Turn{Transcript: append([]Message(nil), transcript...)}
	for round := 0; round < maxRounds; round++ {
		resp, err := a.Provider.Chat(ctx, Request{
			Model:    a.Model,
			System:   a.System,
			Messages: turn.Transcript,
			Tools:    a.Tools.Specs(),
		})
		if err != nil {
			return nil, asProviderError(err)
		}
		turn.Usage = turn.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			turn.Message = resp.Content
			turn.Transcript = append(turn.Transcript, AssistantMessage(resp.Content))
			return turn, nil
		}

		turn.Transcript = append(turn.Transcript, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		var writes []ToolCall
		for _, call := range resp.ToolCalls {
			if _, err := a.Tools.Get(call.Name); err != nil {
				turn.Transcript = append(turn.Transcript,
					ToolResult(call.ID, fmt.Sprintf("Error: tool %s is not available.", call.Name)))
				continue
			}
			if !a.Tools.ReadOnly(call.Name) {
				writes = append(writes, call)
				continue
			}
			out, err := a.Tools.Execute(ctx, call)
			if err != nil {
				logger.WarnContext(ctx, "read-only tool failed",
					slog.String("tool", call.Name), slog.Any("error", err))
				out = "Error: " + err.Error()
			}
			turn.Transcript = append(turn.Transcript, ToolResult(call.ID, out))
		}

		if len(writes) > 0 {
			turn.Pending = writes
			return turn, nil
		}
	}
	return nil, domain.ErrProviderMaxRounds
}

func asProviderError(err error) error {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ErrProvider.Wrap(err)
}
