package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// HTTPConfig configures an OpenAI-compatible chat-completions backend.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
	// Backoff is the first retry delay; later delays grow exponentially.
	Backoff time.Duration
	Logger  *slog.Logger
}

// HTTPProvider posts to {BaseURL}/chat/completions. Transient failures
// (network errors, 429 and 5xx) are retried within the same call.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProvider creates a provider. BaseURL is required.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, domain.ErrServiceUnavailable.WithMessage("llm.base_url is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Arguments   string         `json:"arguments,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
		PromptTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Chat implements Provider.
func (p *HTTPProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	var out *Response
	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewExponential(p.cfg.Backoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := p.post(ctx, body)
		if err != nil {
			var retryable *transientError
			if errors.As(err, &retryable) {
				p.logger.WarnContext(ctx, "llm call failed, retrying",
					slog.String("model", req.Model), slog.Int("attempt", attempt), slog.Any("error", err))
				return retry.RetryableError(err)
			}
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (p *HTTPProvider) post(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{domain.ErrProvider.Wrap(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &transientError{domain.ErrProvider.Wrap(fmt.Errorf("read chat response: %w", err))}
	}

	var decoded chatResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{domain.ErrProvider.Wrap(fmt.Errorf("provider status %d", resp.StatusCode))}
	case resp.StatusCode >= 400:
		if decoded.Error != nil && isContextOverflow(decoded.Error.Message, decoded.Error.Code) {
			return nil, domain.ErrContextOverflow
		}
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("provider status %d", resp.StatusCode))
	}

	if len(decoded.Choices) == 0 {
		return nil, domain.ErrProvider.WithMessage("provider returned no choices")
	}
	return fromWire(decoded), nil
}

func isContextOverflow(msg string, code any) bool {
	if s, ok := code.(string); ok && s == "context_length_exceeded" {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "context length")
}

func toWire(req Request) chatRequest {
	out := chatRequest{Model: req.Model}
	if req.System != "" {
		out.Messages = append(out.Messages, wireMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, c := range m.ToolCalls {
			args := string(c.Arguments)
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: wireFunction{Name: c.Name, Arguments: args},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type:     "function",
			Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

func fromWire(r chatResponse) *Response {
	msg := r.Choices[0].Message
	out := &Response{
		Content: msg.Content,
		Usage: domain.TokenUsage{
			InputTokens:      r.Usage.PromptTokens - r.Usage.PromptTokensDetails.CachedTokens,
			OutputTokens:     r.Usage.CompletionTokens,
			CacheWriteTokens: r.Usage.CacheCreationTokens,
			CacheReadTokens:  r.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	for _, c := range msg.ToolCalls {
		call := ToolCall{ID: c.ID, Name: c.Function.Name}
		switch {
		case c.Function.Arguments == "":
		case json.Valid([]byte(c.Function.Arguments)):
			call.Arguments = json.RawMessage(c.Function.Arguments)
		default:
			call.Arguments, _ = json.Marshal(c.Function.Arguments)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out
}
