package llm

import (
	"context"
	"sync"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// ScriptedProvider replays canned responses in order. It records every
// request it receives.
type ScriptedProvider struct {
	mu       sync.Mutex
	script   []scripted
	requests []Request
	// Fallback answers once the script runs out. Nil means an error.
	Fallback func(Request) (*Response, error)
}

type scripted struct {
	resp *Response
	err  error
}

// NewScriptedProvider creates a provider that returns responses in order.
func NewScriptedProvider(responses ...*Response) *ScriptedProvider {
	p := &ScriptedProvider{}
	for _, r := range responses {
		p.script = append(p.script, scripted{resp: r})
	}
	return p
}

// Then appends a response.
func (p *ScriptedProvider) Then(r *Response) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, scripted{resp: r})
	return p
}

// ThenError appends a failure.
func (p *ScriptedProvider) ThenError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, scripted{err: err})
	return p
}

// Chat implements Provider.
func (p *ScriptedProvider) Chat(_ context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	req.Messages = append([]Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		fallback := p.Fallback
		p.mu.Unlock()
		if fallback != nil {
			return fallback(req)
		}
		return nil, domain.ErrProvider.WithMessage("scripted provider exhausted")
	}
	next := p.script[0]
	p.script = p.script[1:]
	p.mu.Unlock()

	if next.err != nil {
		return nil, next.err
	}
	resp := *next.resp
	return &resp, nil
}

// Requests returns a copy of every request received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls returns the number of requests received.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// EchoProvider answers every request with a fixed text derived from the last
// user message. It lets the binary run end to end without a model endpoint.
func EchoProvider() Provider {
	return ProviderFunc(func(_ context.Context, req Request) (*Response, error) {
		last := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				last = req.Messages[i].Content
				break
			}
		}
		return &Response{
			Content: "Echo: " + last,
			Usage: domain.TokenUsage{
				InputTokens:  int64(len(req.System)+len(last)) / 4,
				OutputTokens: int64(len(last))/4 + 1,
			},
		}, nil
	})
}
