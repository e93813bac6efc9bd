package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/domain"
)

type fakeTool struct {
	name     string
	readOnly bool
	calls    int
	out      string
}

func (f *fakeTool) Spec() ToolSpec { return ToolSpec{Name: f.name} }
func (f *fakeTool) ReadOnly() bool { return f.readOnly }
func (f *fakeTool) Execute(context.Context, json.RawMessage) (string, error) {
	f.calls++
	return f.out, nil
}

type summarisedTool struct{ fakeTool }

func (s *summarisedTool) Summarise(args map[string]any) string {
	return "Rename to " + args["title"].(string)
}

func TestToolRegistry(t *testing.T) {
	_, err := NewToolRegistry(&fakeTool{name: "a"}, &fakeTool{name: "a"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	reg, err := NewToolRegistry(&fakeTool{name: "b", readOnly: true}, &summarisedTool{fakeTool{name: "a"}})
	require.NoError(t, err)

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)

	assert.True(t, reg.ReadOnly("b"))
	assert.False(t, reg.ReadOnly("a"))
	assert.False(t, reg.ReadOnly("missing"))

	assert.Equal(t, "Rename to X", reg.Summarise("a", map[string]any{"title": "X"}))
	assert.Equal(t, "Execute: b", reg.Summarise("b", nil))

	_, err = reg.Execute(context.Background(), ToolCall{Name: "missing"})
	assert.ErrorIs(t, err, domain.ErrToolNotRegistered)
}

func TestAgent_AnswersWithoutTools(t *testing.T) {
	p := NewScriptedProvider(&Response{Content: "hello", Usage: domain.TokenUsage{InputTokens: 10, OutputTokens: 2}})
	a := &Agent{Provider: p, Model: "m", System: "sys"}

	turn, err := a.Run(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", turn.Message)
	assert.False(t, turn.Interrupted())
	assert.Len(t, turn.Transcript, 2)
	assert.Equal(t, int64(12), turn.Usage.Total())

	req := p.Requests()[0]
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, "sys", req.System)
}

func TestAgent_ResolvesReadOnlyToolsThenStopsOnWrite(t *testing.T) {
	lookup := &fakeTool{name: "lookup", readOnly: true, out: `{"ok":true}`}
	update := &fakeTool{name: "update"}
	reg, err := NewToolRegistry(lookup, update)
	require.NoError(t, err)

	p := NewScriptedProvider(
		&Response{ToolCalls: []ToolCall{{ID: "c1", Name: "lookup"}}, Usage: domain.TokenUsage{InputTokens: 5}},
		&Response{ToolCalls: []ToolCall{{ID: "c2", Name: "update", Arguments: json.RawMessage(`{"title":"x"}`)}},
			Usage: domain.TokenUsage{InputTokens: 7}},
	)
	a := &Agent{Provider: p, Tools: reg}

	turn, err := a.Run(context.Background(), []Message{UserMessage("rename it")})
	require.NoError(t, err)
	require.True(t, turn.Interrupted())
	assert.Equal(t, "update", turn.Pending[0].Name)
	assert.Equal(t, "x", turn.Pending[0].Args()["title"])
	assert.Equal(t, 1, lookup.calls)
	assert.Zero(t, update.calls)
	assert.Equal(t, int64(12), turn.Usage.InputTokens)

	// user, assistant(lookup), tool result, assistant(update)
	require.Len(t, turn.Transcript, 4)
	assert.Equal(t, RoleTool, turn.Transcript[2].Role)
	assert.Equal(t, "c1", turn.Transcript[2].ToolCallID)
}

func TestAgent_UnknownToolIsAnsweredWithError(t *testing.T) {
	p := NewScriptedProvider(
		&Response{ToolCalls: []ToolCall{{ID: "c1", Name: "ghost"}}},
		&Response{Content: "done"},
	)
	a := &Agent{Provider: p}

	turn, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", turn.Message)
	assert.Contains(t, turn.Transcript[1].Content, "not available")
}

func TestAgent_MaxRounds(t *testing.T) {
	lookup := &fakeTool{name: "lookup", readOnly: true}
	reg, err := NewToolRegistry(lookup)
	require.NoError(t, err)

	p := &ScriptedProvider{Fallback: func(Request) (*Response, error) {
		return &Response{ToolCalls: []ToolCall{{ID: "c", Name: "lookup"}}}, nil
	}}
	a := &Agent{Provider: p, Tools: reg, MaxRounds: 3}

	_, err = a.Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrProviderMaxRounds)
	assert.Equal(t, 3, p.Calls())
}

func TestAgent_ProviderErrorIsWrapped(t *testing.T) {
	p := NewScriptedProvider().ThenError(io.ErrUnexpectedEOF)
	_, err := (&Agent{Provider: p}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = (&Agent{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestDateTimeTool(t *testing.T) {
	tool := &DateTimeTool{Now: func() time.Time { return time.Date(2024, 2, 29, 13, 4, 5, 0, time.UTC) }}
	assert.True(t, tool.ReadOnly())
	assert.Equal(t, "GetCurrentDateTime", tool.Spec().Name)

	out, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "2024-02-29", got["current_date"])
	assert.Equal(t, "2024-02-29 13:04:05", got["current_datetime"])
	assert.Equal(t, "Thursday", got["day_of_week"])
	assert.Equal(t, float64(2024), got["current_year"])
}

func TestHTTPProvider_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Len(t, req.Tools, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"update","arguments":"{\"title\":\"t\"}"}}]}}],
			"usage":{"prompt_tokens":120,"completion_tokens":30,"prompt_tokens_details":{"cached_tokens":20}}}`)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", MaxRetries: 2, Backoff: time.Millisecond})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), Request{
		Model:    "gpt-test",
		System:   "be brief",
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolSpec{{Name: "update"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "update", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"title":"t"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, domain.TokenUsage{InputTokens: 100, OutputTokens: 30, CacheReadTokens: 20}, resp.Usage)
}

func TestHTTPProvider_ClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request"}}`)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, MaxRetries: 3, Backoff: time.Millisecond})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")

	_, err = NewHTTPProvider(HTTPConfig{})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestHTTPProvider_ContextOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"too long","code":"context_length_exceeded"}}`)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, domain.ErrContextOverflow)
}
