package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Tool is a callable the model may request.
type Tool interface {
	Spec() ToolSpec
	// ReadOnly tools are executed by the agent without approval.
	ReadOnly() bool
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Summariser is implemented by tools that describe a pending call for the
// approval card.
type Summariser interface {
	Summarise(args map[string]any) string
}

// ToolRegistry holds the tools an agent may call, keyed by name.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry builds a registry. Duplicate names are rejected.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Spec().Name
		if name == "" {
			return nil, domain.ErrValidation.WithMessage("tool name is required")
		}
		if _, dup := r.tools[name]; dup {
			return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("tool %q registered twice", name))
		}
		r.tools[name] = t
	}
	return r, nil
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	if r != nil {
		if t, ok := r.tools[name]; ok {
			return t, nil
		}
	}
	return nil, domain.ErrToolNotRegistered.WithMessage(fmt.Sprintf("tool %q is not registered", name))
}

// Specs returns the specs of every tool, ordered by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ReadOnly reports whether name is a registered read-only tool.
func (r *ToolRegistry) ReadOnly(name string) bool {
	t, err := r.Get(name)
	return err == nil && t.ReadOnly()
}

// Summarise describes a pending call for a human. Tools without their own
// summary get "Execute: {name}".
func (r *ToolRegistry) Summarise(name string, args map[string]any) string {
	if t, err := r.Get(name); err == nil {
		if s, ok := t.(Summariser); ok {
			return s.Summarise(args)
		}
	}
	return "Execute: " + name
}

// Execute runs the call through its registered tool.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) (string, error) {
	t, err := r.Get(call.Name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, call.Arguments)
}
