package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/llm"
)

type memberKey struct{}

// WithMember attaches the acting member to ctx for tools that write on
// their behalf.
func WithMember(ctx context.Context, m *domain.Member) context.Context {
	return context.WithValue(ctx, memberKey{}, m)
}

// MemberFromContext returns the member set by WithMember.
func MemberFromContext(ctx context.Context) (*domain.Member, bool) {
	m, ok := ctx.Value(memberKey{}).(*domain.Member)
	return m, ok && m != nil
}

type entityArgs struct {
	EntityClass string `json:"entity_class"`
	EntityID    int64  `json:"entity_id"`
	Content     string `json:"content,omitempty"`
}

func (a entityArgs) ref() domain.EntityRef {
	return domain.EntityRef{Class: a.EntityClass, ID: a.EntityID}
}

var entityParams = map[string]any{
	"entity_class": map[string]any{"type": "string", "description": "Entity class name."},
	"entity_id":    map[string]any{"type": "integer", "description": "Entity id."},
}

// GetEntityTool lets the assistant read an entity's current content.
type GetEntityTool struct {
	Resolver Resolver
}

// Spec implements llm.Tool.
func (t *GetEntityTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "GetEntity",
		Description: "Read the title, context and current content of an entity.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": entityParams,
			"required":   []string{"entity_class", "entity_id"},
		},
	}
}

// ReadOnly implements llm.Tool.
func (t *GetEntityTool) ReadOnly() bool { return true }

// Execute implements llm.Tool.
func (t *GetEntityTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args entityArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", domain.ErrValidation.WithMessage("invalid GetEntity arguments")
	}
	s, err := t.Resolver.Resolve(ctx, args.ref())
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]any{
		"entity_class": s.Ref().Class,
		"entity_id":    s.Ref().ID,
		"context":      s.DynamicContext(),
		s.ContentField(): s.Content(),
	})
	if err != nil {
		return "", fmt.Errorf("encode entity: %w", err)
	}
	return string(b), nil
}

// UpdateContentTool replaces an entity's content. It is a write tool, so
// every call waits for approval.
type UpdateContentTool struct {
	Resolver Resolver
}

// Spec implements llm.Tool.
func (t *UpdateContentTool) Spec() llm.ToolSpec {
	props := map[string]any{
		"content": map[string]any{"type": "string", "description": "The new content."},
	}
	for k, v := range entityParams {
		props[k] = v
	}
	return llm.ToolSpec{
		Name:        "UpdateEntityContent",
		Description: "Replace the content of an entity.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   []string{"entity_class", "entity_id", "content"},
		},
	}
}

// ReadOnly implements llm.Tool.
func (t *UpdateContentTool) ReadOnly() bool { return false }

// Summarise implements llm.Summariser.
func (t *UpdateContentTool) Summarise(args map[string]any) string {
	return fmt.Sprintf("Update content of %v #%v", args["entity_class"], args["entity_id"])
}

// Execute implements llm.Tool. The acting member must be able to edit the
// entity.
func (t *UpdateContentTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args entityArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", domain.ErrValidation.WithMessage("invalid UpdateEntityContent arguments")
	}
	s, err := t.Resolver.Resolve(ctx, args.ref())
	if err != nil {
		return "", err
	}
	m, ok := MemberFromContext(ctx)
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	if !s.CanEdit(m) {
		return "", domain.ErrPermissionDenied
	}
	if err := s.SaveContent(ctx, Sanitize(args.Content)); err != nil {
		return "", err
	}
	return `{"success":true}`, nil
}
