// Package approval models the set of actions a workflow is waiting on a human
// to decide, and the opaque payload that carries them to the caller and back.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Decision is the human verdict on one action.
type Decision string

const (
	Pending  Decision = "pending"
	Approved Decision = "approved"
	Edited   Decision = "edited"
	Rejected Decision = "rejected"
)

func (d Decision) valid() bool {
	switch d {
	case Pending, Approved, Edited, Rejected:
		return true
	}
	return false
}

// Action is one operation awaiting a decision.
type Action struct {
	Name     string
	Label    string
	Payload  string
	Decision Decision
	// Feedback is replacement content, set only when Decision is Edited.
	Feedback *string
}

// FeedbackText returns the feedback or the empty string.
func (a Action) FeedbackText() string {
	if a.Feedback == nil {
		return ""
	}
	return *a.Feedback
}

// NewAction creates a pending action.
func NewAction(name, label, payload string) Action {
	return Action{Name: name, Label: label, Payload: payload, Decision: Pending}
}

// Request bundles one or more actions behind a single summary message.
type Request struct {
	Message string
	Actions []Action
}

// NewRequest creates a request over the given actions.
func NewRequest(message string, actions ...Action) *Request {
	return &Request{Message: message, Actions: actions}
}

// GetAction returns the action with the given name.
func (r *Request) GetAction(name string) (Action, bool) {
	for _, a := range r.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// Rejected reports whether any action was rejected.
func (r *Request) Rejected() bool {
	for _, a := range r.Actions {
		if a.Decision == Rejected {
			return true
		}
	}
	return false
}

// Proceeding returns the approved and edited actions, in order.
func (r *Request) Proceeding() []Action {
	var out []Action
	for _, a := range r.Actions {
		if a.Decision == Approved || a.Decision == Edited {
			out = append(out, a)
		}
	}
	return out
}

// Names returns the action names, in order.
func (r *Request) Names() []string {
	names := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		names[i] = a.Name
	}
	return names
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	out := &Request{Message: r.Message, Actions: make([]Action, len(r.Actions))}
	for i, a := range r.Actions {
		if a.Feedback != nil {
			fb := *a.Feedback
			a.Feedback = &fb
		}
		out.Actions[i] = a
	}
	return out
}

// Verdict is a caller-supplied decision for one action.
type Verdict struct {
	Decision Decision
	// Feedback is nil when the caller sent none. An empty string is a
	// present value and replaces the draft.
	Feedback *string
}

// Text returns a pointer to a copy of s for use as verdict feedback.
func Text(s string) *string { return &s }

// Decisions maps action names to verdicts.
type Decisions map[string]Verdict

// DecideAll returns decisions giving every named action the same verdict.
// An empty feedback is sent as none.
func DecideAll(names []string, d Decision, feedback string) Decisions {
	out := make(Decisions, len(names))
	for _, n := range names {
		v := Verdict{Decision: d}
		if feedback != "" {
			v.Feedback = Text(feedback)
		}
		out[n] = v
	}
	return out
}

// Apply returns a decided copy of req. Every action must be decided exactly
// once and every verdict must name a known action.
func Apply(req *Request, decisions Decisions) (*Request, error) {
	out := req.Clone()
	seen := make(map[string]bool, len(decisions))

	for i := range out.Actions {
		a := &out.Actions[i]
		v, ok := decisions[a.Name]
		if !ok || v.Decision == Pending || v.Decision == "" {
			return nil, domain.ErrActionPending.WithMessage(fmt.Sprintf("action %q left pending", a.Name))
		}
		if !v.Decision.valid() {
			return nil, domain.ErrValidation.WithMessage(fmt.Sprintf("unknown decision %q", v.Decision))
		}
		a.Decision = v.Decision
		a.Feedback = nil
		if v.Decision == Edited && v.Feedback != nil {
			a.Feedback = Text(*v.Feedback)
		}
		seen[a.Name] = true
	}

	for name := range decisions {
		if !seen[name] {
			return nil, domain.ErrUnknownAction.WithMessage(fmt.Sprintf("unknown action %q", name))
		}
	}
	return out, nil
}

type wireAction struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Payload  string   `json:"payload"`
	Decision Decision `json:"decision"`
	Feedback *string  `json:"feedback,omitempty"`
}

type wireRequest struct {
	Message string       `json:"message"`
	Actions []wireAction `json:"actions"`
}

// MarshalJSON implements json.Marshaler.
func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{Message: r.Message, Actions: make([]wireAction, len(r.Actions))}
	for i, a := range r.Actions {
		w.Actions[i] = wireAction(a)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Only structure is validated.
func (r *Request) UnmarshalJSON(b []byte) error {
	var w wireRequest
	if err := json.Unmarshal(b, &w); err != nil {
		return domain.ErrInvalidPayload.Wrap(err)
	}
	if len(w.Actions) == 0 {
		return domain.ErrInvalidPayload.WithMessage("approval request has no actions")
	}
	actions := make([]Action, len(w.Actions))
	for i, a := range w.Actions {
		if a.Name == "" {
			return domain.ErrInvalidPayload.WithMessage("approval action has no name")
		}
		if a.Decision == "" {
			a.Decision = Pending
		}
		if !a.Decision.valid() {
			return domain.ErrInvalidPayload.WithMessage(fmt.Sprintf("unknown decision %q", a.Decision))
		}
		actions[i] = Action(a)
	}
	r.Message = w.Message
	r.Actions = actions
	return nil
}

// Encode serializes the request into the opaque payload handed to callers.
func (r *Request) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode approval request: %w", err)
	}
	return string(b), nil
}

// Decode parses a payload produced by Encode.
func Decode(payload string) (*Request, error) {
	if payload == "" {
		return nil, domain.ErrInvalidPayload.WithMessage("empty approval request payload")
	}
	var r Request
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			return nil, err
		}
		return nil, domain.ErrInvalidPayload.Wrap(err)
	}
	return &r, nil
}
