package workflow

import (
	"context"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Step is one unit of a workflow. It accepts exactly one signal kind and
// returns the signal that drives the next step.
type Step interface {
	Name() string
	Accepts() SignalKind
	Run(ctx context.Context, rc *RunContext, in Signal, st *State) (Signal, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Kind     SignalKind
	Fn       func(ctx context.Context, rc *RunContext, in Signal, st *State) (Signal, error)
}

// Name returns the step name.
func (f StepFunc) Name() string { return f.StepName }

// Accepts returns the signal kind the step handles.
func (f StepFunc) Accepts() SignalKind { return f.Kind }

// Run calls the wrapped function.
func (f StepFunc) Run(ctx context.Context, rc *RunContext, in Signal, st *State) (Signal, error) {
	return f.Fn(ctx, rc, in, st)
}

// Registry maps each accepted signal kind to its step.
type Registry struct {
	byKind map[SignalKind]Step
	byName map[string]Step
	order  []string
}

// NewRegistry registers the given steps in order.
func NewRegistry(steps ...Step) (*Registry, error) {
	r := &Registry{
		byKind: make(map[SignalKind]Step),
		byName: make(map[string]Step),
	}
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a step. Kinds and names must be unique, and no step may
// accept Stop or Suspend.
func (r *Registry) Register(s Step) error {
	kind := s.Accepts()
	if kind.IsReserved() || kind == "" {
		return domain.ErrValidation.WithMessage(fmt.Sprintf("step %q cannot accept %q", s.Name(), kind))
	}
	if prev, ok := r.byKind[kind]; ok {
		return domain.ErrDuplicateStep.WithMessage(fmt.Sprintf("signal %q already handled by step %q", kind, prev.Name()))
	}
	if _, ok := r.byName[s.Name()]; ok {
		return domain.ErrDuplicateStep.WithMessage(fmt.Sprintf("step name %q already registered", s.Name()))
	}
	r.byKind[kind] = s
	r.byName[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

// Get returns the step registered for a signal kind.
func (r *Registry) Get(kind SignalKind) (Step, error) {
	s, ok := r.byKind[kind]
	if !ok {
		return nil, domain.ErrNoStepForSignal.WithMessage(fmt.Sprintf("no step registered for signal %q", kind))
	}
	return s, nil
}

// ByName returns the step with the given name.
func (r *Registry) ByName(name string) (Step, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrStepMismatch.WithMessage(fmt.Sprintf("step %q is not registered", name))
	}
	return s, nil
}

// Names returns step names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
