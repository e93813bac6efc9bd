package workflow

import (
	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/domain"
)

// RunContext is the per-call scratch space a step uses to talk to the engine.
// Nothing in it is persisted.
type RunContext struct {
	current    string
	resumeStep string
	resumed    *approval.Request
	pending    *approval.Request
	token      string
	usage      domain.TokenUsage
}

// Await asks for a human decision on req.
//
// When the engine is resuming into the calling step, Await returns the decided
// request and true. Otherwise it records req and returns false, and the step
// must return Suspend().
func (rc *RunContext) Await(req *approval.Request) (*approval.Request, bool) {
	if rc.resumed != nil && rc.current == rc.resumeStep {
		decided := rc.resumed
		rc.resumed = nil
		return decided, true
	}
	if req != nil && len(req.Actions) > 0 {
		rc.pending = req.Clone()
	}
	return nil, false
}

// Resuming reports whether a decided request is waiting for the current step.
func (rc *RunContext) Resuming() bool {
	return rc.resumed != nil && rc.current == rc.resumeStep
}

// ResumeToken returns the token being resumed, or "" on a fresh run.
func (rc *RunContext) ResumeToken() string { return rc.token }

// AddUsage accumulates provider usage reported during this call.
func (rc *RunContext) AddUsage(u domain.TokenUsage) {
	rc.usage = rc.usage.Add(u)
}

// Usage returns the usage accumulated so far.
func (rc *RunContext) Usage() domain.TokenUsage { return rc.usage }
