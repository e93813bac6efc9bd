package workflow

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Status is the lifecycle position of one engine call.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusSuspended   Status = "suspended"
	StatusCompleted   Status = "completed"
	StatusRejected    Status = "rejected"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

type trigger string

const (
	triggerStart    trigger = "start"
	triggerResume   trigger = "resume"
	triggerSuspend  trigger = "suspend"
	triggerComplete trigger = "complete"
	triggerReject   trigger = "reject"
	triggerFail     trigger = "fail"
)

// lifecycle guards the order of transitions within a single Run or Resume.
// Terminal states permit nothing, so a double completion is caught.
type lifecycle struct {
	sm *stateless.StateMachine
}

func newLifecycle(initial Status) *lifecycle {
	sm := stateless.NewStateMachine(initial)

	sm.Configure(StatusIdle).
		Permit(triggerStart, StatusRunning)

	sm.Configure(StatusSuspended).
		Permit(triggerResume, StatusRunning)

	sm.Configure(StatusRunning).
		Permit(triggerSuspend, StatusInterrupted).
		Permit(triggerComplete, StatusCompleted).
		Permit(triggerReject, StatusRejected).
		Permit(triggerFail, StatusFailed)

	sm.Configure(StatusInterrupted)
	sm.Configure(StatusCompleted)
	sm.Configure(StatusRejected)
	sm.Configure(StatusFailed)

	return &lifecycle{sm: sm}
}

func (l *lifecycle) fire(ctx context.Context, t trigger) error {
	if err := l.sm.FireCtx(ctx, t); err != nil {
		return domain.ErrIllegalLifecycle.Wrap(fmt.Errorf("%s from %v: %w", t, l.sm.MustState(), err))
	}
	return nil
}

func (l *lifecycle) status() Status {
	return l.sm.MustState().(Status)
}
