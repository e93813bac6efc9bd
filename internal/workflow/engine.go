package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/persistence"
	"github.com/hitlflow/hitlflow/internal/telemetry"
)

// DefaultKeyPrefix namespaces interrupt records in the persistence store.
const DefaultKeyPrefix = "agent_workflow_"

// DefaultMaxTransitions bounds the signals dispatched in one call.
const DefaultMaxTransitions = 64

// Config carries the engine's collaborators. Store is required.
type Config struct {
	Store          persistence.Store
	TTL            time.Duration
	KeyPrefix      string
	MaxTransitions int
	Logger         *slog.Logger
	// NewToken mints resume tokens. Defaults to random UUIDs.
	NewToken func() string
	// Now stamps interrupt records. Defaults to time.Now.
	Now func() time.Time
}

// Interrupt is the record parked in the store while a workflow waits for a decision.
type Interrupt struct {
	ResumeToken string            `json:"resume_token"`
	Request     *approval.Request `json:"request"`
	Step        string            `json:"step"`
	Signal      Signal            `json:"signal"`
	State       *State            `json:"state"`
	CreatedAt   int64             `json:"created_at"`
}

// Outcome is the result of a Run or Resume that did not fail.
type Outcome struct {
	Status    Status
	Result    string
	HasResult bool
	// Interrupt is set when Status is StatusInterrupted.
	Interrupt *Interrupt
	State     *State
	// Usage is the provider usage reported by steps during this call only.
	Usage domain.TokenUsage
}

// Engine dispatches signals to registered steps and parks the workflow in
// the persistence store whenever a step awaits a human decision.
type Engine struct {
	cfg     Config
	steps   *Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// NewEngine creates an engine over the given steps.
func NewEngine(cfg Config, steps ...Step) (*Engine, error) {
	if cfg.Store == nil {
		return nil, domain.ErrConfigInvalid.WithMessage("workflow engine requires a persistence store")
	}
	reg, err := NewRegistry(steps...)
	if err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		cfg.TTL = persistence.DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.MaxTransitions <= 0 {
		cfg.MaxTransitions = DefaultMaxTransitions
	}
	if cfg.NewToken == nil {
		cfg.NewToken = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		steps:   reg,
		logger:  logger,
		tracer:  telemetry.Tracer(),
		metrics: telemetry.Default(),
	}, nil
}

// Steps returns the registered step names in order.
func (e *Engine) Steps() []string { return e.steps.Names() }

// Run starts a fresh workflow over st and drives it until it stops or suspends.
func (e *Engine) Run(ctx context.Context, st *State) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run")
	defer span.End()

	if st == nil {
		st = NewState()
	}
	lc := newLifecycle(StatusIdle)
	if err := lc.fire(ctx, triggerStart); err != nil {
		return nil, err
	}

	rc := &RunContext{}
	first, err := e.steps.Get(KindStart)
	if err != nil {
		return nil, e.fail(ctx, span, lc, err)
	}
	return e.drive(ctx, span, lc, rc, first, Start(), st)
}

// ResumeOption customizes a Resume call.
type ResumeOption func(*resumeOptions)

type resumeOptions struct {
	guard  func(*State) error
	update func(*State) error
}

// WithGuard runs check against the restored state before the token is
// consumed. A guard error leaves the interrupt in place.
func WithGuard(check func(*State) error) ResumeOption {
	return func(o *resumeOptions) { o.guard = check }
}

// WithStateUpdate mutates the restored state before the step is re-entered,
// for per-call values such as the model chosen for this attempt. Locked keys
// stay immutable.
func WithStateUpdate(update func(*State) error) ResumeOption {
	return func(o *resumeOptions) { o.update = update }
}

// Peek loads a pending interrupt without consuming it.
func (e *Engine) Peek(ctx context.Context, token string) (*Interrupt, error) {
	return e.load(ctx, token)
}

// Resume applies decisions to the interrupt parked under token, consumes the
// token, and re-enters the step that raised it with the decided request.
func (e *Engine) Resume(ctx context.Context, token string, decisions approval.Decisions, opts ...ResumeOption) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.resume")
	defer span.End()

	var o resumeOptions
	for _, fn := range opts {
		fn(&o)
	}

	rec, err := e.load(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if o.guard != nil {
		if err := o.guard(rec.State); err != nil {
			return nil, err
		}
	}

	decided, err := approval.Apply(rec.Request, decisions)
	if err != nil {
		return nil, err
	}
	if o.update != nil {
		if err := o.update(rec.State); err != nil {
			return nil, err
		}
	}

	step, err := e.steps.ByName(rec.Step)
	if err != nil {
		return nil, err
	}

	// Consuming the token is what makes it single-use. A concurrent resume
	// that loses the delete sees NotFound here.
	if err := e.cfg.Store.Delete(ctx, e.key(token)); err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "resuming workflow",
		slog.String("token", token),
		slog.String("step", rec.Step),
		slog.Bool("rejected", decided.Rejected()),
	)

	lc := newLifecycle(StatusSuspended)
	if err := lc.fire(ctx, triggerResume); err != nil {
		return nil, err
	}
	rc := &RunContext{resumed: decided, resumeStep: rec.Step, token: token}
	return e.drive(ctx, span, lc, rc, step, rec.Signal, rec.State)
}

// drive runs step on in, then keeps dispatching until Stop or Suspend.
func (e *Engine) drive(ctx context.Context, span trace.Span, lc *lifecycle, rc *RunContext, step Step, in Signal, st *State) (*Outcome, error) {
	for i := 0; ; i++ {
		if i >= e.cfg.MaxTransitions {
			return nil, e.fail(ctx, span, lc, domain.ErrTooManyTransitions)
		}

		rc.current = step.Name()
		out, err := step.Run(ctx, rc, in, st)
		if err != nil {
			return nil, e.fail(ctx, span, lc, fmt.Errorf("step %s: %w", step.Name(), err))
		}

		switch {
		case out.Kind == KindSuspend:
			if rc.pending == nil {
				return nil, e.fail(ctx, span, lc, domain.ErrSuspendContract.WithMessage(
					fmt.Sprintf("step %q suspended without awaiting a decision", step.Name())))
			}
			return e.suspend(ctx, span, lc, rc, step.Name(), in, st)
		case rc.pending != nil:
			return nil, e.fail(ctx, span, lc, domain.ErrSuspendContract.WithMessage(
				fmt.Sprintf("step %q awaited a decision but returned %s", step.Name(), out)))
		case out.Kind == KindStop:
			return e.finish(ctx, span, lc, rc, out, st)
		}

		next, err := e.steps.Get(out.Kind)
		if err != nil {
			return nil, e.fail(ctx, span, lc, err)
		}
		step, in = next, out
	}
}

func (e *Engine) finish(ctx context.Context, span trace.Span, lc *lifecycle, rc *RunContext, out Signal, st *State) (*Outcome, error) {
	t, status := triggerComplete, StatusCompleted
	if !out.HasResult {
		t, status = triggerReject, StatusRejected
	}
	if err := lc.fire(ctx, t); err != nil {
		return nil, err
	}
	e.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	span.SetAttributes(attribute.String("workflow.status", string(status)))
	return &Outcome{
		Status:    status,
		Result:    out.Result,
		HasResult: out.HasResult,
		State:     st,
		Usage:     rc.usage,
	}, nil
}

func (e *Engine) suspend(ctx context.Context, span trace.Span, lc *lifecycle, rc *RunContext, stepName string, in Signal, st *State) (*Outcome, error) {
	rec := &Interrupt{
		ResumeToken: e.cfg.NewToken(),
		Request:     rc.pending,
		Step:        stepName,
		Signal:      in,
		State:       st,
		CreatedAt:   e.cfg.Now().Unix(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, e.fail(ctx, span, lc, fmt.Errorf("encode interrupt: %w", err))
	}
	if err := e.cfg.Store.Save(ctx, e.key(rec.ResumeToken), b, e.cfg.TTL); err != nil {
		return nil, e.fail(ctx, span, lc, fmt.Errorf("persist interrupt: %w", err))
	}
	if err := lc.fire(ctx, triggerSuspend); err != nil {
		return nil, err
	}

	e.metrics.Interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("step", stepName)))
	e.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusInterrupted))))
	span.SetAttributes(attribute.String("workflow.status", string(StatusInterrupted)))
	e.logger.InfoContext(ctx, "workflow interrupted",
		slog.String("token", rec.ResumeToken),
		slog.String("step", stepName),
		slog.Int("actions", len(rec.Request.Actions)),
	)

	return &Outcome{
		Status:    StatusInterrupted,
		Interrupt: rec,
		State:     st,
		Usage:     rc.usage,
	}, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, lc *lifecycle, err error) error {
	if ferr := lc.fire(ctx, triggerFail); ferr != nil {
		e.logger.ErrorContext(ctx, "lifecycle transition failed", slog.Any("error", ferr))
	}
	e.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusFailed))))
	span.RecordError(err)
	span.SetStatus(codes.Error, "workflow failed")
	return err
}

func (e *Engine) load(ctx context.Context, token string) (*Interrupt, error) {
	if token == "" {
		return nil, domain.ErrValidation.WithMessage("resume token is required")
	}
	raw, err := e.cfg.Store.Load(ctx, e.key(token))
	if err != nil {
		return nil, err
	}
	var rec Interrupt
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, domain.ErrStoreQuery.Wrap(fmt.Errorf("decode interrupt: %w", err))
	}
	if rec.Request == nil || rec.State == nil {
		return nil, domain.ErrStoreQuery.WithMessage("interrupt record is incomplete")
	}
	return &rec, nil
}

func (e *Engine) key(token string) string {
	return e.cfg.KeyPrefix + token
}

// IsNotFound reports whether err means the resume token is unknown or expired.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrInterruptNotFound)
}
