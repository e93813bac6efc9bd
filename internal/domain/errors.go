package domain

import (
	"errors"
	"fmt"
)

// EngineError is the unified error type for the workflow engine and the
// services built on it. Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *EngineError) Unwrap() error { return e.Cause }

// Is matches any EngineError carrying the same code, so sentinels can be
// compared with errors.Is after being wrapped or re-messaged.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: msg, Cause: cause}
}

// WithMessage returns a copy of a sentinel carrying a caller-facing message.
func (e *EngineError) WithMessage(msg string) *EngineError {
	return &EngineError{Code: e.Code, Message: msg}
}

// Wrap returns a copy of a sentinel carrying a cause.
func (e *EngineError) Wrap(cause error) *EngineError {
	return &EngineError{Code: e.Code, Message: e.Message, Cause: cause}
}

// ---- Engine / interrupt errors (-32010 to -32039) ----

var (
	ErrNoStepForSignal    = &EngineError{Code: -32010, Message: "no step registered for signal"}
	ErrDuplicateStep      = &EngineError{Code: -32011, Message: "a step is already registered for signal"}
	ErrInterruptNotFound  = &EngineError{Code: -32012, Message: "this request has expired, please start again"}
	ErrSuspendContract    = &EngineError{Code: -32013, Message: "step suspended without a pending approval request"}
	ErrTooManyTransitions = &EngineError{Code: -32014, Message: "workflow exceeded maximum transitions"}
	ErrInvalidState       = &EngineError{Code: -32015, Message: "workflow state value is not a primitive"}
	ErrImmutableKey       = &EngineError{Code: -32016, Message: "workflow state key is immutable"}
	ErrIllegalLifecycle   = &EngineError{Code: -32017, Message: "illegal workflow lifecycle transition"}
	ErrStepMismatch       = &EngineError{Code: -32018, Message: "persisted step is not registered"}
)

// ---- Validation / approval errors (-32040 to -32069) ----

var (
	ErrValidation     = &EngineError{Code: -32040, Message: "invalid request"}
	ErrInvalidPayload = &EngineError{Code: -32041, Message: "invalid approval request payload"}
	ErrActionPending  = &EngineError{Code: -32042, Message: "action left pending after resume"}
	ErrUnknownAction  = &EngineError{Code: -32043, Message: "decision references an unknown action"}
	ErrEntityNotFound = &EngineError{Code: -32044, Message: "entity not found"}
	ErrMemberNotFound = &EngineError{Code: -32045, Message: "member not found"}
)

// ---- Provider errors (-32070 to -32099) ----

var (
	ErrProvider            = &EngineError{Code: -32070, Message: "LLM provider call failed"}
	ErrServiceUnavailable  = &EngineError{Code: -32071, Message: "AI service is not configured"}
	ErrModelNotConfigured  = &EngineError{Code: -32072, Message: "no usable AI model is configured"}
	ErrContextOverflow     = &EngineError{Code: -32073, Message: "conversation exceeds the model context window"}
	ErrToolNotRegistered   = &EngineError{Code: -32074, Message: "tool is not registered"}
	ErrProviderMaxRounds   = &EngineError{Code: -32075, Message: "agent exceeded maximum tool rounds"}
)

// ---- Auth / credit errors (-32100 to -32129) ----

var (
	ErrPermissionDenied = &EngineError{Code: -32100, Message: "permission denied"}
	ErrCreditLimit      = &EngineError{Code: -32101, Message: "insufficient credits"}
	ErrUnauthenticated  = &EngineError{Code: -32102, Message: "authentication required"}
	ErrRateLimited      = &EngineError{Code: -32103, Message: "rate limit exceeded"}
	ErrDuplicateCharge  = &EngineError{Code: -32104, Message: "charge already applied for idempotency key"}
	ErrInvalidAmount    = &EngineError{Code: -32105, Message: "amount must be positive"}
)

// ---- Store / config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
)

// Classify maps an error to the usage-log error type.
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCreditLimit):
		return ErrorTypeCreditLimit
	case errors.Is(err, ErrContextOverflow):
		return ErrorTypeContextOverflow
	case errors.Is(err, ErrProvider), errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrModelNotConfigured):
		return ErrorTypeAPI
	case errors.Is(err, ErrInterruptNotFound), errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrMemberNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrActionPending),
		errors.Is(err, ErrUnknownAction), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnauthenticated):
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}
