package service

import (
	"errors"
	"net/http"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Client-facing messages for failures whose details stay in the logs.
const (
	MsgUnexpected  = "An unexpected error occurred. Please try again."
	MsgUnavailable = "The assistant is temporarily unavailable. Please try again."
	MsgExpired     = "This request has expired. Please start again."
)

// Content endpoint error codes.
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodeServiceUnavailable  = "service_unavailable"
)

// ChatError maps a chat failure to an HTTP status and a message safe to show.
func ChatError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInterruptNotFound):
		return http.StatusNotFound, MsgExpired
	case errors.Is(err, domain.ErrEntityNotFound), errors.Is(err, domain.ErrMemberNotFound):
		return http.StatusNotFound, engineMessage(err)
	case errors.Is(err, domain.ErrCreditLimit):
		return http.StatusPaymentRequired, engineMessage(err)
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrModelNotConfigured):
		return http.StatusServiceUnavailable, MsgUnavailable
	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrProviderMaxRounds), errors.Is(err, domain.ErrContextOverflow):
		return http.StatusInternalServerError, MsgUnavailable
	}
	if status, ok := requestStatus(err); ok {
		return status, engineMessage(err)
	}
	return http.StatusInternalServerError, MsgUnexpected
}

// ContentError maps a content failure to an HTTP status and the value of the
// response's error field.
func ContentError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInterruptNotFound):
		return http.StatusNotFound, MsgExpired
	case errors.Is(err, domain.ErrEntityNotFound), errors.Is(err, domain.ErrMemberNotFound):
		return http.StatusNotFound, engineMessage(err)
	case errors.Is(err, domain.ErrCreditLimit):
		return http.StatusPaymentRequired, CodeInsufficientCredits
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrModelNotConfigured):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrProviderMaxRounds), errors.Is(err, domain.ErrContextOverflow):
		return http.StatusBadGateway, MsgUnavailable
	}
	if status, ok := requestStatus(err); ok {
		return status, engineMessage(err)
	}
	return http.StatusInternalServerError, MsgUnexpected
}

// requestStatus covers the caller errors both flows report the same way.
func requestStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrActionPending), errors.Is(err, domain.ErrUnknownAction):
		return http.StatusBadRequest, true
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, true
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, true
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, true
	}
	return 0, false
}

// Unexpected reports whether err falls outside the known taxonomy.
func Unexpected(err error) bool {
	_, msg := ChatError(err)
	return msg == MsgUnexpected
}

// engineMessage returns the message of the outermost EngineError. Causes are
// never included.
func engineMessage(err error) string {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return MsgUnexpected
}
