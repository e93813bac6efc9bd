// Package ipc provides the HTTP API: the chat assistant, content generation
// and the member's credit and usage views.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/chat"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/service"
)

// Usage listing bounds.
const (
	DefaultUsageLimit = 20
	MaxUsageLimit     = 100
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Agents  *service.AgentService
	Content *service.ContentService
	Ledger  *billing.Ledger
	Logger  *slog.Logger
}

// EntityContext names the entity a chat is about.
type EntityContext struct {
	EntityClass string `json:"entity_class"`
	EntityID    int64  `json:"entity_id"`
}

func (c EntityContext) ref() domain.EntityRef {
	return domain.EntityRef{Class: c.EntityClass, ID: c.EntityID}
}

// ChatRequest is the body for POST /api/v1/chat.
type ChatRequest struct {
	Message  string        `json:"message"`
	ThreadID string        `json:"thread_id"`
	Context  EntityContext `json:"context"`
}

// ChatResumeRequest is the body for POST /api/v1/chat/resume.
type ChatResumeRequest struct {
	ResumeToken    string        `json:"resume_token"`
	RequestPayload string        `json:"request_payload"`
	Approved       bool          `json:"approved"`
	ThreadID       string        `json:"thread_id"`
	Context        EntityContext `json:"context"`
}

// GenerateRequest is the body for POST /api/v1/content/generate.
type GenerateRequest struct {
	EntityClass string `json:"entity_class"`
	EntityID    int64  `json:"entity_id"`
}

// ContentResumeRequest is the body for POST /api/v1/content/resume.
type ContentResumeRequest struct {
	ResumeToken string `json:"resumeToken"`
	Decision    string `json:"decision"`
	// Content is nil when the field is absent or null.
	Content *string `json:"content"`
}

// SaveRequest is the body for POST /api/v1/content/save.
type SaveRequest struct {
	EntityClass string `json:"entity_class"`
	EntityID    int64  `json:"entity_id"`
	Content     string `json:"content"`
}

// CreditsResponse is the response for GET /api/v1/credits.
type CreditsResponse struct {
	FreeCredits      float64 `json:"free_credits"`
	PurchasedCredits float64 `json:"purchased_credits"`
	Total            float64 `json:"total"`
	IsAdmin          bool    `json:"is_admin"`
}

// UsageRow is one entry of GET /api/v1/usage.
type UsageRow struct {
	ID              int64   `json:"id"`
	RequestType     string  `json:"request_type"`
	Model           string  `json:"model"`
	EntityClass     string  `json:"entity_class,omitempty"`
	EntityID        int64   `json:"entity_id,omitempty"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	Cost            float64 `json:"cost"`
	UsedFreeCredits float64 `json:"used_free_credits"`
	UsedPaidCredits float64 `json:"used_paid_credits"`
	Success         bool    `json:"success"`
	ErrorType       string  `json:"error_type,omitempty"`
	RequestTime     int64   `json:"request_time"`
}

// ChatFailure is the error body of the chat endpoints.
type ChatFailure struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Blocks  []chat.Block `json:"blocks"`
}

// ContentFailure is the error body of every other endpoint.
type ContentFailure struct {
	Error string `json:"error"`
}

// Chat handles POST /api/v1/chat.
func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(req.Message) == "":
		return domain.ErrValidation.WithMessage("message is required")
	case strings.TrimSpace(req.ThreadID) == "":
		return domain.ErrValidation.WithMessage("thread_id is required")
	case strings.TrimSpace(req.Context.EntityClass) == "":
		return domain.ErrValidation.WithMessage("context.entity_class is required")
	case req.Context.EntityID < 0:
		return domain.ErrValidation.WithMessage("context.entity_id must not be negative")
	}

	resp, err := h.Agents.Chat(c.Request().Context(), service.ChatInput{
		Member:   member(c),
		ThreadID: req.ThreadID,
		Message:  req.Message,
		Entity:   req.Context.ref(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ChatResume handles POST /api/v1/chat/resume.
func (h *Handler) ChatResume(c echo.Context) error {
	var req ChatResumeRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(req.ResumeToken) == "":
		return domain.ErrValidation.WithMessage("resume_token is required")
	case strings.TrimSpace(req.RequestPayload) == "":
		return domain.ErrValidation.WithMessage("request_payload is required")
	case strings.TrimSpace(req.Context.EntityClass) == "":
		return domain.ErrValidation.WithMessage("context.entity_class is required")
	case req.Context.EntityID < 0:
		return domain.ErrValidation.WithMessage("context.entity_id must not be negative")
	}

	resp, err := h.Agents.Resume(c.Request().Context(), service.ResumeInput{
		Member:         member(c),
		ThreadID:       req.ThreadID,
		Token:          req.ResumeToken,
		RequestPayload: req.RequestPayload,
		Approved:       req.Approved,
		Entity:         req.Context.ref(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Generate handles POST /api/v1/content/generate. The HTTP surface always
// asks for a review.
func (h *Handler) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	ref := domain.EntityRef{Class: req.EntityClass, ID: req.EntityID}
	res, err := h.Content.Generate(c.Request().Context(), member(c), ref, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ContentResume handles POST /api/v1/content/resume.
func (h *Handler) ContentResume(c echo.Context) error {
	var req ContentResumeRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ResumeToken) == "" {
		return domain.ErrValidation.WithMessage("resumeToken is required")
	}
	res, err := h.Content.Resume(c.Request().Context(), member(c), req.ResumeToken, req.Decision, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Save handles POST /api/v1/content/save.
func (h *Handler) Save(c echo.Context) error {
	var req SaveRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	ref := domain.EntityRef{Class: req.EntityClass, ID: req.EntityID}
	if err := h.Content.Save(c.Request().Context(), member(c), ref, req.Content); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, service.ContentResult{Done: true})
}

// Credits handles GET /api/v1/credits.
func (h *Handler) Credits(c echo.Context) error {
	m, err := h.Ledger.Balance(c.Request().Context(), member(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CreditsResponse{
		FreeCredits:      m.FreeCredits,
		PurchasedCredits: m.PurchasedCredits,
		Total:            m.TotalCredits(),
		IsAdmin:          m.IsAdmin,
	})
}

// Usage handles GET /api/v1/usage?limit=N.
func (h *Handler) Usage(c echo.Context) error {
	limit := DefaultUsageLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return domain.ErrValidation.WithMessage("limit must be a positive integer")
		}
		limit = min(n, MaxUsageLimit)
	}
	entries, err := h.Ledger.ListUsage(c.Request().Context(), member(c).ID, limit)
	if err != nil {
		return err
	}
	rows := make([]UsageRow, len(entries))
	for i, e := range entries {
		rows[i] = UsageRow{
			ID:              e.ID,
			RequestType:     string(e.RequestType),
			Model:           e.Model,
			EntityClass:     e.EntityClass,
			EntityID:        e.EntityID,
			InputTokens:     e.Usage.InputTokens,
			OutputTokens:    e.Usage.OutputTokens,
			Cost:            e.Cost,
			UsedFreeCredits: e.UsedFreeCredits,
			UsedPaidCredits: e.UsedPaidCredits,
			Success:         e.Success,
			ErrorType:       string(e.ErrorType),
			RequestTime:     e.RequestTimeUnix,
		}
	}
	return c.JSON(http.StatusOK, rows)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleError renders err in the shape of the endpoint that failed. Chat
// endpoints answer {success:false, message, blocks:[]}; the rest answer
// {error}.
func (h *Handler) HandleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	isChat := strings.HasPrefix(c.Request().URL.Path, "/api/v1/chat")

	var status int
	var msg string
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status, msg = he.Code, fmt.Sprint(he.Message)
	case isChat:
		status, msg = service.ChatError(err)
	default:
		status, msg = service.ContentError(err)
	}
	if service.Unexpected(err) && he == nil {
		h.Logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("path", c.Request().URL.Path), slog.Any("error", err))
	}

	if isChat {
		err = c.JSON(status, ChatFailure{Success: false, Message: msg, Blocks: []chat.Block{}})
	} else {
		err = c.JSON(status, ContentFailure{Error: msg})
	}
	if err != nil {
		h.Logger.WarnContext(c.Request().Context(), "write error response", slog.Any("error", err))
	}
}

// decodeJSON reads a non-empty JSON body into v.
func decodeJSON(c echo.Context, v any) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(strings.ToLower(ct), echo.MIMEApplicationJSON) {
		return domain.ErrValidation.WithMessage("content type must be application/json")
	}
	if c.Request().ContentLength == 0 {
		return domain.ErrValidation.WithMessage("request body is empty")
	}
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		switch {
		case errors.Is(err, io.EOF):
			return domain.ErrValidation.WithMessage("request body is empty")
		case errors.As(err, &he) && he.Code != http.StatusBadRequest:
			return he
		}
		return domain.ErrValidation.WithMessage("request body is not valid JSON")
	}
	return nil
}
