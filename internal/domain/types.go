// Package domain defines the shared types and errors of hitlflow.
package domain

// RequestType classifies a billable call in the usage ledger.
type RequestType string

const (
	RequestAgent   RequestType = "agent"
	RequestContent RequestType = "content"
	RequestSearch  RequestType = "search"
)

// ErrorType is the error class recorded on a failed usage entry.
type ErrorType string

const (
	ErrorTypeCreditLimit     ErrorType = "credit_limit"
	ErrorTypeAPI             ErrorType = "api_error"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeInterrupt       ErrorType = "interrupt"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// InterruptMarker is the error message recorded for a call that paused for approval.
const InterruptMarker = "WorkflowInterrupt"

// Member is an acting user with its two credit pools.
type Member struct {
	ID               int64
	Email            string
	APIToken         string
	IsAdmin          bool
	FreeCredits      float64
	PurchasedCredits float64
	// ModelID overrides the site default paid model when non-zero.
	ModelID          int64
	FreeRefilledAt   int64
	CreatedAtUnix    int64
}

// TotalCredits returns the sum of both pools.
func (m Member) TotalCredits() float64 {
	return m.FreeCredits + m.PurchasedCredits
}

// AIModel is a priced model the assistant may run against.
type AIModel struct {
	ID                    int64
	Name                  string
	DisplayName           string
	Provider              string
	InputCostPer1M        float64
	OutputCostPer1M       float64
	CacheWriteCostPer1M   float64
	CacheReadCostPer1M    float64
	Active                bool
	AllowedForFreeCredits bool
	ContextWindow         int64
}

// TokenUsage is the token accounting reported by the provider for one call.
type TokenUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// CreditSplit is how a charge divides across the two pools.
type CreditSplit struct {
	Free float64
	Paid float64
}

// Total returns the full charge.
func (s CreditSplit) Total() float64 { return s.Free + s.Paid }

// EntityRef identifies a subject entity by type tag and numeric key.
type EntityRef struct {
	Class string
	ID    int64
}

// UsageEntry is one immutable row of the usage ledger.
type UsageEntry struct {
	ID                  int64
	IdempotencyKey      string
	MemberID            int64
	ModelID             int64
	Model               string
	RequestType         RequestType
	EntityClass         string
	EntityID            int64
	Usage               TokenUsage
	Cost                float64
	UsedFreeCredits     float64
	UsedPaidCredits     float64
	InputCostPer1M      float64
	OutputCostPer1M     float64
	CacheWriteCostPer1M float64
	CacheReadCostPer1M  float64
	Success             bool
	ErrorMessage        string
	ErrorType           ErrorType
	RequestTimeUnix     int64
	ResponseTimeUnix    int64
}

// Entity is a content subject stored by the reference entity backend.
type Entity struct {
	ID            int64
	Class         string
	Title         string
	OwnerID       int64
	Instructions  string
	Context       string
	Content       string
	UpdatedAtUnix int64
}

// AuditRecord captures a human decision on a pending approval.
type AuditRecord struct {
	ID           string
	Token        string
	MemberID     int64
	Category     string
	Action       string
	DecisionJSON string
	CreatedAt    int64
}
