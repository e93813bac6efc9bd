package llm

import (
	"context"
	"encoding/json"
	"time"
)

// DateTimeTool reports the current UTC date and time to the model.
type DateTimeTool struct {
	Now func() time.Time
}

// NewDateTimeTool creates the tool on the wall clock.
func NewDateTimeTool() *DateTimeTool { return &DateTimeTool{Now: time.Now} }

// Spec implements Tool.
func (t *DateTimeTool) Spec() ToolSpec {
	return ToolSpec{
		Name: "GetCurrentDateTime",
		Description: "Get the current date and time. Use this when you need to know today's date, " +
			`calculate ages, or understand relative dates like "3 days ago" or "last year".`,
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

// ReadOnly implements Tool.
func (t *DateTimeTool) ReadOnly() bool { return true }

// Execute implements Tool.
func (t *DateTimeTool) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	now := t.Now().UTC()
	b, err := json.Marshal(map[string]any{
		"success":          true,
		"current_date":     now.Format("2006-01-02"),
		"current_datetime": now.Format("2006-01-02 15:04:05"),
		"current_year":     now.Year(),
		"current_month":    int(now.Month()),
		"current_day":      now.Day(),
		"timestamp":        now.Unix(),
		"timezone":         "UTC",
		"day_of_week":      now.Weekday().String(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
