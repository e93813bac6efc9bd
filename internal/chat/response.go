package chat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hitlflow/hitlflow/internal/approval"
	"github.com/hitlflow/hitlflow/internal/domain"
)

// Block types.
const (
	BlockText            = "text"
	BlockEntityReference = "entity_reference"
)

var entityRef = regexp.MustCompile(`\[([^\]]+)\]\(([A-Za-z][A-Za-z0-9_]*):(\d+)\)`)

// Block is one renderable piece of an assistant message.
type Block struct {
	Type        string  `json:"type"`
	Content     string  `json:"content,omitempty"`
	EntityClass string  `json:"entity_class,omitempty"`
	EntityID    int64   `json:"entity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Link        *string `json:"link,omitempty"`
}

// Linker returns the public link of an entity, or "" when it has none.
type Linker func(class string, id int64) string

// ActionSummary is an approval card line.
type ActionSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// InterruptPayload is what the client needs to resume a paused chat.
type InterruptPayload struct {
	ResumeToken    string          `json:"resumeToken"`
	Message        string          `json:"message"`
	Actions        []ActionSummary `json:"actions"`
	RequestPayload string          `json:"requestPayload"`
}

// AgentResponse is the result of a chat or chat resume.
type AgentResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Blocks    []Block           `json:"blocks"`
	Usage     map[string]int64  `json:"usage"`
	Interrupt *InterruptPayload `json:"interrupt,omitempty"`
}

// HasInterrupt reports whether the response is an approval card.
func (r *AgentResponse) HasInterrupt() bool { return r.Interrupt != nil }

// FromMessage renders a completed assistant message.
func FromMessage(message string, usage domain.TokenUsage, link Linker) *AgentResponse {
	return &AgentResponse{
		Success: true,
		Message: message,
		Blocks:  ParseBlocks(message, link),
		Usage:   UsageMap(usage),
	}
}

// FromInterrupt renders an approval card for a paused chat. payload must be
// the exact encoding of req.
func FromInterrupt(token string, req *approval.Request, payload string) *AgentResponse {
	actions := make([]ActionSummary, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = ActionSummary{Name: a.Name, Description: a.Label}
	}
	msg := ConfirmMessage(len(actions))
	return &AgentResponse{
		Success: true,
		Message: msg,
		Blocks:  []Block{{Type: BlockText, Content: msg}},
		Usage:   map[string]int64{},
		Interrupt: &InterruptPayload{
			ResumeToken:    token,
			Message:        msg,
			Actions:        actions,
			RequestPayload: payload,
		},
	}
}

// ParseBlocks splits message on [Display](Class:id) references. Blank text
// between references is dropped. A message with no references is one text
// block.
func ParseBlocks(message string, link Linker) []Block {
	var blocks []Block
	last := 0
	for _, m := range entityRef.FindAllStringSubmatchIndex(message, -1) {
		if before := message[last:m[0]]; strings.TrimSpace(before) != "" {
			blocks = append(blocks, Block{Type: BlockText, Content: before})
		}
		class := message[m[4]:m[5]]
		id, _ := strconv.ParseInt(message[m[6]:m[7]], 10, 64)
		b := Block{
			Type:        BlockEntityReference,
			EntityClass: class,
			EntityID:    id,
			DisplayName: message[m[2]:m[3]],
		}
		if link != nil {
			if l := link(class, id); l != "" {
				b.Link = &l
			}
		}
		blocks = append(blocks, b)
		last = m[1]
	}
	if rest := message[last:]; strings.TrimSpace(rest) != "" {
		blocks = append(blocks, Block{Type: BlockText, Content: rest})
	}
	if len(blocks) == 0 {
		return []Block{{Type: BlockText, Content: message}}
	}
	return blocks
}

// UsageMap converts token usage to the response's usage keys.
func UsageMap(u domain.TokenUsage) map[string]int64 {
	return map[string]int64{
		"prompt_tokens":      u.InputTokens,
		"completion_tokens":  u.OutputTokens,
		"total_tokens":       u.Total(),
		"cache_write_tokens": u.CacheWriteTokens,
		"cache_read_tokens":  u.CacheReadTokens,
	}
}
