// Package history keeps per-thread chat transcripts between requests and
// trims them to the model's context budget.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/persistence"
)

// DefaultTTL is how long an idle thread's history is kept.
const DefaultTTL = time.Hour

// Window bounds, in estimated tokens.
const (
	DefaultContextWindow = 128000
	MinWindow            = 10000
	MaxWindow            = 50000
)

// Store loads and saves the transcript of a thread.
type Store interface {
	Load(ctx context.Context, key string) ([]llm.Message, error)
	Save(ctx context.Context, key string, msgs []llm.Message) error
	Clear(ctx context.Context, key string) error
}

// Key is the storage key of a thread scoped to one entity. Collection-mode
// threads use entity id 0.
func Key(threadID string, entityID int64) string {
	return "agent_history_" + threadID + "_" + strconv.FormatInt(entityID, 10)
}

// KVStore keeps transcripts as JSON blobs in a persistence backend, so the
// same Redis, SQLite or in-memory store that parks interrupts also holds chat
// history.
type KVStore struct {
	kv  persistence.Store
	ttl time.Duration
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates a history store over kv. ttl <= 0 uses DefaultTTL.
func NewKVStore(kv persistence.Store, ttl time.Duration) *KVStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &KVStore{kv: kv, ttl: ttl}
}

// Load implements Store. A missing or expired thread has no messages.
func (s *KVStore) Load(ctx context.Context, key string) ([]llm.Message, error) {
	raw, err := s.kv.Load(ctx, key)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load history: %w", err)
	}
	var msgs []llm.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		// A corrupt transcript is dropped rather than blocking the thread.
		return nil, nil
	}
	return msgs, nil
}

// Save implements Store. Each save refreshes the TTL.
func (s *KVStore) Save(ctx context.Context, key string, msgs []llm.Message) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Save(ctx, key, b, s.ttl); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *KVStore) Clear(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// WindowFor returns the history budget for a model: half its context
// window, clamped to [MinWindow, MaxWindow].
func WindowFor(contextWindow int64) int {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	w := int(contextWindow / 2)
	return max(MinWindow, min(MaxWindow, w))
}

// EstimateTokens guesses a message's token count as len/4.
func EstimateTokens(m llm.Message) int {
	n := len(m.Content)
	for _, c := range m.ToolCalls {
		n += len(c.Name) + len(c.Arguments)
	}
	return n / 4
}

// Trim drops the oldest messages until the estimate fits window. The result
// never starts with a tool message or an assistant message, so no tool
// result is left without the call that asked for it.
func Trim(msgs []llm.Message, window int) []llm.Message {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m)
	}
	start := 0
	for total > window && start < len(msgs) {
		total -= EstimateTokens(msgs[start])
		start++
	}
	for start < len(msgs) && msgs[start].Role != llm.RoleUser {
		start++
	}
	return msgs[start:]
}

// Append loads a thread, appends msgs, trims to window and saves it back.
func Append(ctx context.Context, s Store, key string, window int, msgs ...llm.Message) error {
	existing, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	return s.Save(ctx, key, Trim(append(existing, msgs...), window))
}
