package history

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/persistence"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "agent_history_thread-1_42", Key("thread-1", 42))
	assert.Equal(t, "agent_history_t_0", Key("t", 0))
}

func TestWindowFor(t *testing.T) {
	tests := []struct {
		name   string
		window int64
		want   int
	}{
		{"default", 0, 50000},
		{"small_model_floor", 8000, 10000},
		{"half", 64000, 32000},
		{"large_model_cap", 200000, 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WindowFor(tt.window))
		})
	}
}

func TestTrim_DropsOldestFirst(t *testing.T) {
	big := strings.Repeat("x", 400) // 100 tokens
	msgs := []llm.Message{
		llm.UserMessage(big),
		llm.AssistantMessage(big),
		llm.UserMessage(big),
		llm.AssistantMessage(big),
	}

	got := Trim(msgs, 250)
	require.Len(t, got, 2)
	assert.Equal(t, llm.RoleUser, got[0].Role)

	// Cutting to one message would start on an assistant reply; that goes too.
	assert.Empty(t, Trim(msgs, 150))
	assert.Len(t, Trim(msgs, 1000), 4)
}

func TestKVStore_RoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mem, err := persistence.NewMemoryStore()
	require.NoError(t, err)

	backends := map[string]struct {
		kv      persistence.Store
		advance func(time.Duration)
	}{
		"redis":  {persistence.NewRedisStore(client), mr.FastForward},
		"memory": {mem, nil},
	}

	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewKVStore(b.kv, time.Minute)
			key := Key("thread-"+name, 7)

			msgs, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			require.NoError(t, Append(ctx, s, key, MaxWindow, llm.UserMessage("hi"), llm.AssistantMessage("hello")))
			require.NoError(t, Append(ctx, s, key, MaxWindow, llm.UserMessage("again"), llm.AssistantMessage("yes")))

			msgs, err = s.Load(ctx, key)
			require.NoError(t, err)
			require.Len(t, msgs, 4)
			assert.Equal(t, "again", msgs[2].Content)

			if b.advance != nil {
				b.advance(2 * time.Minute)
				msgs, err = s.Load(ctx, key)
				require.NoError(t, err)
				assert.Empty(t, msgs)
			}

			require.NoError(t, s.Clear(ctx, key))
			require.NoError(t, s.Clear(ctx, key))
		})
	}
}
