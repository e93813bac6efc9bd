package workflow

import (
	"encoding/json"
	"testing"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_RoundTripPreservesOrderAndKinds(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Set("__member_id", 42))
	require.NoError(t, st.Set("__entity_class", "Product"))
	require.NoError(t, st.Set("price", 2.0))
	require.NoError(t, st.Set("content", ""))
	require.NoError(t, st.Set("missing", nil))
	require.NoError(t, st.Lock("__skip_review", false))

	b, err := json.Marshal(st)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, st.Keys(), got.Keys())
	v, _ := got.Get("__member_id")
	assert.Equal(t, int64(42), v)
	v, _ = got.Get("price")
	assert.Equal(t, 2.0, v)
	assert.Equal(t, "Product", got.String("__entity_class"))
	assert.True(t, got.Locked("__skip_review"))
	assert.False(t, got.Locked("content"))
}

func TestState_RejectsLiveObjects(t *testing.T) {
	st := NewState()
	err := st.Set("entity", struct{ ID int }{ID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	err = st.Set("slice", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Zero(t, st.Len())
}

func TestState_LockedKeyIsImmutable(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Lock("__skip_review", true))

	assert.ErrorIs(t, st.Set("__skip_review", false), domain.ErrImmutableKey)
	assert.ErrorIs(t, st.Lock("__skip_review", false), domain.ErrImmutableKey)
	assert.True(t, st.Bool("__skip_review"))
}

func TestState_OverwriteKeepsPosition(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Set("a", 1))
	require.NoError(t, st.Set("b", 2))
	require.NoError(t, st.Set("a", "x"))

	assert.Equal(t, []string{"a", "b"}, st.Keys())
	assert.Equal(t, "x", st.String("a"))
	assert.Zero(t, st.Int("a"))
}

func TestState_UnknownKind(t *testing.T) {
	var st State
	err := json.Unmarshal([]byte(`[{"k":"a","t":"object","v":{}}]`), &st)
	assert.Error(t, err)
}
