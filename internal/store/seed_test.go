package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/domain"
)

const seedYAML = `
models:
  - name: paid-large
    input_cost_per_1m: 3
    output_cost_per_1m: 15
    context_window: 200000
  - name: free-small
    input_cost_per_1m: 0.25
    output_cost_per_1m: 1.25
    allowed_for_free_credits: true
members:
  - email: editor@example.com
    api_token: tok-editor
    purchased_credits: 10
entities:
  - class: Article
    title: Tides
    owner_email: editor@example.com
    context: Moon and sea.
`

func TestSeed_ParseAndApply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	res, err := s.Apply(ctx, db, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	assert.Equal(t, &SeedResult{Models: 2, Members: 1, Entities: 1}, res)

	paid, err := (&ModelRepo{}).GetByName(ctx, db, "paid-large")
	require.NoError(t, err)
	assert.True(t, paid.Active)
	assert.Equal(t, int64(200000), paid.ContextWindow)

	m, err := (&MemberRepo{}).GetByToken(ctx, db, "tok-editor")
	require.NoError(t, err)
	assert.Equal(t, 10.0, m.PurchasedCredits)

	ids, err := (&EntityRepo{}).ListEmptyContent(ctx, db, "Article", 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	e, err := (&EntityRepo{}).Get(ctx, db, "Article", ids[0])
	require.NoError(t, err)
	assert.Equal(t, m.ID, e.OwnerID)

	// Re-applying keeps existing members.
	res, err = s.Apply(ctx, db, time.Unix(1_700_000_100, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Members)
}

func TestSeed_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":  "widgets: []\n",
		"nameless model": "models:\n  - input_cost_per_1m: 1\n",
		"member email":   "members:\n  - api_token: x\n",
		"entity class":   "entities:\n  - title: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(doc))
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSeed_UnknownOwner(t *testing.T) {
	db := newTestDB(t)
	s, err := ParseSeed(strings.NewReader("entities:\n  - class: Article\n    owner_email: ghost@example.com\n"))
	require.NoError(t, err)
	_, err = s.Apply(context.Background(), db, time.Now())
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}
