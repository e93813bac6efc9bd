package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/domain"
)

func TestMemberRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	id, err := repo.Create(ctx, db, domain.Member{Email: "a@example.com", APIToken: "tok-a", FreeCredits: 2, PurchasedCredits: 5})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, 7.0, got.TotalCredits())

	byToken, err := repo.GetByToken(ctx, db, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, id, byToken.ID)

	_, err = repo.GetByToken(ctx, db, "")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestMemberRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := (&MemberRepo{}).GetByID(context.Background(), db, 404)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestMemberRepo_Debit_ClampsAtZero(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	id, err := repo.Create(ctx, db, domain.Member{Email: "b@example.com", FreeCredits: 0.5, PurchasedCredits: 1})
	require.NoError(t, err)

	applied, err := repo.Debit(ctx, db, id, domain.CreditSplit{Free: 0.75, Paid: 0.25})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, applied.Free, 1e-9)
	assert.InDelta(t, 0.25, applied.Paid, 1e-9)

	got, err := repo.GetByID(ctx, db, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got.FreeCredits, 1e-9)
	assert.InDelta(t, 0.75, got.PurchasedCredits, 1e-9)
}

func TestMemberRepo_AddPurchased(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	id, err := repo.Create(ctx, db, domain.Member{Email: "c@example.com"})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.AddPurchased(ctx, db, id, 0), domain.ErrInvalidAmount)
	require.NoError(t, repo.AddPurchased(ctx, db, id, 3.5))
	assert.ErrorIs(t, repo.AddPurchased(ctx, db, 999, 1), domain.ErrMemberNotFound)

	got, err := repo.GetByID(ctx, db, id)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got.PurchasedCredits, 1e-9)
}

func TestMemberRepo_RefillAllFree(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	a, err := repo.Create(ctx, db, domain.Member{Email: "d@example.com", FreeCredits: 0.1})
	require.NoError(t, err)
	_, err = repo.Create(ctx, db, domain.Member{Email: "e@example.com"})
	require.NoError(t, err)

	n, err := repo.RefillAllFree(ctx, db, 2.0, 1700000000)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := repo.GetByID(ctx, db, a)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.FreeCredits)
	assert.EqualValues(t, 1700000000, got.FreeRefilledAt)
}
