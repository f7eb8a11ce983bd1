package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanreport/ownership-engine/internal/model"
)

func TestMemoryStore_LoadAndGet(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(model.Loan{ID: "a"}, model.Loan{ID: "b"})

	book, err := ms.LoadBook(ctx)
	require.NoError(t, err)
	require.Len(t, book.Loans, 2)
	assert.NotEmpty(t, book.SHA)

	l, err := ms.GetLoan(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", l.ID)

	_, err = ms.GetLoan(ctx, "zzz")
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestMemoryStore_EmptyBook(t *testing.T) {
	book, err := NewMemoryStore().LoadBook(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, book.Loans)
	assert.Empty(t, book.Loans)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(model.Loan{ID: "a", OwnershipLots: []model.OwnershipLot{{User: "alice"}}})

	book, _ := ms.LoadBook(ctx)
	book.Loans[0].OwnershipLots[0].User = "mallory"

	l, _ := ms.GetLoan(ctx, "a")
	assert.Equal(t, "alice", l.OwnershipLots[0].User)
}

func TestMemoryStore_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(model.Loan{ID: "a"})
	book, _ := ms.LoadBook(ctx)

	sha, err := ms.SaveBook(ctx, []model.Loan{{ID: "a", LoanName: "first"}}, book.SHA)
	require.NoError(t, err)
	assert.NotEqual(t, book.SHA, sha)

	// A second writer still holding the old token loses.
	_, err = ms.SaveBook(ctx, []model.Loan{{ID: "a", LoanName: "second"}}, book.SHA)
	assert.ErrorIs(t, err, ErrVersionConflict)

	l, _ := ms.GetLoan(ctx, "a")
	assert.Equal(t, "first", l.LoanName)

	// An empty token saves unconditionally.
	_, err = ms.SaveBook(ctx, []model.Loan{{ID: "c"}}, "")
	require.NoError(t, err)
	_, err = ms.GetLoan(ctx, "a")
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestMemoryStore_RejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(model.Loan{ID: "a"})

	_, err := ms.SaveBook(ctx, []model.Loan{{ID: ""}, {ID: "b"}, {ID: ""}}, "")
	assert.ErrorIs(t, err, ErrDuplicateLoanID)

	l, err := ms.GetLoan(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", l.ID)
}

func TestMemoryStore_PlatformConfig(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	_, err := ms.LoadPlatformConfig(ctx)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	cfg := &model.PlatformConfig{Users: map[string]model.PlatformUser{"alice": {ID: "alice"}}}
	sha, err := ms.SavePlatformConfig(ctx, cfg, "")
	require.NoError(t, err)
	assert.Empty(t, cfg.SHA, "the caller's value is not modified")

	cfg.Users["mallory"] = model.PlatformUser{ID: "mallory"}
	got, err := ms.LoadPlatformConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, sha, got.SHA)
	assert.NotContains(t, got.Users, "mallory")

	_, err = ms.SavePlatformConfig(ctx, got, "stale")
	assert.ErrorIs(t, err, ErrVersionConflict)

	next, err := ms.SavePlatformConfig(ctx, got, sha)
	require.NoError(t, err)
	assert.NotEqual(t, sha, next)
}
