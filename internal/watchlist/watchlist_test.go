package watchlist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/numberwatch/internal/storage/memory"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

func TestAddStoresEnabledWatch(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	svc := New(store, nil)

	got, err := svc.Add(context.Background(), 7, "12345/ab/2021", "  mine ")
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.True(t, got.Enabled)
	assert.Equal(t, "mine", got.Label)
	assert.Equal(t, watch.Identifier{Number: 12345, Code: "AB", Year: 2021}, got.Identifier)
	assert.Nil(t, got.InfoNumberID)
	assert.Nil(t, got.SearchAt)

	require.Len(t, store.Watches(), 1)
}

func TestAddRejectsInvalidNumberBeforePersisting(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	svc := New(store, nil)

	_, err := svc.Add(context.Background(), 7, "12/2021", "")
	require.ErrorIs(t, err, watch.ErrInvalidNumber)
	assert.Empty(t, store.Watches())
}

func TestAddRejectsDuplicatePerUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	svc := New(store, nil)

	_, err := svc.Add(ctx, 7, "12345/2021", "")
	require.NoError(t, err)

	_, err = svc.Add(ctx, 7, " 12345/2021", "again")
	require.ErrorIs(t, err, ErrDuplicateWatch)

	_, err = svc.Add(ctx, 8, "12345/2021", "")
	require.NoError(t, err, "other users may watch the same number")

	_, err = svc.Add(ctx, 7, "12345/RD/2021", "")
	require.NoError(t, err, "a code makes it a different number")

	assert.Len(t, store.Watches(), 3)
}

type failingRepo struct {
	watch.WatchRepository
	err error
}

func (f failingRepo) WatchExists(context.Context, int64, watch.Identifier) (bool, error) {
	return false, f.err
}

func TestAddWrapsRepositoryErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	svc := New(failingRepo{err: boom}, nil)
	_, err := svc.Add(context.Background(), 1, "12345/2021", "")
	require.ErrorIs(t, err, boom)
}

func TestToggleFlipsEnabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	svc := New(store, nil)
	w, err := svc.Add(ctx, 7, "12345/2021", "")
	require.NoError(t, err)

	got, err := svc.Toggle(ctx, 7, w.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	pending, err := store.ListPendingWatches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "disabled watches are not searched")

	got, err = svc.Toggle(ctx, 7, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	pending, err = store.ListPendingWatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestToggleAndDeleteRejectOtherUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	svc := New(store, nil)
	w, err := svc.Add(ctx, 7, "12345/2021", "")
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, 8, w.ID)
	require.ErrorIs(t, err, ErrNotWatchOwner)
	require.ErrorIs(t, svc.Delete(ctx, 8, w.ID), ErrNotWatchOwner)

	require.Len(t, store.Watches(), 1)
	assert.True(t, store.Watches()[0].Enabled)
}

func TestDeleteRemovesWatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	svc := New(store, nil)
	w, err := svc.Add(ctx, 7, "12345/2021", "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 7, w.ID))
	assert.Empty(t, store.Watches())

	require.ErrorIs(t, svc.Delete(ctx, 7, w.ID), watch.ErrNotFound)
	_, err = svc.Toggle(ctx, 7, 999)
	require.ErrorIs(t, err, watch.ErrNotFound)
}
