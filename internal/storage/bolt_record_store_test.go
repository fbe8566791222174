package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage"
)

func TestBoltRecordStore_UpsertRecover(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewBoltRecordStore(dir, nil)
	require.NoErrorf(t, err, "newstore error: %v", err)
	require.NoError(t, store.Load(ctx))
	require.Zero(t, store.Len())

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Upsert(ctx, core.NewRecord("b", 2025, 4)))
	require.Equal(t, 1, store.DoneCount(2025, 3))
	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	recStore, err := storage.NewBoltRecordStore(dir, nil)
	require.NoError(t, err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))

	require.Equal(t, 2, recStore.Len())
	rec, ok := recStore.Get("a")
	require.True(t, ok)
	require.Equal(t, core.RecordStatusDone, rec.Status)
	require.Equal(t, "a.jpg", rec.Filename)
	require.Equal(t, 1, recStore.DoneCount(2025, 3))
	require.Zero(t, recStore.DoneCount(2025, 4))
}

func TestBoltRecordStore_GetReturnsClone(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewBoltRecordStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, core.NewRecord("a", 2025, 3)))
	got, ok := store.Get("a")
	require.True(t, ok)
	got.Status = core.RecordStatusFailed

	again, ok := store.Get("a")
	require.True(t, ok)
	require.Equalf(t, core.RecordStatusPending, again.Status,
		"mutating a returned record should not touch the store",
	)
}

func TestBoltRecordStore_Delete(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewBoltRecordStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "ghost"))
	require.Zero(t, store.Len())
	require.Zero(t, store.DoneCount(2025, 3))
	require.NoError(t, store.Close())

	recStore, err := storage.NewBoltRecordStore(dir, nil)
	require.NoError(t, err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))
	require.Zero(t, recStore.Len())
}
