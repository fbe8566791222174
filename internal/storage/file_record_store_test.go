package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage"
)

func doneRecord(id string, year, month int) *core.ExportRecord {
	now := time.Now().UTC()
	rec := core.NewRecord(id, year, month)
	rec.Status = core.RecordStatusDone
	rec.Filename = id + ".jpg"
	rec.ExportDate = &now
	return rec
}

func TestFileRecordStore_UpsertRecover(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoErrorf(t, err, "newstore error: %v", err)
	require.NoError(t, store.Load(ctx))
	require.Zerof(t, store.Len(), "fresh store should be empty")

	require.NoError(t, store.Upsert(ctx, core.NewRecord("a", 2025, 3)))
	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Upsert(ctx, doneRecord("b", 2025, 4)))

	// reads reflect mutations before any flush
	got, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, core.RecordStatusDone, got.Status)
	require.Equal(t, 1, store.DoneCount(2025, 3))
	require.Equal(t, 1, store.DoneCount(2025, 4))

	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	// reconstruct from the log alone, no snapshot written yet
	recStore, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoErrorf(t, err, "newstore reopen error: %v", err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))

	require.Equal(t, 2, recStore.Len())
	rec, ok := recStore.Get("a")
	require.True(t, ok)
	require.Equal(t, core.RecordStatusDone, rec.Status)
	require.Equal(t, "a.jpg", rec.Filename)
	require.NotNil(t, rec.ExportDate)
	require.Equal(t, 1, recStore.DoneCount(2025, 3))
	require.Equal(t, 1, recStore.DoneCount(2025, 4))

	recs := recStore.Records()
	require.Equal(t, 2, len(recs))
	require.Equal(t, "a", recs[0].ID)
	require.Equal(t, "b", recs[1].ID)
}

func TestFileRecordStore_DoneIndexFollowsRecord(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.Equal(t, 1, store.DoneCount(2025, 3))

	// the record moves bucket: the old bucket count drops, the new rises
	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 4)))
	require.Zero(t, store.DoneCount(2025, 3))
	require.Equal(t, 1, store.DoneCount(2025, 4))

	// a later failure takes the record out of the done count
	failed := core.NewRecord("a", 2025, 4)
	failed.Status = core.RecordStatusFailed
	failed.LastError = "disk full"
	require.NoError(t, store.Upsert(ctx, failed))
	require.Zero(t, store.DoneCount(2025, 4))
}

func TestFileRecordStore_Delete(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Delete(ctx, "a"))
	require.Zero(t, store.Len())
	require.Zero(t, store.DoneCount(2025, 3))

	// deleting an absent id is a no-op
	require.NoError(t, store.Delete(ctx, "ghost"))

	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	recStore, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))
	require.Zerof(t, recStore.Len(), "delete should survive a restart")
}

func TestFileRecordStore_CompactionThreshold(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 2, nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Upsert(ctx, doneRecord("b", 2025, 3)))
	require.NoError(t, store.Flush(ctx))

	// second append hits the threshold: snapshot written, log reset
	info, err := os.Stat(filepath.Join(dir, storage.LogFileName))
	require.NoError(t, err)
	require.Zerof(t, info.Size(), "log should be empty after compaction, got %d", info.Size())
	_, err = os.Stat(filepath.Join(dir, storage.SnapshotFileName))
	require.NoError(t, err)

	require.NoError(t, store.Close())

	recStore, err := storage.NewFileRecordStore(dir, 2, nil)
	require.NoError(t, err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))
	require.Equal(t, 2, recStore.Len())
	require.Equal(t, 2, recStore.DoneCount(2025, 3))
}

func TestFileRecordStore_CompactOnDemand(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Compact(ctx))

	info, err := os.Stat(filepath.Join(dir, storage.LogFileName))
	require.NoError(t, err)
	require.Zero(t, info.Size())
	_, err = os.Stat(filepath.Join(dir, storage.SnapshotFileName))
	require.NoError(t, err)
}

func TestFileRecordStore_CorruptLogLine(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))
	require.NoError(t, store.Upsert(ctx, doneRecord("a", 2025, 3)))
	require.NoError(t, store.Upsert(ctx, core.NewRecord("b", 2025, 3)))
	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	// simulate a torn write at the tail of the log
	walPath := filepath.Join(dir, storage.LogFileName)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"version":1,"op":"upsert","id":"c","rec`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recStore, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	defer recStore.Close()
	require.NoError(t, recStore.Load(ctx))

	require.Equalf(t, 2, recStore.Len(),
		"corrupt tail should not lose earlier records",
	)
	_, ok := recStore.Get("c")
	require.Falsef(t, ok, "torn record should not be restored")
}

func TestFileRecordStore_ClosedRejectsWrites(t *testing.T) {
	t.Parallel()
	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	store, err := storage.NewFileRecordStore(dir, 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Upsert(ctx, core.NewRecord("a", 2025, 3))
	require.Error(t, err)
}
