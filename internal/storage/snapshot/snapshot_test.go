package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage/snapshot"
)

func TestSnapshotWriteRead(t *testing.T) {
	t.Parallel()
	var (
		ctx  = context.Background()
		path = filepath.Join(t.TempDir(), "export-records.json")
	)

	now := time.Now().UTC()
	done := core.NewRecord("a", 2025, 3)
	done.Status = core.RecordStatusDone
	done.Filename = "IMG_1.jpg"
	done.ExportDate = &now

	ss := &snapshot.Snapshot{
		Version: snapshot.CurrentVersion,
		Records: map[string]*core.ExportRecord{
			"a": done,
			"b": core.NewRecord("b", 2025, 4),
		},
		CreatedAt: now,
	}
	require.NoError(t, snapshot.Write(ctx, path, ss))

	// temp file should not be left behind
	_, err := os.Stat(path + ".tmp")
	require.Truef(t, os.IsNotExist(err), "tmp file left behind: %v", err)

	got, err := snapshot.Read(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, snapshot.CurrentVersion, got.Version)
	require.Equal(t, 2, len(got.Records))
	require.Equal(t, core.RecordStatusDone, got.Records["a"].Status)
	require.Equal(t, "IMG_1.jpg", got.Records["a"].Filename)
	require.NotNil(t, got.Records["a"].ExportDate)
	require.Truef(t, got.Records["a"].ExportDate.Equal(now),
		"export date: got %v, want %v", got.Records["a"].ExportDate, now,
	)
	require.Equal(t, core.RecordStatusPending, got.Records["b"].Status)
}

func TestSnapshotReadMissFile(t *testing.T) {
	t.Parallel()
	got, err := snapshot.Read(context.Background(),
		filepath.Join(t.TempDir(), "miss.json"),
	)
	require.NoError(t, err)
	require.Nilf(t, got, "missing snapshot should yield nil, got %#v", got)
}

func TestSnapshotWriteNil(t *testing.T) {
	t.Parallel()
	err := snapshot.Write(context.Background(),
		filepath.Join(t.TempDir(), "export-records.json"), nil,
	)
	require.Error(t, err)
}
