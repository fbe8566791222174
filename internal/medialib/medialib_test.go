package medialib_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/medialib"
)

type kindStream struct {
	kind medialib.StreamKind
}

func (s *kindStream) Kind() medialib.StreamKind { return s.kind }
func (s *kindStream) OriginalFilename() string  { return string(s.kind) + ".bin" }
func (s *kindStream) Open(_ context.Context) (io.ReadCloser, error) {
	return nil, nil
}

func TestPrimaryStreamPreference(t *testing.T) {
	t.Parallel()
	photo := &kindStream{kind: medialib.StreamPhoto}
	video := &kindStream{kind: medialib.StreamVideo}
	edited := &kindStream{kind: medialib.StreamEditedPhoto}
	full := &kindStream{kind: medialib.StreamFullSize}

	it := &medialib.MediaItem{Streams: []medialib.ContentStream{full, edited, video, photo}}
	require.Equal(t, medialib.ContentStream(photo), it.PrimaryStream())

	it = &medialib.MediaItem{Streams: []medialib.ContentStream{full, edited, video}}
	require.Equal(t, medialib.ContentStream(video), it.PrimaryStream())

	it = &medialib.MediaItem{Streams: []medialib.ContentStream{full, edited}}
	require.Equal(t, medialib.ContentStream(edited), it.PrimaryStream())

	other := &kindStream{kind: medialib.StreamKind("sidecar")}
	it = &medialib.MediaItem{Streams: []medialib.ContentStream{other}}
	require.Equal(t, medialib.ContentStream(other), it.PrimaryStream())

	it = &medialib.MediaItem{}
	require.Nil(t, it.PrimaryStream())
}

func TestFolderDestinationBucketDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dest, err := medialib.NewFolderDestination(root)
	require.NoError(t, err)

	dir, err := dest.BucketDir(2025, 3, true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "2025", "03"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// without create, the path is resolved but not made
	dir, err = dest.BucketDir(2025, 4, false)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	release, err := dest.BeginScopedAccess()
	require.NoError(t, err)
	release()
}

func TestFolderDestinationUnreachableRoot(t *testing.T) {
	t.Parallel()
	dest, err := medialib.NewFolderDestination(filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, err)

	_, err = dest.BucketDir(2025, 3, true)
	require.Error(t, err)
}

func TestDeriveKeyStable(t *testing.T) {
	t.Parallel()
	rootA := t.TempDir()
	rootB := t.TempDir()

	destA1, err := medialib.NewFolderDestination(rootA)
	require.NoError(t, err)
	destA2, err := medialib.NewFolderDestination(rootA)
	require.NoError(t, err)
	destB, err := medialib.NewFolderDestination(rootB)
	require.NoError(t, err)

	require.Equal(t, destA1.Key(), destA2.Key())
	require.NotEqual(t, destA1.Key(), destB.Key())
	require.Equal(t, 16, len(destA1.Key()))
}

func TestFolderLibraryScan(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	march := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	april := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	writeMedia := func(name string, when time.Time) {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
		require.NoError(t, os.Chtimes(path, when, when))
	}
	writeMedia("a.jpg", march)
	writeMedia("sub/b.mov", march)
	writeMedia("c.heic", april)
	writeMedia("notes.txt", march)

	lib, err := medialib.NewFolderLibrary(root)
	require.NoError(t, err)
	ctx := context.Background()

	items, err := lib.Items(ctx, 2025, 3)
	require.NoError(t, err)
	require.Equal(t, 2, len(items))
	require.Equal(t, "a.jpg", items[0].ID)
	require.Equal(t, medialib.KindPhoto, items[0].Kind)
	require.Equal(t, "sub/b.mov", items[1].ID)
	require.Equal(t, medialib.KindVideo, items[1].Kind)

	// month 0 spans the whole year
	items, err = lib.Items(ctx, 2025, 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(items))

	count, err := lib.Count(ctx, 2025, 4)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	it, err := lib.Item(ctx, "sub/b.mov")
	require.NoError(t, err)
	require.Equal(t, "sub/b.mov", it.ID)
	stream := it.PrimaryStream()
	require.NotNil(t, stream)
	require.Equal(t, "b.mov", stream.OriginalFilename())

	rc, err := stream.Open(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "data", string(data))

	_, err = lib.Item(ctx, "ghost.jpg")
	require.ErrorIs(t, err, medialib.ErrItemNotFound)
	_, err = lib.Item(ctx, "notes.txt")
	require.ErrorIs(t, err, medialib.ErrItemNotFound)
}
