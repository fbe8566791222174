package medialib

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var photoExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true,
	".gif": true, ".tiff": true, ".webp": true,
}
var videoExts = map[string]bool{
	".mov": true, ".mp4": true, ".m4v": true, ".avi": true,
}

// FolderLibrary is a Library over a local folder of media files,
// bucketing items by file modification time. It stands in for the
// platform photo API in development and integration testing.
type FolderLibrary struct {
	root string
}

func NewFolderLibrary(root string) (*FolderLibrary, error) {
	if root == "" {
		return nil, fmt.Errorf("medialib: required library root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("medialib: resolve library root: %w", err)
	}
	return &FolderLibrary{root: abs}, nil
}

func (l *FolderLibrary) Items(ctx context.Context, year, month int) ([]*MediaItem, error) {
	all, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*MediaItem, 0, len(all))
	for _, it := range all {
		if it.CreatedAt.Year() != year {
			continue
		}
		if month != 0 && int(it.CreatedAt.Month()) != month {
			continue
		}
		res = append(res, it)
	}
	return res, nil
}

func (l *FolderLibrary) Item(ctx context.Context, id string) (*MediaItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.root, filepath.FromSlash(id))
	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrItemNotFound
	}
	it := l.itemFromFile(id, path, info)
	if it == nil {
		return nil, ErrItemNotFound
	}
	return it, nil
}

func (l *FolderLibrary) Count(ctx context.Context, year, month int) (int, error) {
	items, err := l.Items(ctx, year, month)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// scan walks the root in lexical order, so item order is stable
// across calls.
func (l *FolderLibrary) scan(ctx context.Context) ([]*MediaItem, error) {
	items := make([]*MediaItem, 0, 64)
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		it := l.itemFromFile(filepath.ToSlash(rel), path, info)
		if it == nil {
			return nil
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		if os.IsPermission(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (l *FolderLibrary) itemFromFile(id, path string, info fs.FileInfo) *MediaItem {
	ext := strings.ToLower(filepath.Ext(path))
	var kind Kind
	var streamKind StreamKind
	switch {
	case photoExts[ext]:
		kind, streamKind = KindPhoto, StreamPhoto
	case videoExts[ext]:
		kind, streamKind = KindVideo, StreamVideo
	default:
		return nil
	}
	return &MediaItem{
		ID:        id,
		CreatedAt: info.ModTime(),
		Kind:      kind,
		Streams: []ContentStream{
			&fileStream{
				kind:     streamKind,
				filename: filepath.Base(path),
				path:     path,
			},
		},
	}
}

type fileStream struct {
	kind     StreamKind
	filename string
	path     string
}

func (s *fileStream) Kind() StreamKind         { return s.kind }
func (s *fileStream) OriginalFilename() string { return s.filename }

func (s *fileStream) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.path)
}
