package medialib

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrUnauthorized is returned when access to the media library is
// denied or restricted. Surfaced immediately, never retried.
var ErrUnauthorized = errors.New("medialib: media library access denied")

// ErrItemNotFound is returned when an item cannot be resolved by id.
var ErrItemNotFound = errors.New("medialib: item not found")

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

type StreamKind string

const (
	StreamPhoto       StreamKind = "photo"
	StreamVideo       StreamKind = "video"
	StreamEditedPhoto StreamKind = "edited_photo"
	StreamFullSize    StreamKind = "full_size"
)

// ContentStream is one exportable rendition of a media item. Open may
// trigger a network fetch for remote content and can block.
type ContentStream interface {
	Kind() StreamKind
	OriginalFilename() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// MediaItem is the platform-agnostic view of one library item: a stable
// opaque identifier, a creation time, and ordered content streams.
type MediaItem struct {
	ID        string
	CreatedAt time.Time
	Kind      Kind

	Streams []ContentStream

	PixelWidth  int
	PixelHeight int
}

// PrimaryStream picks the single exportable content stream using a
// fixed preference order: primary photo, primary video, edited photo,
// full-size derivative, else whatever is first. Nil when the item has
// no streams at all.
func (it *MediaItem) PrimaryStream() ContentStream {
	for _, want := range []StreamKind{StreamPhoto, StreamVideo, StreamEditedPhoto, StreamFullSize} {
		for _, s := range it.Streams {
			if s.Kind() == want {
				return s
			}
		}
	}
	if len(it.Streams) > 0 {
		return it.Streams[0]
	}
	return nil
}

// Library is the media-library collaborator. Implementations wrap the
// platform photo API. Calls may suspend on I/O and may fail with
// ErrUnauthorized.
type Library interface {
	// Items returns the items of the (year, month) bucket in the
	// library's own order. month == 0 spans the whole year.
	Items(ctx context.Context, year, month int) ([]*MediaItem, error)
	// Item resolves one item by its stable identifier.
	Item(ctx context.Context, id string) (*MediaItem, error)
	// Count returns the item count of the bucket, for UI badges.
	Count(ctx context.Context, year, month int) (int, error)
}

// Destination is the export-destination collaborator: resolves bucket
// directories under the user-chosen root and brackets filesystem access
// with any platform-required scoped access.
type Destination interface {
	// Key identifies the destination; each distinct key owns an
	// independent record store.
	Key() string
	// BucketDir resolves the directory for a (year, month) bucket,
	// creating it when asked. Errors when the destination is
	// unreachable or not writable.
	BucketDir(year, month int, create bool) (string, error)
	// BeginScopedAccess acquires platform-scoped access to the
	// destination. The returned release func must be called after the
	// filesystem work completes.
	BeginScopedAccess() (release func(), err error)
}
