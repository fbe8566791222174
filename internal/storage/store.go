package storage

import (
	"context"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
)

// RecordStore describes the interface for persisting and restoring the
// export ledger of one destination. Implementations MUST be safe for
// concurrency and durable across restarts.
//
// Reads always reflect mutations already issued by the caller: the
// in-memory map and the done-count index are updated synchronously,
// only the durable write may lag behind (bounded by Flush).
type RecordStore interface {
	// Load reconstructs the record map by reading the latest snapshot
	// and applying all subsequent logged mutations in order.
	Load(ctx context.Context) error
	// Upsert applies a full record snapshot to memory synchronously and
	// queues the durable write.
	Upsert(ctx context.Context, rec *core.ExportRecord) error
	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error

	Get(id string) (*core.ExportRecord, bool)
	// Records returns all records sorted by bucket, then id.
	Records() []*core.ExportRecord
	Len() int
	// DoneCount returns the number of records currently done in the
	// (year, month) bucket.
	DoneCount(year, month int) int

	// Flush blocks until all previously queued background I/O has
	// completed. Used for shutdown and deterministic testing.
	Flush(ctx context.Context) error
	Close() error
}
