package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/medialib"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/metrics"
	"go.uber.org/zap"
)

// RecordWriter reports job outcomes back into the record store.
type RecordWriter interface {
	MarkInProgress(ctx context.Context,
		id string,
		year, month int,
		relPath, filename string,
	) error
	MarkExported(
		ctx context.Context,
		id string,
		year, month int,
		relPath, filename string,
		exportedAt time.Time,
	) error
	MarkFailed(
		ctx context.Context,
		id string,
		why string,
		at time.Time,
	) error
}

// collisionCap bounds the " (N)" unique-name search. Exceeding it is
// accepted degraded behavior: the last attempted name is used.
const collisionCap = 10000

type ExporterConfig struct {
	Library medialib.Library
	Records RecordWriter
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Exporter runs one export job end to end: resolve the item, pick its
// exportable stream, write to a temp path, atomically publish it, stamp
// timestamps and report the outcome into the record store.
type Exporter struct {
	library medialib.Library
	records RecordWriter
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector

	destMu sync.RWMutex
	dest   medialib.Destination

	now func() time.Time
}

func NewExporter(cfg *ExporterConfig) (*Exporter, error) {
	if cfg == nil {
		return nil, errors.New("exporter: required config")
	}
	if cfg.Library == nil {
		return nil, errors.New("exporter: required media library")
	}
	if cfg.Records == nil {
		return nil, errors.New("exporter: required record writer")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Exporter{
		library: cfg.Library,
		records: cfg.Records,
		timeout: timeout,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}, nil
}

// SetDestination swaps the active destination. The queue must be
// cancelled and cleared first: in-flight jobs reference the old one.
func (e *Exporter) SetDestination(dest medialib.Destination) {
	e.destMu.Lock()
	e.dest = dest
	e.destMu.Unlock()
}

func (e *Exporter) destination() medialib.Destination {
	e.destMu.RLock()
	defer e.destMu.RUnlock()
	return e.dest
}

func (e *Exporter) Handle(ctx context.Context, job Job) error {
	start := e.now()
	jobCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.exportOnce(jobCtx, job)
	if err != nil {
		e.markFailed(job, err)
		e.metrics.IncFailed()
		return err
	}
	e.metrics.IncExported()
	e.metrics.ObserveDuration(e.now().Sub(start))
	return nil
}

func (e *Exporter) exportOnce(ctx context.Context, job Job) error {
	item, err := e.library.Item(ctx, job.ItemID)
	if err != nil {
		return fmt.Errorf("exporter: resolve item: %w", err)
	}

	dest := e.destination()
	if dest == nil {
		return errors.New("exporter: no destination selected")
	}
	dir, err := dest.BucketDir(job.Year, job.Month, true)
	if err != nil {
		return fmt.Errorf("exporter: resolve bucket dir: %w", err)
	}

	stream := item.PrimaryStream()
	if stream == nil {
		return errors.New("exporter: no exportable resource")
	}

	filename := normalizeFilename(stream.OriginalFilename())
	if filename == "" {
		filename = "item-" + job.ItemID
	}
	filename = uniqueFilename(dir, filename)

	relPath := core.RelPathFor(job.Year, job.Month)

	// Recorded before touching the filesystem, so a crash mid-copy
	// leaves discoverable state.
	statusCtx, cancelStatus := e.statusContext()
	err = e.records.MarkInProgress(statusCtx, job.ItemID, job.Year, job.Month, relPath, filename)
	cancelStatus()
	if err != nil {
		return fmt.Errorf("exporter: mark in progress: %w", err)
	}

	release, err := dest.BeginScopedAccess()
	if err != nil {
		return fmt.Errorf("exporter: scoped access: %w", err)
	}
	defer release()

	if err := e.writeStream(ctx, stream, dir, filename); err != nil {
		return err
	}

	finalPath := filepath.Join(dir, filename)
	e.stampTimes(finalPath, item.CreatedAt)

	exportedAt := e.now().UTC()
	statusCtx, cancelStatus = e.statusContext()
	defer cancelStatus()
	if err := e.records.MarkExported(
		statusCtx,
		job.ItemID,
		job.Year, job.Month,
		relPath, filename,
		exportedAt,
	); err != nil {
		return fmt.Errorf("exporter: mark exported: %w", err)
	}
	return nil
}

// writeStream copies the content to <filename>.tmp in dir, then
// atomically renames it onto the final name. A file already present at
// the final path at rename time should never happen given the
// uniqueness check, but is checked defensively rather than overwritten.
func (e *Exporter) writeStream(
	ctx context.Context,
	stream medialib.ContentStream,
	dir, filename string,
) error {
	finalPath := filepath.Join(dir, filename)
	tmpPath := finalPath + ".tmp"

	// Stale leftover from a crashed run.
	_ = os.Remove(tmpPath)

	rc, err := stream.Open(ctx)
	if err != nil {
		return fmt.Errorf("exporter: open stream: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(tmpPath,
		os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return fmt.Errorf("exporter: open tmp: %w", err)
	}

	reader := &contextReader{rc, ctx}
	_, copyErr := io.Copy(f, reader)
	syncErr := f.Sync()
	closeErr := f.Close()

	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("exporter: copy stream: %w", copyErr)
	} else if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	} else if syncErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("exporter: sync file: %w", syncErr)
	} else if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("exporter: closing file: %w", closeErr)
	}

	if _, err := os.Lstat(finalPath); err == nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("exporter: target %s already exists", filename)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("exporter: rename tmp file: %w", err)
	}
	return nil
}

// stampTimes is best-effort: failure to stamp is logged, never fails
// the job.
func (e *Exporter) stampTimes(path string, createdAt time.Time) {
	if createdAt.IsZero() {
		return
	}
	if err := os.Chtimes(path, createdAt, createdAt); err != nil {
		e.logger.Warn("cant stamp file times",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (e *Exporter) markFailed(job Job, why error) {
	if why == nil {
		why = errors.New("unknown error")
	}
	msg := why.Error()
	if len(msg) > 256 {
		msg = msg[:256]
	}
	// The job context may already be cancelled; the failure must still
	// be recorded.
	statusCtx, cancel := e.statusContext()
	defer cancel()
	if err := e.records.MarkFailed(statusCtx, job.ItemID, msg, e.now().UTC()); err != nil {
		e.logger.Error("cant mark item failed",
			zap.String("item_id", job.ItemID),
			zap.Error(err),
		)
	}
}

func (e *Exporter) statusContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func normalizeFilename(name string) string {
	res := strings.TrimSpace(name)
	if res == "" {
		return ""
	}
	res = filepath.Base(res)
	res = strings.Trim(res, ". ")
	if res == "" || res == string(os.PathSeparator) {
		return ""
	}
	return res
}

// uniqueFilename appends " (N)" before the extension until the name is
// free in dir, N capped at collisionCap.
func uniqueFilename(dir, filename string) string {
	if !fileExists(filepath.Join(dir, filename)) {
		return filename
	}
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	candidate := filename
	for n := 1; n <= collisionCap; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !fileExists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
	return candidate
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

type contextReader struct {
	r   io.Reader
	ctx context.Context
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.r.Read(p)
	}
}
