package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/medialib"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/worker"
	"go.uber.org/zap"
)

type jobQueue interface {
	Submit(jobs ...worker.Job) error
	Pause()
	Resume()
	ClearPending()
	CancelAndClear()
	Status() worker.QueueStatus
	Close()
}

type destinationSetter interface {
	SetDestination(dest medialib.Destination)
}

type ExportManagerOptions struct {
	Library  medialib.Library  `validate:"required"`
	Records  *RecordService    `validate:"required"`
	Queue    jobQueue          `validate:"required"`
	Exporter destinationSetter `validate:"required"`
	Logger   *zap.Logger
}

// ExportManager turns "export this month/year" requests into queued
// per-item jobs and owns the destination-switch choreography between
// the queue, the exporter and the record store.
type ExportManager struct {
	library  medialib.Library
	records  *RecordService
	queue    jobQueue
	exporter destinationSetter
	logger   *zap.Logger

	// to disable enqueue during shutdown
	enqueueDisabled atomic.Bool
}

func NewExportManager(opts *ExportManagerOptions) (*ExportManager, error) {
	if opts == nil {
		return nil, errors.New("export mngr: required options")
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportManager{
		library:  opts.Library,
		records:  opts.Records,
		queue:    opts.Queue,
		exporter: opts.Exporter,
		logger:   logger,
	}, nil
}

// EnqueueMonth queues one job per not-yet-exported item of the bucket,
// preserving the library's item order. Returns the number of jobs
// queued; a month with every item already done queues zero.
func (m *ExportManager) EnqueueMonth(ctx context.Context, year, month int) (int, error) {
	const op = "service.ExportManager.EnqueueMonth"
	if m.enqueueDisabled.Load() {
		return 0, nil
	}
	if err := validateBucket(op, year, month); err != nil {
		return 0, err
	}

	items, err := m.library.Items(ctx, year, month)
	if err != nil {
		return 0, wrapLibraryError(op, err)
	}

	jobs := make([]worker.Job, 0, len(items))
	for _, it := range items {
		if it == nil || m.records.IsExported(it.ID) {
			continue
		}
		jobs = append(jobs, worker.Job{ItemID: it.ID, Year: year, Month: month})
	}
	if err := m.queue.Submit(jobs...); err != nil {
		return 0, internalError(op, "submit jobs", err)
	}
	m.logger.Info("enqueued month",
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Int("jobs", len(jobs)),
		zap.Int("items", len(items)),
	)
	return len(jobs), nil
}

// EnqueueYear spans all months of the year. Each job's month comes from
// the item's own creation timestamp, so one year-export fans items out
// across different buckets.
func (m *ExportManager) EnqueueYear(ctx context.Context, year int) (int, error) {
	const op = "service.ExportManager.EnqueueYear"
	if m.enqueueDisabled.Load() {
		return 0, nil
	}
	if year <= 0 {
		return 0, validationError(op, "year should be > 0")
	}

	items, err := m.library.Items(ctx, year, 0)
	if err != nil {
		return 0, wrapLibraryError(op, err)
	}

	jobs := make([]worker.Job, 0, len(items))
	for _, it := range items {
		if it == nil || m.records.IsExported(it.ID) {
			continue
		}
		jobs = append(jobs, worker.Job{
			ItemID: it.ID,
			Year:   year,
			Month:  int(it.CreatedAt.Month()),
		})
	}
	if err := m.queue.Submit(jobs...); err != nil {
		return 0, internalError(op, "submit jobs", err)
	}
	m.logger.Info("enqueued year",
		zap.Int("year", year),
		zap.Int("jobs", len(jobs)),
		zap.Int("items", len(items)),
	)
	return len(jobs), nil
}

// SwitchDestination abandons the queue (in-flight jobs reference the
// old destination), points the exporter at the new one and reconfigures
// the record store. A nil destination unselects it.
func (m *ExportManager) SwitchDestination(ctx context.Context, dest medialib.Destination) error {
	m.queue.CancelAndClear()
	m.exporter.SetDestination(dest)
	if dest == nil {
		return m.records.Configure(ctx, nil)
	}
	key := dest.Key()
	return m.records.Configure(ctx, &key)
}

func (m *ExportManager) Pause()          { m.queue.Pause() }
func (m *ExportManager) Resume()         { m.queue.Resume() }
func (m *ExportManager) ClearPending()   { m.queue.ClearPending() }
func (m *ExportManager) CancelAndClear() { m.queue.CancelAndClear() }

func (m *ExportManager) Status() worker.QueueStatus {
	return m.queue.Status()
}

// DisableEnqueue stops accepting new export requests.
func (m *ExportManager) DisableEnqueue() {
	m.enqueueDisabled.Store(true)
}

// Close stops accepting work and shuts the queue down.
func (m *ExportManager) Close() {
	if m == nil {
		return
	}
	m.DisableEnqueue()
	m.queue.Close()
}

func wrapLibraryError(op string, err error) error {
	if errors.Is(err, medialib.ErrUnauthorized) {
		return core.NewAuthorizationError("media library access denied", err, op)
	}
	return internalError(op, "query media library", err)
}
