package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage"
	"go.uber.org/zap"
)

// StoreFactory builds a RecordStore rooted at a destination's private
// subdirectory.
type StoreFactory func(dir string) (storage.RecordStore, error)

const DefaultNotifyDebounce = 200 * time.Millisecond

// RecordService is the durable, queryable ledger of export outcomes,
// isolated per destination. Each destination key owns an independent
// store subdirectory and record set; a nil key yields an empty,
// non-persisting view. Observers get change signals coalesced to at
// most one per debounce window, while reads always hit the
// synchronously updated in-memory map.
type RecordService struct {
	baseDir  string
	factory  StoreFactory
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	destKey string
	store   storage.RecordStore

	notifyMu    sync.Mutex
	subscribers []func()
	timer       *time.Timer

	now func() time.Time
}

func NewRecordService(
	baseDir string,
	factory StoreFactory,
	debounce time.Duration,
	logger *zap.Logger,
) (*RecordService, error) {
	if baseDir == "" {
		return nil, errors.New("service: required base dir")
	}
	if factory == nil {
		return nil, errors.New("service: required store factory")
	}
	if debounce <= 0 {
		debounce = DefaultNotifyDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordService{
		baseDir:  baseDir,
		factory:  factory,
		debounce: debounce,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Configure switches the active destination: resets in-memory state,
// then loads the persisted state of the given key from its dedicated
// subdirectory (created if absent). Safe to call repeatedly; a nil key
// leaves the service empty and non-persisting.
func (s *RecordService) Configure(ctx context.Context, destinationKey *string) error {
	const op = "service.RecordService.Configure"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		// Drain the previous destination's queued I/O before the swap,
		// so no write can land after another destination is active.
		if err := s.store.Flush(ctx); err != nil {
			s.logger.Warn("flush on destination switch failed",
				zap.String("destination", s.destKey),
				zap.Error(err),
			)
		}
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close on destination switch failed",
				zap.String("destination", s.destKey),
				zap.Error(err),
			)
		}
		s.store = nil
		s.destKey = ""
	}

	if destinationKey == nil || *destinationKey == "" {
		s.scheduleNotify()
		return nil
	}

	dir := filepath.Join(s.baseDir, sanitizeKey(*destinationKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.NewDestinationError("cant create store dir", err, op)
	}
	st, err := s.factory(dir)
	if err != nil {
		return internalError(op, "create store", err)
	}
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		return internalError(op, "load store", err)
	}

	s.store = st
	s.destKey = *destinationKey
	s.scheduleNotify()
	return nil
}

func (s *RecordService) DestinationKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destKey
}

// MarkInProgress upserts the record with status inProgress and the
// bucket fields set. Does not clear lastError.
func (s *RecordService) MarkInProgress(
	ctx context.Context,
	id string,
	year, month int,
	relPath, filename string,
) error {
	const op = "service.RecordService.MarkInProgress"
	if err := validateBucket(op, year, month); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}

	rec, ok := s.store.Get(id)
	if !ok {
		rec = core.NewRecord(id, year, month)
	}
	rec.Year = year
	rec.Month = month
	rec.RelPath = relPath
	if filename != "" {
		rec.Filename = filename
	}
	rec.Status = core.RecordStatusInProgress

	if err := s.store.Upsert(ctx, rec); err != nil {
		return internalError(op, "upsert record", err)
	}
	s.scheduleNotify()
	return nil
}

// MarkExported upserts the record to done, stamps the export date and
// clears lastError.
func (s *RecordService) MarkExported(
	ctx context.Context,
	id string,
	year, month int,
	relPath, filename string,
	exportedAt time.Time,
) error {
	const op = "service.RecordService.MarkExported"
	if err := validateBucket(op, year, month); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}

	rec, ok := s.store.Get(id)
	if !ok {
		rec = core.NewRecord(id, year, month)
	}
	rec.Year = year
	rec.Month = month
	rec.RelPath = relPath
	rec.Filename = filename
	rec.Status = core.RecordStatusDone
	rec.ExportDate = &exportedAt
	rec.LastError = ""

	if err := s.store.Upsert(ctx, rec); err != nil {
		return internalError(op, "upsert record", err)
	}
	s.scheduleNotify()
	return nil
}

// MarkFailed upserts the record to failed with the reason. A failure
// before bucket resolution still gets recorded, under the sentinel
// (0,0) bucket, so the caller can see it even though it cannot count
// toward any month.
func (s *RecordService) MarkFailed(
	ctx context.Context,
	id string,
	why string,
	at time.Time,
) error {
	const op = "service.RecordService.MarkFailed"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}

	rec, ok := s.store.Get(id)
	if !ok {
		rec = &core.ExportRecord{ID: id}
	}
	rec.Status = core.RecordStatusFailed
	rec.LastError = truncateReason(why)
	rec.ExportDate = &at

	if err := s.store.Upsert(ctx, rec); err != nil {
		return internalError(op, "upsert record", err)
	}
	s.scheduleNotify()
	return nil
}

func (s *RecordService) Remove(ctx context.Context, id string) error {
	const op = "service.RecordService.Remove"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return internalError(op, "delete record", err)
	}
	s.scheduleNotify()
	return nil
}

// IsExported is true iff the record exists and its status is done.
func (s *RecordService) IsExported(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return false
	}
	rec, ok := s.store.Get(id)
	return ok && rec.IsDone()
}

func (s *RecordService) ExportInfo(id string) (*core.ExportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, false
	}
	return s.store.Get(id)
}

func (s *RecordService) Records() []*core.ExportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	return s.store.Records()
}

// MonthSummary reports bucket progress given the library's total item
// count for the bucket.
func (s *RecordService) MonthSummary(year, month, totalItemsInBucket int) core.MonthSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exported := 0
	if s.store != nil {
		exported = s.store.DoneCount(year, month)
	}
	return core.NewMonthSummary(exported, totalItemsInBucket)
}

// Flush blocks until all previously queued background I/O has
// completed. Barrier for shutdown and deterministic testing.
func (s *RecordService) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	return s.store.Flush(ctx)
}

func (s *RecordService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	s.destKey = ""
	return err
}

// Subscribe registers a change observer. Signals are coalesced to at
// most one per debounce window.
func (s *RecordService) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.notifyMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.notifyMu.Unlock()
}

func (s *RecordService) scheduleNotify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.timer != nil {
		// A signal is already pending for this window.
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.fireNotify)
}

func (s *RecordService) fireNotify() {
	s.notifyMu.Lock()
	s.timer = nil
	subs := make([]func(), len(s.subscribers))
	copy(subs, s.subscribers)
	s.notifyMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func validateBucket(op string, year, month int) error {
	if year <= 0 {
		return validationError(op, "year should be > 0")
	}
	if month < 1 || month > 12 {
		return validationError(op, "month should be in [1,12]")
	}
	return nil
}

func truncateReason(why string) string {
	why = strings.TrimSpace(why)
	if len(why) > 256 {
		return why[:256]
	}
	return why
}

// sanitizeKey maps a destination key to a safe directory name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

func validationError(op, msg string) error {
	return core.NewAppErrorBuilder(core.ErrorCodeValidation).
		Message(msg).
		SafeToShow(true).
		Oper(op).
		Build()
}

func internalError(op, msg string, err error) error {
	return core.NewAppErrorBuilder(core.ErrorCodeInternal).
		Message(msg).
		Err(err).
		SafeToShow(false).
		Oper(op).
		Build()
}
