package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage/snapshot"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage/wal"
	"go.uber.org/zap"
)

const (
	SnapshotFileName = "export-records.json"
	LogFileName      = "export-records.jsonl"

	DefaultCompactEvery = 1000

	ioQueueSize = 1024
)

type bucketKey struct {
	year  int
	month int
}

type ioTask struct {
	mut     *wal.Mutation
	compact bool
	done    chan struct{}
}

// FileRecordStore keeps the authoritative record map in memory and
// persists every mutation to an append-only JSONL log, compacted into a
// snapshot after every compactEvery successful appends. All disk I/O
// runs on a single serialized background worker, one task at a time, in
// FIFO order; map and done-count index updates happen synchronously on
// the calling goroutine.
type FileRecordStore struct {
	records   map[string]*core.ExportRecord
	doneIndex map[bucketKey]int

	snapshotPath string
	walPath      string
	compactEvery int

	log    wal.AppendOnlyLog
	logger *zap.Logger

	mu sync.RWMutex

	sendMu  sync.Mutex
	closed  bool
	ioQueue chan ioTask
	ioWG    sync.WaitGroup

	// appends counts successful appends since the last compaction.
	// Owned by the I/O worker goroutine.
	appends int

	now func() time.Time
}

// NewFileRecordStore opens (creating if absent) the store files inside
// dir and starts the background I/O worker. Call Load before use.
func NewFileRecordStore(dir string, compactEvery int, logger *zap.Logger) (*FileRecordStore, error) {
	if dir == "" {
		return nil, errors.New("store: required dir")
	}
	if compactEvery <= 0 {
		compactEvery = DefaultCompactEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	walPath := filepath.Join(dir, LogFileName)
	log, err := wal.NewFileLog(walPath)
	if err != nil {
		return nil, err
	}
	st := &FileRecordStore{
		records:      make(map[string]*core.ExportRecord),
		doneIndex:    make(map[bucketKey]int),
		snapshotPath: filepath.Join(dir, SnapshotFileName),
		walPath:      walPath,
		compactEvery: compactEvery,
		log:          log,
		logger:       logger,
		ioQueue:      make(chan ioTask, ioQueueSize),
		now:          time.Now,
	}
	st.ioWG.Add(1)
	go st.ioLoop()
	return st, nil
}

func (st *FileRecordStore) Load(ctx context.Context) error {
	records := make(map[string]*core.ExportRecord)

	ss, err := snapshot.Read(ctx, st.snapshotPath)
	if err != nil {
		return err
	}
	if ss != nil {
		for id, r := range ss.Records {
			if r == nil {
				continue
			}
			records[id] = r.CloneRecord()
		}
	}

	muts, skipped, err := wal.ReadAll(ctx, st.walPath)
	if err != nil {
		return err
	}
	if skipped > 0 {
		st.logger.Warn("skipped corrupt log lines",
			zap.Int("skipped", skipped),
			zap.String("path", st.walPath),
		)
	}
	wal.Apply(records, muts)

	doneIndex := make(map[bucketKey]int)
	for _, r := range records {
		if r.IsDone() {
			doneIndex[bucketKey{r.Year, r.Month}]++
		}
	}

	st.mu.Lock()
	st.records = records
	st.doneIndex = doneIndex
	st.mu.Unlock()
	return nil
}

func (st *FileRecordStore) Upsert(ctx context.Context, rec *core.ExportRecord) error {
	if rec == nil {
		return errors.New("store: required record")
	}
	if rec.ID == "" {
		return errors.New("store: required record id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	clone := rec.CloneRecord()

	st.mu.Lock()
	// Decrement the old bucket before applying the changed record,
	// increment the new bucket after. Keeps the done-count index a pure
	// cache of the map.
	if old, ok := st.records[clone.ID]; ok && old.IsDone() {
		st.decDone(bucketKey{old.Year, old.Month})
	}
	st.records[clone.ID] = clone
	if clone.IsDone() {
		st.doneIndex[bucketKey{clone.Year, clone.Month}]++
	}
	st.mu.Unlock()

	m := wal.NewUpsert(clone, st.now().UTC())
	return st.enqueue(ioTask{mut: &m})
}

func (st *FileRecordStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("store: required record id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.mu.Lock()
	old, ok := st.records[id]
	if !ok {
		st.mu.Unlock()
		return nil
	}
	if old.IsDone() {
		st.decDone(bucketKey{old.Year, old.Month})
	}
	delete(st.records, id)
	st.mu.Unlock()

	m := wal.NewDelete(id, st.now().UTC())
	return st.enqueue(ioTask{mut: &m})
}

func (st *FileRecordStore) Get(id string) (*core.ExportRecord, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	r, ok := st.records[id]
	if !ok {
		return nil, false
	}
	return r.CloneRecord(), true
}

func (st *FileRecordStore) Records() []*core.ExportRecord {
	st.mu.RLock()
	res := make([]*core.ExportRecord, 0, len(st.records))
	for _, r := range st.records {
		res = append(res, r.CloneRecord())
	}
	st.mu.RUnlock()
	core.SortRecords(res)
	return res
}

func (st *FileRecordStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.records)
}

func (st *FileRecordStore) DoneCount(year, month int) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.doneIndex[bucketKey{year, month}]
}

// Flush blocks until every task queued before it has been processed.
func (st *FileRecordStore) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := st.enqueue(ioTask{done: done}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Compact forces a snapshot + log truncation out of cycle. The request
// rides the same serialized worker, so it cannot race in-flight appends.
func (st *FileRecordStore) Compact(ctx context.Context) error {
	done := make(chan struct{})
	if err := st.enqueue(ioTask{compact: true, done: done}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (st *FileRecordStore) Close() error {
	st.sendMu.Lock()
	if st.closed {
		st.sendMu.Unlock()
		return nil
	}
	st.closed = true
	close(st.ioQueue)
	st.sendMu.Unlock()

	st.ioWG.Wait()
	return st.log.Close()
}

func (st *FileRecordStore) enqueue(task ioTask) error {
	st.sendMu.Lock()
	defer st.sendMu.Unlock()
	if st.closed {
		return errors.New("store: closed")
	}
	st.ioQueue <- task
	return nil
}

// decDone must be called with st.mu held.
func (st *FileRecordStore) decDone(b bucketKey) {
	st.doneIndex[b]--
	if st.doneIndex[b] <= 0 {
		delete(st.doneIndex, b)
	}
}

func (st *FileRecordStore) ioLoop() {
	defer st.ioWG.Done()
	ctx := context.Background()
	for task := range st.ioQueue {
		if task.mut != nil {
			st.processAppend(ctx, *task.mut)
		}
		if task.compact {
			if err := st.compact(ctx); err != nil {
				st.logger.Error("compaction failed", zap.Error(err))
			} else {
				st.appends = 0
			}
		}
		if task.done != nil {
			close(task.done)
		}
	}
}

func (st *FileRecordStore) processAppend(ctx context.Context, m wal.Mutation) {
	// Log failures never fail the store: it keeps operating in-memory.
	if err := st.log.Append(ctx, m); err != nil {
		st.logger.Error("log append failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	if err := st.log.Flush(ctx); err != nil {
		st.logger.Error("log flush failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	st.appends++
	if st.appends >= st.compactEvery {
		if err := st.compact(ctx); err != nil {
			st.logger.Error("compaction failed", zap.Error(err))
			return
		}
		st.appends = 0
	}
}

func (st *FileRecordStore) compact(ctx context.Context) error {
	st.mu.RLock()
	records := make(map[string]*core.ExportRecord, len(st.records))
	for id, r := range st.records {
		records[id] = r.CloneRecord()
	}
	st.mu.RUnlock()

	ss := &snapshot.Snapshot{
		Version:   snapshot.CurrentVersion,
		Records:   records,
		CreatedAt: st.now().UTC(),
	}
	if err := snapshot.Write(ctx, st.snapshotPath, ss); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := st.log.Truncate(); err != nil {
		return fmt.Errorf("store: reset log: %w", err)
	}
	return nil
}
