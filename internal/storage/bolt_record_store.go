package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const BoltFileName = "export-records.db"

const boltRecordsBucket = "export-records"

// BoltRecordStore is the bbolt-backed RecordStore. Every mutation is
// written through inside a bolt transaction, so there is no mutation
// log or compaction cycle; Flush maps to a db sync.
type BoltRecordStore struct {
	db     *bolt.DB
	logger *zap.Logger

	records   map[string]*core.ExportRecord
	doneIndex map[bucketKey]int
	mu        sync.RWMutex
}

func NewBoltRecordStore(dir string, logger *zap.Logger) (*BoltRecordStore, error) {
	if dir == "" {
		return nil, errors.New("store: required dir")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create bolt dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, BoltFileName), 0o600,
		&bolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, fmt.Errorf("store: opening bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(boltRecordsBucket))
		return berr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: cant init bucket: %w", err)
	}

	return &BoltRecordStore{
		db:        db,
		logger:    logger,
		records:   make(map[string]*core.ExportRecord),
		doneIndex: make(map[bucketKey]int),
	}, nil
}

func (s *BoltRecordStore) Load(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store: bolt not init")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	records := make(map[string]*core.ExportRecord)
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRecordsBucket))
		if b == nil {
			return errors.New("store: bucket miss")
		}
		return b.ForEach(func(_, v []byte) error {
			r := &core.ExportRecord{}
			if err := json.Unmarshal(v, r); err != nil {
				// One corrupt value must not lose the rest.
				s.logger.Warn("skipping corrupt record", zap.Error(err))
				return nil
			}
			records[r.ID] = r
			return nil
		})
	}); err != nil {
		return err
	}

	doneIndex := make(map[bucketKey]int)
	for _, r := range records {
		if r.IsDone() {
			doneIndex[bucketKey{r.Year, r.Month}]++
		}
	}

	s.mu.Lock()
	s.records = records
	s.doneIndex = doneIndex
	s.mu.Unlock()
	return nil
}

func (s *BoltRecordStore) Upsert(ctx context.Context, rec *core.ExportRecord) error {
	if s.db == nil {
		return errors.New("store: bolt not init")
	} else if rec == nil {
		return errors.New("store: required record")
	} else if rec.ID == "" {
		return errors.New("store: required record id")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	clone := rec.CloneRecord()

	s.mu.Lock()
	if old, ok := s.records[clone.ID]; ok && old.IsDone() {
		s.decDone(bucketKey{old.Year, old.Month})
	}
	s.records[clone.ID] = clone
	if clone.IsDone() {
		s.doneIndex[bucketKey{clone.Year, clone.Month}]++
	}
	s.mu.Unlock()

	p, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("store: cant marshal record: %w", err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRecordsBucket))
		if b == nil {
			return errors.New("store: bucket miss")
		}
		return b.Put([]byte(clone.ID), p)
	}); err != nil {
		// Persistence failures keep the store operating in-memory.
		s.logger.Error("bolt put failed", zap.Error(err), zap.String("id", clone.ID))
	}
	return nil
}

func (s *BoltRecordStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("store: bolt not init")
	} else if id == "" {
		return errors.New("store: required record id")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	old, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if old.IsDone() {
		s.decDone(bucketKey{old.Year, old.Month})
	}
	delete(s.records, id)
	s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRecordsBucket))
		if b == nil {
			return errors.New("store: bucket miss")
		}
		return b.Delete([]byte(id))
	}); err != nil {
		s.logger.Error("bolt delete failed", zap.Error(err), zap.String("id", id))
	}
	return nil
}

func (s *BoltRecordStore) Get(id string) (*core.ExportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.CloneRecord(), true
}

func (s *BoltRecordStore) Records() []*core.ExportRecord {
	s.mu.RLock()
	res := make([]*core.ExportRecord, 0, len(s.records))
	for _, r := range s.records {
		res = append(res, r.CloneRecord())
	}
	s.mu.RUnlock()
	core.SortRecords(res)
	return res
}

func (s *BoltRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *BoltRecordStore) DoneCount(year, month int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doneIndex[bucketKey{year, month}]
}

func (s *BoltRecordStore) Flush(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store: bolt not init")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Sync()
}

func (s *BoltRecordStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// decDone must be called with s.mu held.
func (s *BoltRecordStore) decDone(b bucketKey) {
	s.doneIndex[b]--
	if s.doneIndex[b] <= 0 {
		delete(s.doneIndex, b)
	}
}
