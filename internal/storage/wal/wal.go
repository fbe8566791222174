package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AppendOnlyLog define the min operations for the mutation log.
// Implementations should guarantee ordering and durability
// of appended mutations and be concurrent-safe.
type AppendOnlyLog interface {
	Append(ctx context.Context, muts ...Mutation) error
	Flush(ctx context.Context) error
	Truncate() error
	Close() error
}

type FileLog struct {
	Closed bool

	file *os.File
	wrt  *bufio.Writer

	path string
	mu   sync.Mutex
}

const DefaultBufSize = 64 * 1024
const MaxScanBufSize = 6 * 1024 * 1024

func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("wal: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open file: %w", err)
	}

	return &FileLog{
		wrt:  bufio.NewWriterSize(f, DefaultBufSize),
		file: f,
		path: path,
	}, nil
}

func (fl *FileLog) Append(ctx context.Context, muts ...Mutation) error {
	if len(muts) == 0 || fl.Closed {
		return nil
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for _, m := range muts {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("wal: encode mutation: %w", err)
		}
		if _, err := fl.wrt.Write(data); err != nil {
			return fmt.Errorf("wal: write mutation: %w", err)
		}
		if err := fl.wrt.WriteByte('\n'); err != nil {
			return fmt.Errorf("wal: write mutation: %w", err)
		}
	}
	return nil
}

func (fl *FileLog) Flush(ctx context.Context) error {
	if fl.Closed {
		return nil
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fl.wrt.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Truncate zeroes the log in place. Used after a snapshot has been
// published, so crash recovery replays from the snapshot onward.
func (fl *FileLog) Truncate() error {
	if fl.Closed {
		return errors.New("wal: truncate on closed log")
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := fl.wrt.Flush(); err != nil {
		return fmt.Errorf("wal: flush before truncate: %w", err)
	}
	if err := fl.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := fl.file.Seek(0, 0); err != nil {
		return fmt.Errorf("wal: seek after truncate: %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync after truncate: %w", err)
	}
	fl.wrt = bufio.NewWriterSize(fl.file, DefaultBufSize)
	return nil
}

func (fl *FileLog) Close() error {
	if fl.file == nil || fl.wrt == nil {
		return nil
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	combErr := errors.New("wal: close errors")
	gotErr := false

	if err := fl.wrt.Flush(); err != nil && !errors.Is(err, os.ErrClosed) {
		combErr = fmt.Errorf("%w: flush: %v", combErr, err)
		gotErr = true
	}
	if err := fl.file.Sync(); err != nil {
		combErr = fmt.Errorf("%w: fsync: %v", combErr, err)
		gotErr = true
	}
	if err := fl.file.Close(); err != nil {
		combErr = fmt.Errorf("%w: close: %v", combErr, err)
		gotErr = true
	}
	fl.wrt = nil
	fl.file = nil
	fl.Closed = true
	if !gotErr {
		return nil
	}
	return combErr
}

func (fl *FileLog) Path() string {
	return fl.path
}

// ReadAll replays the log at path in file order. A line that fails to
// parse is skipped and counted, never fatal: corruption of one entry
// must not lose the rest of the log. Returns the mutations and the
// number of skipped lines.
func ReadAll(ctx context.Context, path string) ([]Mutation, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("wal: readall open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, DefaultBufSize)
	sc.Buffer(buf, MaxScanBufSize)
	muts := make([]Mutation, 0, 256)
	skipped := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		bytes := sc.Bytes()
		if len(bytes) == 0 {
			continue
		}

		m := Mutation{}
		if err := json.Unmarshal(bytes, &m); err != nil {
			skipped++
			continue
		}
		if m.Op != OpUpsert && m.Op != OpDelete {
			skipped++
			continue
		}
		muts = append(muts, m)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("wal: scan: %w", err)
	}
	return muts, skipped, nil
}
