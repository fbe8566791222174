package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/metrics"
	"go.uber.org/zap"
)

// Job is one pending item export, filed under its (year, month) bucket.
type Job struct {
	ItemID string
	Year   int
	Month  int
}

// Handler handles jobs.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// QueueStatus is the observable queue state for progress UI.
type QueueStatus struct {
	// Depth counts pending jobs plus one if a job is in flight.
	Depth   int
	Running bool
	Paused  bool
}

var ErrQueueClosed = errors.New("worker: queue closed")

// Queue runs export jobs strictly one at a time, in FIFO submit order.
// Single concurrency is deliberate: it keeps ordering trivially correct
// and avoids concurrent writes against one destination folder.
type Queue struct {
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Job

	inFlight       bool
	cancelInFlight context.CancelFunc

	paused bool
	closed bool

	wg sync.WaitGroup
}

func NewQueue(handler Handler, logger *zap.Logger, collector *metrics.Collector) (*Queue, error) {
	if handler == nil {
		return nil, errors.New("worker: required handler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		handler: handler,
		logger:  logger,
		metrics: collector,
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Submit appends jobs to the tail of the pending list, preserving the
// given order.
func (q *Queue) Submit(jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, jobs...)
	q.metrics.SetQueueDepth(q.depthLocked())
	q.cond.Signal()
	return nil
}

// Pause stops starting new jobs after the current one finishes.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts draining.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Signal()
	q.mu.Unlock()
}

// ClearPending drops the not-yet-started jobs, leaving an in-flight job
// to finish.
func (q *Queue) ClearPending() {
	q.mu.Lock()
	q.pending = nil
	q.metrics.SetQueueDepth(q.depthLocked())
	q.mu.Unlock()
}

// CancelAndClear abandons the queue immediately: clears all pending
// jobs and requests cancellation of any in-flight job. Idempotent and
// safe with no job in flight.
func (q *Queue) CancelAndClear() {
	q.mu.Lock()
	q.pending = nil
	if q.cancelInFlight != nil {
		q.cancelInFlight()
	}
	q.metrics.SetQueueDepth(q.depthLocked())
	q.mu.Unlock()
}

func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Depth:   q.depthLocked(),
		Running: q.inFlight || len(q.pending) > 0,
		Paused:  q.paused,
	}
}

// Close stops the queue: cancels any in-flight job and waits for the
// drain goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	if q.cancelInFlight != nil {
		q.cancelInFlight()
	}
	q.cond.Signal()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for !q.closed && (q.paused || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.inFlight = true
		q.cancelInFlight = cancel
		q.metrics.SetQueueDepth(q.depthLocked())
		q.mu.Unlock()

		err := q.handler.Handle(ctx, job)
		cancel()

		q.mu.Lock()
		q.inFlight = false
		q.cancelInFlight = nil
		q.metrics.SetQueueDepth(q.depthLocked())
		q.mu.Unlock()

		// A job failure never blocks the rest of the batch.
		if err != nil {
			q.logger.Warn("export job failed",
				zap.String("item_id", job.ItemID),
				zap.Int("year", job.Year),
				zap.Int("month", job.Month),
				zap.Error(err),
			)
		}
	}
}

// depthLocked must be called with q.mu held.
func (q *Queue) depthLocked() int {
	d := len(q.pending)
	if q.inFlight {
		d++
	}
	return d
}
