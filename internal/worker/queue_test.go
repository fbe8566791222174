package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	mu      sync.Mutex
	handled []Job

	started chan string
	release chan struct{}
	err     error
}

func (h *stubHandler) Handle(ctx context.Context, job Job) error {
	if h.started != nil {
		h.started <- job.ItemID
	}
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
			h.record(job)
			return ctx.Err()
		}
	}
	h.record(job)
	return h.err
}

func (h *stubHandler) record(job Job) {
	h.mu.Lock()
	h.handled = append(h.handled, job)
	h.mu.Unlock()
}

func (h *stubHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := make([]string, 0, len(h.handled))
	for _, j := range h.handled {
		res = append(res, j.ItemID)
	}
	return res
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(
		Job{ItemID: "a", Year: 2025, Month: 3},
		Job{ItemID: "b", Year: 2025, Month: 3},
		Job{ItemID: "c", Year: 2025, Month: 4},
	))

	require.Eventually(t, func() bool { return len(handler.ids()) == 3 },
		2*time.Second, 5*time.Millisecond,
	)
	require.Equal(t, []string{"a", "b", "c"}, handler.ids())
}

func TestQueueSingleConcurrency(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{
		started: make(chan string, 4),
		release: make(chan struct{}),
	}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(Job{ItemID: "a"}, Job{ItemID: "b"}))
	require.Equal(t, "a", <-handler.started)

	// b must not start while a is in flight
	select {
	case id := <-handler.started:
		t.Fatalf("second job %q started before first finished", id)
	case <-time.After(50 * time.Millisecond):
	}
	st := q.Status()
	require.Equal(t, 2, st.Depth)
	require.True(t, st.Running)

	close(handler.release)
	require.Equal(t, "b", <-handler.started)
	require.Eventually(t, func() bool { return q.Status().Depth == 0 },
		2*time.Second, 5*time.Millisecond,
	)
}

func TestQueuePauseResume(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	q.Pause()
	require.NoError(t, q.Submit(Job{ItemID: "a"}))

	time.Sleep(50 * time.Millisecond)
	require.Emptyf(t, handler.ids(), "paused queue should not start jobs")
	st := q.Status()
	require.True(t, st.Paused)
	require.Equal(t, 1, st.Depth)

	q.Resume()
	require.Eventually(t, func() bool { return len(handler.ids()) == 1 },
		2*time.Second, 5*time.Millisecond,
	)
}

func TestQueueClearPendingKeepsInFlight(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{
		started: make(chan string, 4),
		release: make(chan struct{}),
	}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(Job{ItemID: "a"}, Job{ItemID: "b"}))
	require.Equal(t, "a", <-handler.started)

	q.ClearPending()
	close(handler.release)

	require.Eventually(t, func() bool { return q.Status().Depth == 0 },
		2*time.Second, 5*time.Millisecond,
	)
	require.Equalf(t, []string{"a"}, handler.ids(),
		"in-flight job should finish, pending ones should be dropped",
	)
}

func TestQueueCancelAndClear(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{
		started: make(chan string, 4),
		release: make(chan struct{}),
	}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(Job{ItemID: "a"}, Job{ItemID: "b"}))
	require.Equal(t, "a", <-handler.started)

	q.CancelAndClear()

	require.Eventually(t, func() bool { return q.Status().Depth == 0 },
		2*time.Second, 5*time.Millisecond,
	)
	require.Equal(t, []string{"a"}, handler.ids())

	// idempotent with nothing in flight
	q.CancelAndClear()
	q.CancelAndClear()
}

func TestQueueFailuresDontStopDraining(t *testing.T) {
	t.Parallel()
	handler := &stubHandler{err: errors.New("no exportable resource")}
	q, err := NewQueue(handler, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(Job{ItemID: "a"}, Job{ItemID: "b"}))
	require.Eventually(t, func() bool { return len(handler.ids()) == 2 },
		2*time.Second, 5*time.Millisecond,
	)
}

func TestQueueSubmitAfterClose(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(&stubHandler{}, nil, nil)
	require.NoError(t, err)

	q.Close()
	err = q.Submit(Job{ItemID: "a"})
	require.ErrorIs(t, err, ErrQueueClosed)

	// closing twice is fine
	q.Close()
}
