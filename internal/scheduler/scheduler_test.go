package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{
		WithPollInterval(10 * time.Millisecond),
		WithBackoffUnit(time.Millisecond),
		WithStopTimeout(2 * time.Second),
	}, opts...)
	s := New(opts...)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitStatus(t *testing.T, s *Scheduler, id string, want Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = s.Status(id)
		return ok && snap.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return snap
}

func TestScheduler_RunsJob(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(2))

	var ran atomic.Bool
	id := s.Submit("simple", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	snap := waitStatus(t, s, id, StatusCompleted)
	assert.True(t, ran.Load())
	assert.Equal(t, "simple", snap.Name)
	assert.Equal(t, DefaultPriority, snap.Priority)
	assert.Equal(t, DefaultMaxRetries, snap.MaxRetries)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestScheduler_PriorityRespected(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	var order []int
	record := func(p int) Func {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}
	var ids []string
	for _, p := range []int{8, 1, 5, 3} {
		ids = append(ids, s.Submit("p", record(p), WithPriority(p)))
	}
	require.NoError(t, s.Start(1))
	for _, id := range ids {
		waitStatus(t, s, id, StatusCompleted)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3, 5, 8}, order)
}

func TestScheduler_RetryTransitions(t *testing.T) {
	var mu sync.Mutex
	seq := make(map[string][]Status)
	s := newTestScheduler(t, WithObserver(func(snap Snapshot) {
		mu.Lock()
		seq[snap.ID] = append(seq[snap.ID], snap.Status)
		mu.Unlock()
	}))
	require.NoError(t, s.Start(2))

	var attempts atomic.Int32
	id := s.Submit("always-fails", func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("boom")
	}, WithMaxRetries(2))

	snap := waitStatus(t, s, id, StatusFailed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, snap.RetryCount)
	assert.Equal(t, "boom", snap.LastError)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{
		StatusPending, StatusRunning, StatusRetrying,
		StatusPending, StatusRunning, StatusRetrying,
		StatusPending, StatusRunning, StatusFailed,
	}, seq[id])
	assert.Equal(t, 1, s.Stats().Failed)
}

func TestScheduler_RetryThenSucceed(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	var attempts atomic.Int32
	id := s.Submit("flaky", func(ctx context.Context) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})
	snap := waitStatus(t, s, id, StatusCompleted)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Empty(t, snap.LastError)
}

func TestScheduler_Backoff(t *testing.T) {
	s := New(WithBackoffUnit(time.Second))
	assert.Equal(t, 2*time.Second, s.backoff(1))
	assert.Equal(t, 4*time.Second, s.backoff(2))
	assert.Equal(t, 8*time.Second, s.backoff(3))
}

func TestScheduler_BackoffCapped(t *testing.T) {
	s := New(WithBackoffUnit(time.Second))
	assert.Equal(t, 65536*time.Second, s.backoff(16))
	assert.Equal(t, MaxBackoff, s.backoff(17))
	for _, n := range []int{34, 40, 63, 64, 100, 1000} {
		d := s.backoff(n)
		assert.Equal(t, MaxBackoff, d, "retry %d", n)
	}

	prev := time.Duration(0)
	for n := 0; n < 80; n++ {
		d := s.backoff(n)
		require.Positive(t, d, "retry %d", n)
		require.GreaterOrEqual(t, d, prev, "retry %d", n)
		prev = d
	}

	huge := New(WithBackoffUnit(MaxBackoff * 2))
	assert.Equal(t, MaxBackoff, huge.backoff(0))
}

func TestScheduler_CancelPending(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	var ran atomic.Bool
	id := s.Submit("later", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, WithDelay(50*time.Millisecond))

	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id), "second cancel")
	_, ok := s.Status(id)
	assert.False(t, ok)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, ran.Load(), "cancelled job must never execute")
	assert.Equal(t, 1, s.Stats().Cancelled)
}

func TestScheduler_CancelQueuedBeforeStart(t *testing.T) {
	s := newTestScheduler(t)
	var ran atomic.Bool
	id := s.Submit("queued", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.True(t, s.Cancel(id))
	require.NoError(t, s.Start(1))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Zero(t, s.Stats().QueueSize)
}

func TestScheduler_CancelRunning(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	release := make(chan struct{})
	id := s.Submit("blocking", func(ctx context.Context) error {
		<-release
		return nil
	})
	waitStatus(t, s, id, StatusRunning)
	assert.False(t, s.Cancel(id))
	assert.False(t, s.Cancel("unknown"))
	close(release)
	waitStatus(t, s, id, StatusCompleted)
}

func TestScheduler_Delay(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	submitted := time.Now()
	var ranAt atomic.Int64
	id := s.Submit("delayed", func(ctx context.Context) error {
		ranAt.Store(time.Now().UnixNano())
		return nil
	}, WithDelay(60*time.Millisecond))

	snap, ok := s.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, snap.Status)

	waitStatus(t, s, id, StatusCompleted)
	assert.GreaterOrEqual(t, time.Duration(ranAt.Load()-submitted.UnixNano()), 60*time.Millisecond)
}

func TestScheduler_PanicIsJobFailure(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	id := s.Submit("panics", func(ctx context.Context) error {
		panic("kaboom")
	}, WithMaxRetries(0))
	snap := waitStatus(t, s, id, StatusFailed)
	assert.Contains(t, snap.LastError, "kaboom")

	// the worker survived
	next := s.Submit("after", func(ctx context.Context) error { return nil })
	waitStatus(t, s, next, StatusCompleted)
}

func TestScheduler_PurgeExpired(t *testing.T) {
	s := newTestScheduler(t, WithRetention(time.Hour))
	require.NoError(t, s.Start(1))

	done := s.Submit("done", func(ctx context.Context) error { return nil })
	waitStatus(t, s, done, StatusCompleted)
	pending := s.Submit("held", func(ctx context.Context) error { return nil }, WithDelay(time.Hour))

	assert.Zero(t, s.purgeExpired(time.Now()))
	assert.Equal(t, 1, s.purgeExpired(time.Now().Add(2*time.Hour)))

	_, ok := s.Status(done)
	assert.False(t, ok, "finished job should be purged after retention")
	_, ok = s.Status(pending)
	assert.True(t, ok, "non-terminal jobs are never purged")
}

func TestScheduler_StopWaitsForRunningJobs(t *testing.T) {
	s := New(WithPollInterval(10*time.Millisecond), WithStopTimeout(2*time.Second))
	require.NoError(t, s.Start(1))

	started := make(chan struct{})
	id := s.Submit("slow", func(ctx context.Context) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	<-started
	require.NoError(t, s.Stop())

	snap, ok := s.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.ErrorIs(t, s.Start(1), ErrStopped)
}

func TestScheduler_StopTimeout(t *testing.T) {
	s := New(WithPollInterval(10*time.Millisecond), WithStopTimeout(50*time.Millisecond))
	require.NoError(t, s.Start(1))

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	s.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start(1))
	assert.ErrorIs(t, s.Start(1), ErrAlreadyStarted)
}

func TestScheduler_Periodic(t *testing.T) {
	var runs atomic.Int32
	s := newTestScheduler(t, WithPeriodic(time.Hour, PeriodicJob{
		Name:     "maintenance",
		Priority: 1,
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.Start(1))

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond,
		"periodic jobs run once at start")
	assert.Equal(t, int32(1), runs.Load())

	s.submitPeriodic()
	require.Eventually(t, func() bool { return s.Stats().Completed == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())

	st := s.Stats()
	assert.Equal(t, 2, st.TotalSubmitted)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, st.Workers)
}

func TestScheduler_AddPeriodic(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	require.NoError(t, s.AddPeriodic(PeriodicJob{Name: "late", Fn: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}}))
	require.NoError(t, s.Start(1))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.AddPeriodic(PeriodicJob{Name: "too-late"}), ErrAlreadyStarted)
}
