package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// waitForEvent drains the channel until an event of the wanted type arrives.
func waitForEvent(t *testing.T, ch <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func okProcessor() Processor {
	return ProcessorFunc(func(ctx context.Context, job *model.Job) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})
}

func TestScheduler_CompletesJob(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindIngest, Payload: []byte(`{"x":1}`)}
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	evt := waitForEvent(t, events, EventJobCompleted, 5*time.Second)
	assert.Equal(t, job.ID, evt.Job.ID)
	assert.Equal(t, 1, evt.Job.Attempts)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, []byte(`{"ok":true}`), stored.Result)
	assert.Equal(t, 1, stored.Attempts)
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{Concurrency: 1, RateLimit: 100, SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	low := &model.Job{Kind: model.JobKindIngest, Priority: 3}
	high := &model.Job{Kind: model.JobKindIngest, Priority: 9}
	require.NoError(t, s.Enqueue(ctx, low))
	require.NoError(t, s.Enqueue(ctx, high))

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	first := waitForEvent(t, events, EventJobStarted, 5*time.Second)
	assert.Equal(t, high.ID, first.Job.ID, "higher priority job must dispatch first")

	second := waitForEvent(t, events, EventJobStarted, 5*time.Second)
	assert.Equal(t, low.ID, second.Job.ID)
}

func TestScheduler_FIFOWithinPriority(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{Concurrency: 1, RateLimit: 100, SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	base := time.Now().UTC()
	first := &model.Job{Kind: model.JobKindIngest, Priority: 5, CreatedAt: base}
	second := &model.Job{Kind: model.JobKindIngest, Priority: 5, CreatedAt: base.Add(time.Millisecond)}
	require.NoError(t, s.Enqueue(ctx, first))
	require.NoError(t, s.Enqueue(ctx, second))

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	evt := waitForEvent(t, events, EventJobStarted, 5*time.Second)
	assert.Equal(t, first.ID, evt.Job.ID)
}

func TestScheduler_RetryThenSucceed(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})

	var calls atomic.Int32
	require.NoError(t, s.Register(model.JobKindIngest, ProcessorFunc(
		func(ctx context.Context, job *model.Job) ([]byte, error) {
			if calls.Add(1) <= 2 {
				return nil, eris.New("transient failure")
			}
			return []byte(`{}`), nil
		},
	)))

	events, cancel := s.Subscribe(64)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindIngest, MaxAttempts: 3}
	require.NoError(t, s.Enqueue(ctx, job))

	begin := time.Now()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	retries := 0
	deadline := time.After(20 * time.Second)
	for {
		var evt Event
		select {
		case evt = <-events:
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		}
		switch evt.Type {
		case EventJobRetry:
			retries++
		case EventJobFailed:
			t.Fatalf("job failed: %v", evt.Err)
		case EventJobCompleted:
			assert.Equal(t, 2, retries, "exactly two retry notifications")
			assert.Equal(t, 3, evt.Job.Attempts)
			// Backoff delays are 2s then 4s.
			assert.GreaterOrEqual(t, time.Since(begin), 6*time.Second)

			stored, err := st.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusCompleted, stored.Status)
			assert.Equal(t, 3, stored.Attempts)
			return
		}
	}
}

func TestScheduler_ExhaustedAttemptsFail(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, ProcessorFunc(
		func(ctx context.Context, job *model.Job) ([]byte, error) {
			return nil, eris.New("permanent failure")
		},
	)))

	events, cancel := s.Subscribe(64)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindIngest, MaxAttempts: 2}
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	evt := waitForEvent(t, events, EventJobFailed, 20*time.Second)
	assert.Equal(t, evt.Job.MaxAttempts, evt.Job.Attempts)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Contains(t, stored.Error, "permanent failure")

	stats := s.Stats()
	assert.Equal(t, 1, stats.Failed)
}

func TestScheduler_UnregisteredKindFailsJob(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindEnrich}
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	evt := waitForEvent(t, events, EventJobFailed, 5*time.Second)
	require.Error(t, evt.Err)
	assert.Contains(t, evt.Err.Error(), "no processor registered")

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
}

func TestScheduler_PauseResume(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})

	var started atomic.Int32
	require.NoError(t, s.Register(model.JobKindIngest, ProcessorFunc(
		func(ctx context.Context, job *model.Job) ([]byte, error) {
			started.Add(1)
			return nil, nil
		},
	)))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	s.Pause()
	waitForEvent(t, events, EventQueuePaused, time.Second)

	require.NoError(t, s.Enqueue(ctx, &model.Job{Kind: model.JobKindIngest}))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), started.Load(), "paused queue must not dispatch")

	s.Resume()
	waitForEvent(t, events, EventJobCompleted, 5*time.Second)
	assert.Equal(t, int32(1), started.Load())
}

func TestScheduler_Clear(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, &model.Job{Kind: model.JobKindIngest}))
	require.NoError(t, s.Enqueue(ctx, &model.Job{Kind: model.JobKindIngest}))

	dropped := s.Clear()
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestScheduler_CancelPendingJob(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindIngest}
	require.NoError(t, s.Enqueue(ctx, job))

	require.NoError(t, s.Cancel(ctx, job.ID))
	evt := waitForEvent(t, events, EventJobCancelled, time.Second)
	assert.Equal(t, job.ID, evt.Job.ID)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, stored.Status)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestScheduler_StaleSweepRequeuesOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A job another worker abandoned: processing, started 20 minutes ago.
	job := &model.Job{Kind: model.JobKindIngest, Priority: 7}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.MarkProcessing(ctx, job.ID, time.Now().Add(-20*time.Minute)))

	s := New(st, Config{SweepInterval: 50 * time.Millisecond, StaleTimeout: 10 * time.Minute})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(64)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	stale := waitForEvent(t, events, EventJobStale, 5*time.Second)
	assert.Equal(t, job.ID, stale.Job.ID)
	assert.Equal(t, 7, stale.Job.Priority)

	done := waitForEvent(t, events, EventJobCompleted, 5*time.Second)
	assert.Equal(t, job.ID, done.Job.ID)

	// Further sweep cycles must not touch the now-completed job.
	time.Sleep(200 * time.Millisecond)
	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
}

func TestScheduler_StaleSweepFailsExhaustedJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// An abandoned job already on its final attempt: re-dispatching it would
	// push attempts past the maximum.
	job := &model.Job{Kind: model.JobKindIngest, Attempts: 2, MaxAttempts: 3}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.MarkProcessing(ctx, job.ID, time.Now().Add(-20*time.Minute)))

	s := New(st, Config{SweepInterval: 50 * time.Millisecond, StaleTimeout: 10 * time.Minute})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(64)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	evt := waitForEvent(t, events, EventJobFailed, 5*time.Second)
	assert.Equal(t, job.ID, evt.Job.ID)
	assert.Equal(t, evt.Job.MaxAttempts, evt.Job.Attempts)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts)
	assert.Contains(t, stored.Error, "stale after final attempt")
	assert.Equal(t, 1, s.Stats().Failed)
}

// cancelFailStore injects failures into CancelJob.
type cancelFailStore struct {
	store.Store
	failCancel atomic.Bool
}

func (s *cancelFailStore) CancelJob(ctx context.Context, id string) error {
	if s.failCancel.Load() {
		return eris.New("connection reset")
	}
	return s.Store.CancelJob(ctx, id)
}

func TestScheduler_CancelStoreFailureKeepsOutcome(t *testing.T) {
	st := &cancelFailStore{Store: newTestStore(t)}
	s := New(st, Config{SweepInterval: time.Hour})

	release := make(chan struct{})
	require.NoError(t, s.Register(model.JobKindIngest, ProcessorFunc(
		func(ctx context.Context, job *model.Job) ([]byte, error) {
			<-release
			return []byte(`{}`), nil
		},
	)))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	job := &model.Job{Kind: model.JobKindIngest}
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	waitForEvent(t, events, EventJobStarted, 5*time.Second)

	st.failCancel.Store(true)
	require.Error(t, s.Cancel(ctx, job.ID))

	// The cancellation never persisted, so the job's outcome must survive.
	close(release)
	done := waitForEvent(t, events, EventJobCompleted, 5*time.Second)
	assert.Equal(t, job.ID, done.Job.ID)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, s.Stats().Completed)
}

func TestScheduler_RateLimitSpacesDispatches(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{
		Concurrency:   5,
		RateLimit:     2,
		RateWindow:    500 * time.Millisecond,
		SweepInterval: time.Hour,
	})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(64)
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Enqueue(ctx, &model.Job{Kind: model.JobKindIngest}))
	}

	begin := time.Now()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	for i := 0; i < 4; i++ {
		waitForEvent(t, events, EventJobCompleted, 10*time.Second)
	}
	// 2 dispatches per 500ms window: 4 jobs cannot all start immediately.
	assert.GreaterOrEqual(t, time.Since(begin), 300*time.Millisecond)
}

func TestScheduler_StatsCounters(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	events, cancel := s.Subscribe(32)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, &model.Job{Kind: model.JobKindIngest}))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	waitForEvent(t, events, EventJobCompleted, 5*time.Second)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Size)
}

func TestScheduler_RegisterAfterStart(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})
	require.NoError(t, s.Register(model.JobKindIngest, okProcessor()))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err := s.Register(model.JobKindEnrich, okProcessor())
	require.Error(t, err)
}

func TestScheduler_EnqueueInvalidKind(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})

	err := s.Enqueue(context.Background(), &model.Job{Kind: "bogus"})
	require.Error(t, err)
}

func TestScheduler_SubscribeCancelClosesChannel(t *testing.T) {
	st := newTestStore(t)
	s := New(st, Config{SweepInterval: time.Hour})

	events, cancel := s.Subscribe(4)
	cancel()

	_, ok := <-events
	assert.False(t, ok)
}
