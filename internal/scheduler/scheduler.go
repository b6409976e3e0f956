// Package scheduler runs the asynchronous job queue: a priority heap of
// pending jobs dispatched to a bounded worker pool behind a rate limiter,
// with retry backoff and a sweep that rescues orphaned processing jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/store"
)

// Processor executes one job kind. Implementations return the result payload
// to persist on success.
type Processor interface {
	Execute(ctx context.Context, job *model.Job) ([]byte, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *model.Job) ([]byte, error)

func (f ProcessorFunc) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	return f(ctx, job)
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// RateLimit is the maximum dispatches per RateWindow.
	RateLimit int `yaml:"rate_limit" mapstructure:"rate_limit"`
	// RateWindow is the rate limiter window.
	RateWindow time.Duration `yaml:"rate_window" mapstructure:"rate_window"`
	// SweepInterval is how often the stale sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// StaleTimeout is how long a job may sit in processing before the sweep
	// returns it to pending.
	StaleTimeout time.Duration `yaml:"stale_timeout" mapstructure:"stale_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 2
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 10 * time.Minute
	}
}

// Scheduler owns the job queue for one process. Create one with New, register
// processors, then Start it. The store remains the source of truth for job
// status; the heap and active set are in-memory dispatch state only.
type Scheduler struct {
	store store.JobStore
	cfg   Config

	mu         sync.Mutex
	queue      *jobHeap
	active     map[string]*model.Job
	cancelled  map[string]bool
	processors map[model.JobKind]Processor
	paused     bool
	started    bool
	completed  int
	failed     int

	limiter *rate.Limiter
	events  *broadcaster
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New creates a Scheduler backed by the given job store.
func New(st store.JobStore, cfg Config) *Scheduler {
	cfg.applyDefaults()

	perSecond := float64(cfg.RateLimit) / cfg.RateWindow.Seconds()
	return &Scheduler{
		store:      st,
		cfg:        cfg,
		queue:      newJobHeap(),
		active:     make(map[string]*model.Job),
		cancelled:  make(map[string]bool),
		processors: make(map[model.JobKind]Processor),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimit),
		events:     newBroadcaster(),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		timers:     make(map[string]*time.Timer),
	}
}

// Register binds a processor to a job kind. Must be called before Start.
func (s *Scheduler) Register(kind model.JobKind, p Processor) error {
	if !kind.Valid() {
		return eris.Errorf("scheduler: invalid job kind %q", kind)
	}
	if p == nil {
		return eris.Errorf("scheduler: nil processor for kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return eris.New("scheduler: cannot register processors after start")
	}
	s.processors[kind] = p
	return nil
}

// Subscribe returns a channel of scheduler events and a cancel func that
// releases the subscription. Slow subscribers drop events once their buffer
// fills.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Enqueue persists a job and queues it for dispatch. The job's ID, status and
// attempt limits are filled in if unset.
func (s *Scheduler) Enqueue(ctx context.Context, job *model.Job) error {
	if !job.Kind.Valid() {
		return eris.Errorf("scheduler: invalid job kind %q", job.Kind)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return eris.Wrap(err, "scheduler: enqueue")
	}

	queued := *job
	s.mu.Lock()
	s.queue.push(&queued)
	s.mu.Unlock()

	s.events.emit(Event{Type: EventJobAdded, Job: snapshot(job)})
	s.signal()
	return nil
}

// Start loads pending jobs from the store and begins dispatching. It returns
// once the dispatch and sweep loops are running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return eris.New("scheduler: already started")
	}
	s.started = true
	s.mu.Unlock()

	pending, err := s.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusPending,
		Limit:  10000,
	})
	if err != nil {
		return eris.Wrap(err, "scheduler: load pending jobs")
	}

	s.mu.Lock()
	for i := range pending {
		job := pending[i]
		if _, dup := s.queue.index[job.ID]; dup {
			continue
		}
		s.queue.push(&job)
	}
	queued := s.queue.Len()
	s.mu.Unlock()

	zap.L().Info("scheduler started",
		zap.Int("pending", queued),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Int("rate_limit", s.cfg.RateLimit),
	)

	s.wg.Add(2)
	go s.dispatchLoop(ctx)
	go s.sweepLoop(ctx)
	s.signal()
	return nil
}

// Stop halts dispatch, cancels pending retry timers and waits for in-flight
// jobs to finish. The scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)

	s.timerMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timerMu.Unlock()

	s.wg.Wait()
	s.events.close()
	zap.L().Info("scheduler stopped")
}

// Pause stops new dispatches. Running jobs continue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.events.emit(Event{Type: EventQueuePaused})
}

// Resume re-enables dispatch.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.events.emit(Event{Type: EventQueueResumed})
	s.signal()
}

// Clear drops every undispatched job from the queue and forgets the active
// cache. In-flight handlers keep running; their jobs are no longer tracked.
// Returns the number of queued jobs dropped.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	dropped := s.queue.clear()
	s.active = make(map[string]*model.Job)
	s.mu.Unlock()

	s.events.emit(Event{Type: EventQueueCleared})
	return dropped
}

// Cancel marks a pending or processing job cancelled. A handler already
// executing the job is not interrupted, but its outcome is discarded.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if job := s.queue.remove(id); job != nil {
		s.mu.Unlock()
		if err := s.store.CancelJob(ctx, id); err != nil {
			return eris.Wrapf(err, "scheduler: cancel %s", id)
		}
		job.Status = model.JobStatusCancelled
		s.events.emit(Event{Type: EventJobCancelled, Job: snapshot(job)})
		return nil
	}
	if job, running := s.active[id]; running {
		s.cancelled[id] = true
		s.mu.Unlock()
		if err := s.store.CancelJob(ctx, id); err != nil {
			// The cancellation was never persisted, so the job's outcome
			// must not be discarded.
			s.mu.Lock()
			delete(s.cancelled, id)
			s.mu.Unlock()
			return eris.Wrapf(err, "scheduler: cancel %s", id)
		}
		s.events.emit(Event{Type: EventJobCancelled, Job: snapshot(job)})
		return nil
	}
	s.mu.Unlock()

	// Not held locally; the store may still know it.
	return eris.Wrapf(s.store.CancelJob(ctx, id), "scheduler: cancel %s", id)
}

// Stats reports queue counters. Completed and Failed count outcomes since the
// scheduler was created.
func (s *Scheduler) Stats() model.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.QueueStats{
		Pending:   s.queue.Len(),
		Active:    len(s.active),
		Completed: s.completed,
		Failed:    s.failed,
		Size:      s.queue.Len() + len(s.active),
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	slots := make(chan struct{}, s.cfg.Concurrency)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for s.dispatchable() {
			select {
			case slots <- struct{}{}:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}

			if err := s.limiter.Wait(ctx); err != nil {
				<-slots
				return
			}

			s.mu.Lock()
			if s.paused || s.queue.Len() == 0 {
				s.mu.Unlock()
				<-slots
				break
			}
			job := s.queue.pop()
			s.active[job.ID] = job
			s.mu.Unlock()

			s.wg.Add(1)
			go func(job *model.Job) {
				defer s.wg.Done()
				defer func() {
					<-slots
					s.signal()
				}()
				s.run(ctx, job)
			}(job)
		}
	}
}

func (s *Scheduler) dispatchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paused && s.queue.Len() > 0
}

func (s *Scheduler) run(ctx context.Context, job *model.Job) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempts+1),
	)

	proc, ok := s.processorFor(job.Kind)
	if !ok {
		err := eris.Errorf("scheduler: no processor registered for kind %q", job.Kind)
		log.Error("dispatch failed", zap.Error(err))
		s.finish(ctx, job, nil, err, true)
		return
	}

	// Attempts count dispatches, so the counter moves before the handler runs.
	job.Attempts++
	startedAt := time.Now().UTC()
	if err := s.store.MarkProcessing(ctx, job.ID, startedAt); err != nil {
		log.Error("mark processing failed", zap.Error(err))
		s.events.emit(Event{Type: EventQueueError, Job: snapshot(job), Err: err})
		s.finish(ctx, job, nil, err, false)
		return
	}
	job.Status = model.JobStatusProcessing
	job.StartedAt = &startedAt
	s.events.emit(Event{Type: EventJobStarted, Job: snapshot(job)})

	result, err := proc.Execute(ctx, job)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
	}
	s.finish(ctx, job, result, err, false)
}

// finish settles a job after execution. terminal forces a permanent failure
// regardless of remaining attempts.
func (s *Scheduler) finish(ctx context.Context, job *model.Job, result []byte, execErr error, terminal bool) {
	defer s.maybeEmitIdle()

	s.mu.Lock()
	wasCancelled := s.cancelled[job.ID]
	delete(s.cancelled, job.ID)
	delete(s.active, job.ID)
	s.mu.Unlock()

	if wasCancelled {
		// Status was already persisted by Cancel; the result is dropped.
		return
	}

	if execErr == nil {
		if err := s.store.CompleteJob(ctx, job.ID, result); err != nil {
			s.events.emit(Event{Type: EventQueueError, Job: snapshot(job), Err: err})
			return
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusCompleted
		job.Result = result
		job.CompletedAt = &now

		s.mu.Lock()
		s.completed++
		s.mu.Unlock()
		s.events.emit(Event{Type: EventJobCompleted, Job: snapshot(job)})
		return
	}

	job.Error = execErr.Error()

	if !terminal && job.Attempts < job.MaxAttempts {
		if err := s.store.RescheduleJob(ctx, job.ID, job.Attempts, job.Error); err != nil {
			s.events.emit(Event{Type: EventQueueError, Job: snapshot(job), Err: err})
			return
		}
		job.Status = model.JobStatusPending
		job.StartedAt = nil
		s.events.emit(Event{Type: EventJobRetry, Job: snapshot(job), Err: execErr})
		s.scheduleRetry(job)
		return
	}

	if err := s.store.FailJob(ctx, job.ID, job.Attempts, job.Error); err != nil {
		s.events.emit(Event{Type: EventQueueError, Job: snapshot(job), Err: err})
		return
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.events.emit(Event{Type: EventJobFailed, Job: snapshot(job), Err: execErr})
}

// scheduleRetry re-enqueues a failed job after an exponential delay of
// 2^attempts seconds. The delay runs on a timer so no worker slot is held.
func (s *Scheduler) scheduleRetry(job *model.Job) {
	delay := time.Duration(1<<uint(job.Attempts)) * time.Second

	s.timerMu.Lock()
	s.timers[job.ID] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, job.ID)
		s.timerMu.Unlock()

		s.mu.Lock()
		if !s.started {
			s.mu.Unlock()
			return
		}
		s.queue.push(job)
		s.mu.Unlock()
		s.signal()
	})
	s.timerMu.Unlock()

	zap.L().Debug("retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay),
	)
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStale(ctx)
		}
	}
}

// sweepStale returns orphaned processing jobs to pending and re-enqueues them
// at their original priority. Jobs actively running in this process are left
// alone.
func (s *Scheduler) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StaleTimeout)
	stale, err := s.store.StaleProcessingJobs(ctx, cutoff)
	if err != nil {
		zap.L().Error("stale sweep query failed", zap.Error(err))
		s.events.emit(Event{Type: EventQueueError, Err: err})
		return
	}

	for i := range stale {
		job := stale[i]

		s.mu.Lock()
		_, running := s.active[job.ID]
		s.mu.Unlock()
		if running {
			continue
		}

		// A stale job already on its last attempt has no budget left for a
		// re-dispatch, which would push attempts past the maximum.
		if job.Attempts >= job.MaxAttempts {
			reason := "stale after final attempt: processing exceeded " + s.cfg.StaleTimeout.String()
			if err := s.store.FailJob(ctx, job.ID, job.Attempts, reason); err != nil {
				zap.L().Error("stale fail failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			job.Status = model.JobStatusFailed
			job.Error = reason

			s.mu.Lock()
			s.failed++
			s.mu.Unlock()

			zap.L().Warn("stale job failed", zap.String("job_id", job.ID))
			s.events.emit(Event{Type: EventJobFailed, Job: snapshot(&job), Err: eris.New(reason)})
			continue
		}

		reason := "reset by stale sweep: processing exceeded " + s.cfg.StaleTimeout.String()
		if err := s.store.ResetStaleJob(ctx, job.ID, reason); err != nil {
			zap.L().Error("stale reset failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		job.Status = model.JobStatusPending
		job.StartedAt = nil
		job.Error = reason

		s.mu.Lock()
		s.queue.push(&job)
		s.mu.Unlock()

		zap.L().Warn("stale job requeued", zap.String("job_id", job.ID))
		s.events.emit(Event{Type: EventJobStale, Job: snapshot(&job)})
	}
	if len(stale) > 0 {
		s.signal()
	}
}

// maybeEmitIdle fires queue:idle when nothing is queued or running.
func (s *Scheduler) maybeEmitIdle() {
	s.mu.Lock()
	idle := s.started && s.queue.Len() == 0 && len(s.active) == 0
	s.mu.Unlock()
	if idle {
		s.events.emit(Event{Type: EventQueueIdle})
	}
}

func (s *Scheduler) processorFor(kind model.JobKind) (Processor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processors[kind]
	return p, ok
}

func snapshot(job *model.Job) *model.Job {
	cp := *job
	return &cp
}
