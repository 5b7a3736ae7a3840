// Package scheduler runs background jobs on a fixed worker pool with priorities,
// delayed submission, bounded retries with exponential backoff, and periodic
// maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("scheduler stopped")
	// ErrStopTimeout is returned by Stop when in-flight jobs outlive the stop timeout.
	ErrStopTimeout = errors.New("timed out waiting for running jobs")
)

const (
	DefaultPollInterval     = time.Second
	DefaultBackoffUnit      = time.Second
	DefaultRetention        = time.Hour
	DefaultStopTimeout      = 30 * time.Second
	DefaultPeriodicInterval = 5 * time.Minute
	DefaultPurgeInterval    = time.Minute
	DefaultWorkers          = 3
)

// MaxBackoff caps the retry delay however many retries a job allows.
const MaxBackoff = 24 * time.Hour

// Stats summarizes the scheduler's jobs and workers.
type Stats struct {
	TotalSubmitted int `json:"total_submitted"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	ActiveWorkers  int `json:"active_workers"`
	Workers        int `json:"workers"`
	QueueSize      int `json:"queue_size"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Retrying       int `json:"retrying"`
	Retained       int `json:"retained"`
}

// Scheduler is a priority job queue executed by a fixed pool of workers. Submit
// never blocks. One lock guards the job map and the queue.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	queue    jobQueue
	stats    Stats
	started  bool
	stopped  bool
	observer func(Snapshot)

	wake     chan struct{}
	dispatch chan *job
	quit     chan struct{}
	workers  sync.WaitGroup
	loops    sync.WaitGroup

	pollInterval     time.Duration
	backoffUnit      time.Duration
	retention        time.Duration
	stopTimeout      time.Duration
	purgeInterval    time.Duration
	periodicInterval time.Duration
	periodic         []PeriodicJob
	logger           *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollInterval bounds how long an idle worker waits before re-checking the queue.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBackoffUnit sets the base of the retry delay 2^retryCount * unit.
func WithBackoffUnit(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoffUnit = d
		}
	}
}

// WithRetention sets how long completed and failed jobs stay queryable.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for running jobs.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithPurgeInterval sets how often expired terminal jobs are dropped.
func WithPurgeInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.purgeInterval = d
		}
	}
}

// WithObserver registers fn to receive every job status transition in order. fn runs
// with the scheduler lock held and must not call back into the Scheduler.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithPeriodic submits jobs when the scheduler starts and again every interval.
func WithPeriodic(interval time.Duration, jobs ...PeriodicJob) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.periodicInterval = interval
		}
		s.periodic = append(s.periodic, jobs...)
	}
}

// AddPeriodic registers more periodic jobs. It must be called before Start.
func (s *Scheduler) AddPeriodic(jobs ...PeriodicJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return ErrAlreadyStarted
	}
	s.periodic = append(s.periodic, jobs...)
	return nil
}

// New creates a stopped scheduler. Jobs may be submitted before Start; they run once
// workers are started.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:             make(map[string]*job),
		wake:             make(chan struct{}, 1),
		dispatch:         make(chan *job),
		quit:             make(chan struct{}),
		pollInterval:     DefaultPollInterval,
		backoffUnit:      DefaultBackoffUnit,
		retention:        DefaultRetention,
		stopTimeout:      DefaultStopTimeout,
		purgeInterval:    DefaultPurgeInterval,
		periodicInterval: DefaultPeriodicInterval,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit registers fn and returns its job id immediately. Without a delay the job is
// queued at once; with one it is queued when the delay elapses.
func (s *Scheduler) Submit(name string, fn Func, opts ...SubmitOption) string {
	j := &job{
		id:         uuid.NewString(),
		name:       name,
		priority:   DefaultPriority,
		maxRetries: DefaultMaxRetries,
		status:     StatusPending,
		fn:         fn,
		createdAt:  time.Now(),
		index:      -1,
	}
	for _, opt := range opts {
		opt(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.id] = j
	s.stats.TotalSubmitted++
	s.notify(j)
	if s.stopped {
		s.logger.Warn("job submitted to stopped scheduler", zap.String("job", name), zap.String("id", j.id))
		return j.id
	}
	if j.delay > 0 {
		s.holdLocked(j, j.delay)
	} else {
		s.enqueueLocked(j)
	}
	s.logger.Debug("job submitted",
		zap.String("job", name), zap.String("id", j.id),
		zap.Int("priority", j.priority), zap.Duration("delay", j.delay))
	return j.id
}

// holdLocked arms a timer that hands j to the dispatcher after d.
func (s *Scheduler) holdLocked(j *job, d time.Duration) {
	j.timer = time.AfterFunc(d, func() {
		select {
		case s.dispatch <- j:
		case <-s.quit:
		}
	})
}

func (s *Scheduler) enqueueLocked(j *job) {
	j.timer = nil
	s.queue.push(j)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) notify(j *job) {
	if s.observer != nil {
		s.observer(j.snapshot())
	}
}

// Cancel removes a pending job so it never runs. It returns false for unknown jobs
// and for jobs that are running, retrying or finished.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.status != StatusPending {
		return false
	}
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	s.queue.remove(j)
	j.cancelled = true
	delete(s.jobs, id)
	s.stats.Cancelled++
	s.logger.Debug("job cancelled", zap.String("job", j.name), zap.String("id", id))
	return true
}

// Status returns a snapshot of the job, or false if it is unknown or was purged.
func (s *Scheduler) Status(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots of every retained job.
func (s *Scheduler) Jobs() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Stats returns job and worker counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.QueueSize = s.queue.Len()
	for _, j := range s.jobs {
		switch j.status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusRetrying:
			st.Retrying++
		case StatusCompleted, StatusFailed:
			st.Retained++
		}
	}
	st.ActiveWorkers = st.Running
	return st
}

// Start launches numWorkers workers (DefaultWorkers when <= 0), the delayed-job
// dispatcher and the periodic loop.
func (s *Scheduler) Start(numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.stats.Workers = numWorkers
	s.mu.Unlock()

	for i := 0; i < numWorkers; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
	s.loops.Add(2)
	go s.dispatcher()
	go s.periodicLoop()
	s.logger.Info("scheduler started",
		zap.Int("workers", numWorkers), zap.Int("periodic_jobs", len(s.periodic)))
	return nil
}

// Stop signals workers, the dispatcher and the periodic loop to exit, cancels the
// timers of held jobs, and waits for running jobs to finish. If they do not finish
// within the stop timeout it returns ErrStopTimeout; the jobs keep running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	s.mu.Unlock()
	close(s.quit)

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn("scheduler stop timed out", zap.Duration("timeout", s.stopTimeout))
		return ErrStopTimeout
	}
}

func (s *Scheduler) worker(n int) {
	defer s.workers.Done()
	idle := time.NewTimer(s.pollInterval)
	defer idle.Stop()
	for {
		select {
		case <-s.quit:
			return
		default:
		}
		if j := s.claim(); j != nil {
			s.execute(j)
			continue
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.pollInterval)
		select {
		case <-s.quit:
			return
		case <-s.wake:
		case <-idle.C:
		}
	}
}

// claim pops the most urgent pending job and marks it running.
func (s *Scheduler) claim() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.queue.pop()
	if j == nil {
		return nil
	}
	j.status = StatusRunning
	j.startedAt = time.Now()
	s.notify(j)
	return j
}

func (s *Scheduler) execute(j *job) {
	err := s.invoke(j)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		j.status = StatusCompleted
		j.finishedAt = time.Now()
		j.lastError = ""
		s.stats.Completed++
		s.notify(j)
		s.logger.Debug("job completed", zap.String("job", j.name), zap.String("id", j.id),
			zap.Duration("took", j.finishedAt.Sub(j.startedAt)))
		return
	}

	j.lastError = err.Error()
	if j.retryCount < j.maxRetries && !s.stopped {
		j.retryCount++
		delay := s.backoff(j.retryCount)
		j.status = StatusRetrying
		s.notify(j)
		s.holdLocked(j, delay)
		s.logger.Warn("job failed, retrying",
			zap.String("job", j.name), zap.String("id", j.id),
			zap.Int("attempt", j.retryCount), zap.Duration("delay", delay), zap.Error(err))
		return
	}
	j.status = StatusFailed
	j.finishedAt = time.Now()
	s.stats.Failed++
	s.notify(j)
	s.logger.Error("job failed",
		zap.String("job", j.name), zap.String("id", j.id),
		zap.Int("attempts", j.retryCount+1), zap.Error(err))
}

// invoke runs the job body, turning a panic into an error.
func (s *Scheduler) invoke(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if j.fn == nil {
		return errors.New("job has no function")
	}
	return j.fn(context.Background())
}

// backoff is 2^retryCount backoff units, capped at MaxBackoff.
func (s *Scheduler) backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 62 || s.backoffUnit > MaxBackoff>>uint(retryCount) {
		return MaxBackoff
	}
	return time.Duration(1<<uint(retryCount)) * s.backoffUnit
}

// dispatcher moves jobs whose delay elapsed onto the queue.
func (s *Scheduler) dispatcher() {
	defer s.loops.Done()
	for {
		select {
		case <-s.quit:
			return
		case j := <-s.dispatch:
			s.mu.Lock()
			if !j.cancelled && !s.stopped {
				j.status = StatusPending
				if j.retryCount > 0 {
					s.notify(j)
				}
				s.enqueueLocked(j)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) periodicLoop() {
	defer s.loops.Done()
	purge := time.NewTicker(s.purgeInterval)
	defer purge.Stop()

	var tick <-chan time.Time
	if len(s.periodic) > 0 {
		s.submitPeriodic()
		t := time.NewTicker(s.periodicInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-s.quit:
			return
		case <-tick:
			s.submitPeriodic()
		case now := <-purge.C:
			if n := s.purgeExpired(now); n > 0 {
				s.logger.Debug("purged finished jobs", zap.Int("count", n))
			}
		}
	}
}

// submitPeriodic enqueues the maintenance set, skipping a job whose previous run has
// not finished yet.
func (s *Scheduler) submitPeriodic() {
	s.mu.Lock()
	busy := make(map[string]bool)
	for _, j := range s.jobs {
		if !j.status.Terminal() {
			busy[j.name] = true
		}
	}
	s.mu.Unlock()

	for _, p := range s.periodic {
		if busy[p.Name] {
			s.logger.Debug("periodic job still in flight, skipping", zap.String("job", p.Name))
			continue
		}
		s.Submit(p.Name, p.Fn, WithPriority(p.Priority), WithMaxRetries(p.MaxRetries))
	}
	s.purgeExpired(time.Now())
}

// purgeExpired drops terminal jobs that finished more than the retention window
// before now and returns how many were dropped.
func (s *Scheduler) purgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.status.Terminal() && now.Sub(j.finishedAt) > s.retention {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}
