package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/checker"
	"github.com/uptimo/uptimo/internal/metrics"
	"github.com/uptimo/uptimo/internal/monitor"
)

// VerdictHandler receives the persisted result of every completed check.
// The incident manager implements this.
type VerdictHandler interface {
	HandleVerdict(ctx context.Context, m *monitor.Monitor, result *monitor.CheckResult)
}

// checkGrace is added on top of a monitor's own timeout to cover slow-cadence
// WHOIS and certificate collection.
const checkGrace = 15 * time.Second

// storeRetryDelay spaces reload attempts when the monitor row cannot be read.
// A busy database must not end the job.
const storeRetryDelay = 30 * time.Second

// Scheduler runs one job per active monitor. Each job re-arms its timer only
// after the previous check completes, so a monitor's checks never overlap,
// and a global semaphore bounds how many checks run at once across the fleet.
type Scheduler struct {
	store    *monitor.Store
	checkers *checker.Registry
	verdicts VerdictHandler
	metrics  *metrics.Metrics
	sem      chan struct{}
	logger   *zap.Logger

	mu   sync.Mutex
	jobs map[int64]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	cancel context.CancelFunc
	runNow chan struct{}
}

// New creates a scheduler with the given global concurrency limit.
func New(store *monitor.Store, checkers *checker.Registry, verdicts VerdictHandler, m *metrics.Metrics, maxConcurrent int, logger *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Scheduler{
		store:    store,
		checkers: checkers,
		verdicts: verdicts,
		metrics:  m,
		sem:      make(chan struct{}, maxConcurrent),
		logger:   logger,
		jobs:     map[int64]*job{},
	}
}

// Start loads all active monitors and schedules them. Each monitor's first
// check runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	monitors, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active monitors: %w", err)
	}
	for _, m := range monitors {
		s.Schedule(m.ID)
	}
	s.logger.Info("scheduler started", zap.Int("monitors", len(monitors)))
	return nil
}

// Stop cancels all jobs and waits for in-flight checks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.jobs = map[int64]*job{}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Schedule starts a job for the monitor. Scheduling an already-scheduled
// monitor is a no-op, so concurrent calls never produce duplicate jobs.
func (s *Scheduler) Schedule(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	if _, ok := s.jobs[id]; ok {
		return
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	j := &job{cancel: cancel, runNow: make(chan struct{}, 1)}
	s.jobs[id] = j

	s.wg.Add(1)
	go s.run(jobCtx, id, j)
}

// Unschedule stops the monitor's job. In-flight checks run to completion.
func (s *Scheduler) Unschedule(id int64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// Reschedule restarts the monitor's job so edits (interval, config) take
// effect on the next run.
func (s *Scheduler) Reschedule(id int64) {
	s.Unschedule(id)
	s.Schedule(id)
}

// RunNow triggers an immediate check for a scheduled monitor without
// disturbing its cadence. Returns false when the monitor is not scheduled.
func (s *Scheduler) RunNow(id int64) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case j.runNow <- struct{}{}:
	default: // a trigger is already pending
	}
	return true
}

// Scheduled reports whether the monitor currently has a job.
func (s *Scheduler) Scheduled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// JobCount returns the number of scheduled monitors.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Status returns the IDs of all currently scheduled monitors.
func (s *Scheduler) Status() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// run is the per-monitor loop. The monitor row is re-read before every check
// so config edits and collection bookkeeping are always fresh. The interval
// timer is armed after each check completes.
func (s *Scheduler) run(ctx context.Context, id int64, j *job) {
	defer s.wg.Done()

	for {
		m, err := s.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient store failures keep the job alive. Only a row
			// that is confirmed missing or inactive ends it.
			s.logger.Error("load monitor", zap.Int64("monitor_id", id), zap.Error(err))
			if !s.waitNext(ctx, j, storeRetryDelay) {
				return
			}
			continue
		}
		if m == nil || !m.Active {
			s.Unschedule(id)
			return
		}

		s.executeOnce(ctx, m)

		interval := m.CheckInterval
		if interval <= 0 {
			interval = time.Minute
		}
		if !s.waitNext(ctx, j, interval) {
			return
		}
	}
}

// waitNext blocks until the next cycle is due, an immediate run is requested,
// or the job is cancelled. Returns false on cancellation.
func (s *Scheduler) waitNext(ctx context.Context, j *job, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-j.runNow:
		timer.Stop()
	case <-timer.C:
	}
	return true
}

// executeOnce runs a single check under the global semaphore and feeds the
// result through persistence and the verdict handler. Nothing is persisted
// when the scheduler is shutting down mid-check.
func (s *Scheduler) executeOnce(ctx context.Context, m *monitor.Monitor) {
	select {
	case <-ctx.Done():
		return
	case s.sem <- struct{}{}:
	}
	defer func() { <-s.sem }()

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout+checkGrace)
	defer cancel()

	start := time.Now()
	out := s.safeCheck(checkCtx, m)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return
	}

	status, message := checker.Evaluate(m, out)
	result := &monitor.CheckResult{
		MonitorID:      m.ID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		ResponseTimeMs: out.ResponseTimeMs,
		StatusCode:     out.StatusCode,
		ErrorKind:      string(out.ErrKind),
		ErrorMessage:   message,
		Extra:          out.Extra,
	}

	if err := s.store.InsertResult(ctx, result); err != nil {
		s.logger.Error("persist check result", zap.Int64("monitor_id", m.ID), zap.Error(err))
		return
	}
	s.persistCollection(ctx, m, out)

	if s.metrics != nil {
		s.metrics.ChecksTotal.WithLabelValues(string(m.Type), string(status)).Inc()
		s.metrics.CheckDuration.WithLabelValues(string(m.Type)).Observe(elapsed.Seconds())
		s.metrics.MonitorUp.WithLabelValues(m.Name).Set(statusGauge(status))
	}

	if s.verdicts != nil {
		s.verdicts.HandleVerdict(ctx, m, result)
	}
}

// safeCheck isolates checker panics: a crashing strategy yields an unknown
// verdict instead of taking the scheduler down.
func (s *Scheduler) safeCheck(ctx context.Context, m *monitor.Monitor) (out checker.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("checker panic",
				zap.Int64("monitor_id", m.ID),
				zap.String("type", string(m.Type)),
				zap.Any("panic", r),
			)
			out = checker.Outcome{
				ErrKind:    checker.ErrKindUnexpected,
				ErrMessage: fmt.Sprintf("checker panic: %v", r),
			}
		}
	}()

	chk := s.checkers.For(m.Type)
	if chk == nil {
		return checker.Outcome{
			ErrKind:    checker.ErrKindUnexpected,
			ErrMessage: fmt.Sprintf("no checker for type %q", m.Type),
		}
	}
	return chk.Check(ctx, m)
}

// persistCollection records when TLS or domain data was last gathered so the
// slow cadence survives restarts.
func (s *Scheduler) persistCollection(ctx context.Context, m *monitor.Monitor, out checker.Outcome) {
	now := time.Now().UTC()
	if out.CollectedTLS {
		if err := s.store.MarkTLSCheck(ctx, m.ID, now); err != nil {
			s.logger.Warn("mark tls check", zap.Int64("monitor_id", m.ID), zap.Error(err))
		}
	}
	if out.CollectedDomain {
		if err := s.store.MarkDomainCheck(ctx, m.ID, now, out.DomainFailed); err != nil {
			s.logger.Warn("mark domain check", zap.Int64("monitor_id", m.ID), zap.Error(err))
		}
	}
}

func statusGauge(st monitor.Status) float64 {
	switch st {
	case monitor.StatusUp:
		return 1
	case monitor.StatusDown:
		return 0
	default:
		return -1
	}
}
