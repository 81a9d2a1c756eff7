package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/checker"
	"github.com/uptimo/uptimo/internal/monitor"
	"github.com/uptimo/uptimo/internal/store"
)

func newTestStore(t *testing.T) *monitor.Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), "monitor", monitor.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return monitor.NewStore(db.DB())
}

func newTestScheduler(t *testing.T, ms *monitor.Store, verdicts VerdictHandler, maxConcurrent int) *Scheduler {
	t.Helper()
	domains := checker.NewDomainCollector(24*time.Hour, 10, zap.NewNop())
	return New(ms, checker.NewRegistry(domains), verdicts, nil, maxConcurrent, zap.NewNop())
}

func insertHTTPMonitor(t *testing.T, ms *monitor.Store, name, target string, interval time.Duration) *monitor.Monitor {
	t.Helper()
	m := &monitor.Monitor{
		Name:          name,
		Type:          monitor.TypeHTTP,
		Target:        target,
		CheckInterval: interval,
		Timeout:       5 * time.Second,
		Active:        true,
	}
	if err := ms.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert monitor %s: %v", name, err)
	}
	return m
}

// countingHandler records verdicts it receives.
type countingHandler struct {
	count atomic.Int64
	last  atomic.Value // monitor.Status
}

func (h *countingHandler) HandleVerdict(_ context.Context, _ *monitor.Monitor, result *monitor.CheckResult) {
	h.count.Add(1)
	h.last.Store(result.Status)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_RunsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	m := insertHTTPMonitor(t, ms, "web", srv.URL, time.Hour)

	h := &countingHandler{}
	s := newTestScheduler(t, ms, h, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 5*time.Second, func() bool { return h.count.Load() >= 1 })

	if st := h.last.Load(); st != monitor.StatusUp {
		t.Errorf("verdict = %v, want up", st)
	}
	latest, err := ms.LatestResult(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest == nil || latest.Status != monitor.StatusUp {
		t.Errorf("persisted result = %+v, want up", latest)
	}
}

func TestScheduler_ScheduleIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	m := insertHTTPMonitor(t, ms, "web", srv.URL, time.Hour)
	m.Active = false
	if err := ms.SetActive(context.Background(), m.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	s := newTestScheduler(t, ms, nil, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	if err := ms.SetActive(context.Background(), m.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	// Concurrent Schedule calls for the same monitor yield one job.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Schedule(m.ID)
		}()
	}
	wg.Wait()

	if got := s.JobCount(); got != 1 {
		t.Errorf("JobCount = %d after concurrent Schedule, want 1", got)
	}
}

func TestScheduler_UnscheduleStopsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	m := insertHTTPMonitor(t, ms, "web", srv.URL, time.Hour)

	s := newTestScheduler(t, ms, nil, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	if !s.Scheduled(m.ID) {
		t.Fatal("monitor not scheduled after Start")
	}
	s.Unschedule(m.ID)
	if s.Scheduled(m.ID) {
		t.Error("monitor still scheduled after Unschedule")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	m := insertHTTPMonitor(t, ms, "web", srv.URL, time.Hour)

	h := &countingHandler{}
	s := newTestScheduler(t, ms, h, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 5*time.Second, func() bool { return h.count.Load() >= 1 })

	if !s.RunNow(m.ID) {
		t.Fatal("RunNow returned false for scheduled monitor")
	}
	waitFor(t, 5*time.Second, func() bool { return h.count.Load() >= 2 })

	if s.RunNow(9999) {
		t.Error("RunNow returned true for unknown monitor")
	}
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	var current, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		insertHTTPMonitor(t, ms, name, srv.URL, time.Hour)
	}

	h := &countingHandler{}
	s := newTestScheduler(t, ms, h, 2)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 10*time.Second, func() bool { return h.count.Load() >= 5 })
	s.Stop()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestScheduler_SurvivesStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(context.Background(), "monitor", monitor.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ms := monitor.NewStore(db.DB())
	m := insertHTTPMonitor(t, ms, "web", srv.URL, time.Hour)

	h := &countingHandler{}
	s := newTestScheduler(t, ms, h, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 5*time.Second, func() bool { return h.count.Load() >= 1 })

	// Break the store, then force the job to reload its monitor row. The
	// failed read must keep the job scheduled, not end it.
	db.Close()
	if !s.RunNow(m.ID) {
		t.Fatal("RunNow returned false for scheduled monitor")
	}
	time.Sleep(200 * time.Millisecond)
	if !s.Scheduled(m.ID) {
		t.Error("job unscheduled after transient store error")
	}
}

func TestScheduler_InactiveMonitorJobExits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ms := newTestStore(t)
	m := insertHTTPMonitor(t, ms, "web", srv.URL, 50*time.Millisecond)

	h := &countingHandler{}
	s := newTestScheduler(t, ms, h, 4)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 5*time.Second, func() bool { return h.count.Load() >= 1 })

	if err := ms.SetActive(context.Background(), m.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	// The job notices the monitor is inactive on its next wake-up and
	// removes itself.
	waitFor(t, 5*time.Second, func() bool { return !s.Scheduled(m.ID) })
}
