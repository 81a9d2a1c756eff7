package incident

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/event"
	"github.com/uptimo/uptimo/internal/monitor"
	"github.com/uptimo/uptimo/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx, "monitor", monitor.Migrations()); err != nil {
		t.Fatalf("migrate monitor: %v", err)
	}
	if err := db.Migrate(ctx, "incident", Migrations()); err != nil {
		t.Fatalf("migrate incident: %v", err)
	}
	return NewStore(db.DB())
}

func insertMonitor(t *testing.T, s *Store, debounce int) *monitor.Monitor {
	t.Helper()
	ms := monitor.NewStore(s.db)
	m := &monitor.Monitor{
		Name:          "web",
		Type:          monitor.TypeHTTP,
		Target:        "https://example.com",
		CheckInterval: time.Minute,
		Timeout:       10 * time.Second,
		Active:        true,
		DebounceCount: debounce,
	}
	if err := ms.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert monitor: %v", err)
	}
	return m
}

func downResult(m *monitor.Monitor, msg string) *monitor.CheckResult {
	return &monitor.CheckResult{
		MonitorID:    m.ID,
		Timestamp:    time.Now().UTC(),
		Status:       monitor.StatusDown,
		ErrorKind:    "timeout",
		ErrorMessage: msg,
	}
}

func upResult(m *monitor.Monitor) *monitor.CheckResult {
	return &monitor.CheckResult{
		MonitorID: m.ID,
		Timestamp: time.Now().UTC(),
		Status:    monitor.StatusUp,
	}
}

func TestManager_OpenAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bus := event.NewBus(zap.NewNop())
	m := insertMonitor(t, s, 1)

	var opened, resolved atomic.Int64
	bus.Subscribe(TopicOpened, func(context.Context, event.Event) { opened.Add(1) })
	bus.Subscribe(TopicResolved, func(context.Context, event.Event) { resolved.Add(1) })

	mg := NewManager(s, bus, nil, zap.NewNop())

	// up, up, down, down, up: one incident opened, one resolved.
	mg.HandleVerdict(ctx, m, upResult(m))
	mg.HandleVerdict(ctx, m, upResult(m))
	mg.HandleVerdict(ctx, m, downResult(m, "connect timeout"))
	mg.HandleVerdict(ctx, m, downResult(m, "connect timeout"))

	active, err := s.GetActive(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == nil {
		t.Fatal("no active incident after down verdicts")
	}
	if active.Description != "connect timeout" {
		t.Errorf("Description = %q, want check error message", active.Description)
	}

	mg.HandleVerdict(ctx, m, upResult(m))

	active, err = s.GetActive(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active != nil {
		t.Errorf("incident still active after up verdict: %+v", active)
	}

	all, err := s.List(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("incident count = %d, want 1", len(all))
	}
	in := all[0]
	if in.Status != StatusResolved {
		t.Errorf("Status = %q, want resolved", in.Status)
	}
	if in.ResolvedAt == nil || in.ResolvedAt.Before(in.StartedAt) {
		t.Errorf("ResolvedAt = %v, want >= StartedAt %v", in.ResolvedAt, in.StartedAt)
	}
	if opened.Load() != 1 || resolved.Load() != 1 {
		t.Errorf("events: opened=%d resolved=%d, want 1/1", opened.Load(), resolved.Load())
	}
}

func TestManager_Debounce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 3)
	mg := NewManager(s, event.NewBus(zap.NewNop()), nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		mg.HandleVerdict(ctx, m, downResult(m, "down"))
	}
	if active, _ := s.GetActive(ctx, m.ID); active != nil {
		t.Fatal("incident opened before debounce count reached")
	}

	mg.HandleVerdict(ctx, m, downResult(m, "down"))
	if active, _ := s.GetActive(ctx, m.ID); active == nil {
		t.Fatal("incident not opened at debounce count")
	}
}

func TestManager_DebounceResetByUp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 2)
	mg := NewManager(s, event.NewBus(zap.NewNop()), nil, zap.NewNop())

	// down, up, down: streak never reaches 2.
	mg.HandleVerdict(ctx, m, downResult(m, "down"))
	mg.HandleVerdict(ctx, m, upResult(m))
	mg.HandleVerdict(ctx, m, downResult(m, "down"))

	if active, _ := s.GetActive(ctx, m.ID); active != nil {
		t.Fatal("incident opened despite an up verdict breaking the streak")
	}
}

func TestManager_UnknownNeverTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 1)
	mg := NewManager(s, event.NewBus(zap.NewNop()), nil, zap.NewNop())

	unknown := &monitor.CheckResult{
		MonitorID: m.ID, Timestamp: time.Now().UTC(),
		Status: monitor.StatusUnknown, ErrorKind: "unexpected_error",
	}

	// Unknown never opens.
	mg.HandleVerdict(ctx, m, unknown)
	if active, _ := s.GetActive(ctx, m.ID); active != nil {
		t.Fatal("unknown verdict opened an incident")
	}

	// Unknown never resolves either.
	mg.HandleVerdict(ctx, m, downResult(m, "down"))
	mg.HandleVerdict(ctx, m, unknown)
	if active, _ := s.GetActive(ctx, m.ID); active == nil {
		t.Fatal("unknown verdict resolved an incident")
	}
}

func TestManager_SingleActiveIncident(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 1)
	mg := NewManager(s, event.NewBus(zap.NewNop()), nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		mg.HandleVerdict(ctx, m, downResult(m, "down"))
	}

	all, err := s.List(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("incident count = %d, want exactly 1 despite repeated downs", len(all))
	}
}

func TestManager_ResolveManually(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 1)
	mg := NewManager(s, event.NewBus(zap.NewNop()), nil, zap.NewNop())

	mg.HandleVerdict(ctx, m, downResult(m, "down"))
	if err := mg.ResolveManually(ctx, m); err != nil {
		t.Fatalf("ResolveManually: %v", err)
	}
	if active, _ := s.GetActive(ctx, m.ID); active != nil {
		t.Fatal("incident still active after manual resolve")
	}

	// Resolving with nothing open is a no-op.
	if err := mg.ResolveManually(ctx, m); err != nil {
		t.Fatalf("ResolveManually on healthy monitor: %v", err)
	}
}

func TestStore_MarkViewed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := insertMonitor(t, s, 1)

	in := &Incident{
		ID: "inc-1", MonitorID: m.ID,
		StartedAt: time.Now().UTC(), Status: StatusActive,
	}
	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.MarkViewed(ctx, in.ID); err != nil {
		t.Fatalf("MarkViewed: %v", err)
	}
	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsViewed {
		t.Error("IsViewed = false after MarkViewed")
	}
}
