package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/uptimo/uptimo/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), "monitor", Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db.DB())
}

func testMonitor(name string, typ Type) *Monitor {
	return &Monitor{
		Name:          name,
		Type:          typ,
		Target:        "https://example.com",
		CheckInterval: time.Minute,
		Timeout:       10 * time.Second,
		Active:        true,
		DebounceCount: 1,
	}
}

func TestStore_InsertGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMonitor("api", TypeHTTP)
	m.HTTP = &HTTPConfig{
		Method:              "POST",
		ExpectedStatusCodes: []int{200, 201},
		StringMatch:         "ok",
		StringMatchType:     MatchContains,
		VerifySSL:           true,
	}
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("Insert did not assign an ID")
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing monitor")
	}
	if got.Name != "api" || got.Type != TypeHTTP {
		t.Errorf("Get = %q/%q, want api/http", got.Name, got.Type)
	}
	if got.HTTP == nil {
		t.Fatal("HTTP config not restored")
	}
	if got.HTTP.Method != "POST" || len(got.HTTP.ExpectedStatusCodes) != 2 {
		t.Errorf("HTTP config = %+v, want method POST with 2 status codes", got.HTTP)
	}
	if got.TCP != nil || got.Ping != nil || got.Kafka != nil {
		t.Error("non-http config variants should be nil")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get(context.Background(), 9999)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get(9999) = %+v, want nil", got)
	}
}

func TestStore_KafkaConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMonitor("broker", TypeKafka)
	m.Target = "broker-1:9092,broker-2:9092"
	m.Kafka = &KafkaConfig{
		SecurityProtocol: "SASL_SSL",
		SASLMechanism:    "SCRAM-SHA-512",
		SASLUsername:     "svc",
		Topic:            "heartbeats",
		ReadMessage:      true,
	}
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kafka == nil {
		t.Fatal("Kafka config not restored")
	}
	if got.Kafka.SASLMechanism != "SCRAM-SHA-512" || !got.Kafka.ReadMessage {
		t.Errorf("Kafka config = %+v", got.Kafka)
	}
}

func TestStore_ListActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := testMonitor("active", TypeHTTP)
	inactive := testMonitor("inactive", TypeTCP)
	inactive.Active = false
	inactive.Target = "example.com:443"

	for _, m := range []*Monitor{active, inactive} {
		if err := s.Insert(ctx, m); err != nil {
			t.Fatalf("Insert(%s): %v", m.Name, err)
		}
	}

	got, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 1 || got[0].Name != "active" {
		t.Errorf("ListActive returned %d monitors, want just the active one", len(got))
	}

	if err := s.SetActive(ctx, inactive.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err = s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListActive after SetActive = %d monitors, want 2", len(got))
	}
}

func TestStore_MarkDomainCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMonitor("web", TypeHTTP)
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkDomainCheck(ctx, m.ID, at, true); err != nil {
		t.Fatalf("MarkDomainCheck: %v", err)
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastDomainCheck == nil || !got.LastDomainCheck.Equal(at) {
		t.Errorf("LastDomainCheck = %v, want %v", got.LastDomainCheck, at)
	}
	if !got.DomainCheckFailed {
		t.Error("DomainCheckFailed = false, want true")
	}
}

func TestStore_Results(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMonitor("web", TypeHTTP)
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	now := time.Now().UTC()
	rt := 12.5
	code := 200
	statuses := []Status{StatusUp, StatusUp, StatusDown, StatusUp}
	for i, st := range statuses {
		r := &CheckResult{
			MonitorID:      m.ID,
			Timestamp:      now.Add(time.Duration(i) * time.Minute),
			Status:         st,
			ResponseTimeMs: &rt,
			StatusCode:     &code,
		}
		if err := s.InsertResult(ctx, r); err != nil {
			t.Fatalf("InsertResult: %v", err)
		}
	}

	latest, err := s.LatestResult(ctx, m.ID)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest == nil || latest.Status != StatusUp {
		t.Errorf("LatestResult = %+v, want final up result", latest)
	}

	pct, err := s.UptimePercent(ctx, m.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("UptimePercent: %v", err)
	}
	if pct != 75.0 {
		t.Errorf("UptimePercent = %v, want 75", pct)
	}
}

func TestStore_DeleteResultsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMonitor("web", TypeHTTP)
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cutoff := time.Now().UTC()
	old := cutoff.Add(-48 * time.Hour)
	for _, ts := range []time.Time{old, old.Add(time.Hour), cutoff, cutoff.Add(time.Hour)} {
		r := &CheckResult{MonitorID: m.ID, Timestamp: ts, Status: StatusUp}
		if err := s.InsertResult(ctx, r); err != nil {
			t.Fatalf("InsertResult: %v", err)
		}
	}

	db := s.db
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	deleted, err := s.DeleteResultsBefore(ctx, tx, cutoff, 100)
	if err != nil {
		t.Fatalf("DeleteResultsBefore: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Strictly older than the cutoff: the result stamped exactly at the
	// cutoff survives.
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	remaining, err := s.ListResults(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining results = %d, want 2", len(remaining))
	}
}

func TestMonitor_Debounce(t *testing.T) {
	m := &Monitor{DebounceCount: 0}
	if got := m.Debounce(); got != 1 {
		t.Errorf("Debounce() with zero count = %d, want 1", got)
	}
	m.DebounceCount = 3
	if got := m.Debounce(); got != 3 {
		t.Errorf("Debounce() = %d, want 3", got)
	}
}
