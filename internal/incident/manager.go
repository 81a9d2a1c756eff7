package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/event"
	"github.com/uptimo/uptimo/internal/metrics"
	"github.com/uptimo/uptimo/internal/monitor"
)

// Manager turns check verdicts into incident lifecycle transitions. A
// monitor's incident opens after its debounce count of consecutive down
// verdicts and resolves on the first up verdict. Unknown verdicts never move
// incident state in either direction.
type Manager struct {
	store   *Store
	bus     *event.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	streaks map[int64]int // consecutive down verdicts per monitor
}

// NewManager creates an incident manager publishing lifecycle events on bus.
func NewManager(store *Store, bus *event.Bus, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		bus:     bus,
		metrics: m,
		logger:  logger,
		streaks: map[int64]int{},
	}
}

// HandleVerdict applies one check result to the monitor's incident state.
func (mg *Manager) HandleVerdict(ctx context.Context, m *monitor.Monitor, result *monitor.CheckResult) {
	switch result.Status {
	case monitor.StatusDown:
		mg.handleDown(ctx, m, result)
	case monitor.StatusUp:
		mg.handleUp(ctx, m, result.Timestamp)
	case monitor.StatusUnknown:
		// Indeterminate verdicts neither open nor resolve, and leave the
		// down streak as it was.
	}
}

func (mg *Manager) handleDown(ctx context.Context, m *monitor.Monitor, result *monitor.CheckResult) {
	mg.mu.Lock()
	mg.streaks[m.ID]++
	streak := mg.streaks[m.ID]
	mg.mu.Unlock()

	if streak < m.Debounce() {
		return
	}

	active, err := mg.store.GetActive(ctx, m.ID)
	if err != nil {
		mg.logger.Error("lookup active incident", zap.Int64("monitor_id", m.ID), zap.Error(err))
		return
	}
	if active != nil {
		return
	}

	desc := result.ErrorMessage
	if desc == "" {
		desc = fmt.Sprintf("%s check failed", m.Type)
	}
	in := &Incident{
		ID:          uuid.NewString(),
		MonitorID:   m.ID,
		StartedAt:   result.Timestamp,
		Status:      StatusActive,
		Description: desc,
	}
	if err := mg.store.Insert(ctx, in); err != nil {
		mg.logger.Error("open incident", zap.Int64("monitor_id", m.ID), zap.Error(err))
		return
	}

	mg.logger.Warn("incident opened",
		zap.Int64("monitor_id", m.ID),
		zap.String("monitor", m.Name),
		zap.String("incident_id", in.ID),
		zap.String("reason", desc),
	)
	mg.updateActiveGauge(ctx)
	mg.bus.Publish(ctx, event.Event{
		Topic:     TopicOpened,
		Source:    "incident",
		Timestamp: time.Now().UTC(),
		Payload:   Event{Incident: in, Monitor: m},
	})
}

func (mg *Manager) handleUp(ctx context.Context, m *monitor.Monitor, at time.Time) {
	mg.mu.Lock()
	delete(mg.streaks, m.ID)
	mg.mu.Unlock()

	active, err := mg.store.GetActive(ctx, m.ID)
	if err != nil {
		mg.logger.Error("lookup active incident", zap.Int64("monitor_id", m.ID), zap.Error(err))
		return
	}
	if active == nil {
		return
	}
	mg.resolve(ctx, m, active, at)
}

// ResolveManually closes the monitor's open incident without waiting for an
// up verdict, for operator intervention.
func (mg *Manager) ResolveManually(ctx context.Context, m *monitor.Monitor) error {
	active, err := mg.store.GetActive(ctx, m.ID)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	mg.mu.Lock()
	delete(mg.streaks, m.ID)
	mg.mu.Unlock()
	mg.resolve(ctx, m, active, time.Now().UTC())
	return nil
}

// resolve closes the incident at the up verdict's timestamp, clamped so a
// resolution never predates the incident's start.
func (mg *Manager) resolve(ctx context.Context, m *monitor.Monitor, in *Incident, at time.Time) {
	now := at.UTC()
	if now.Before(in.StartedAt) {
		now = in.StartedAt
	}
	if err := mg.store.Resolve(ctx, in.ID, now); err != nil {
		mg.logger.Error("resolve incident", zap.String("incident_id", in.ID), zap.Error(err))
		return
	}
	in.ResolvedAt = &now
	in.Status = StatusResolved

	mg.logger.Info("incident resolved",
		zap.Int64("monitor_id", m.ID),
		zap.String("monitor", m.Name),
		zap.String("incident_id", in.ID),
		zap.Duration("duration", in.Duration()),
	)
	mg.updateActiveGauge(ctx)
	mg.bus.Publish(ctx, event.Event{
		Topic:     TopicResolved,
		Source:    "incident",
		Timestamp: now,
		Payload:   Event{Incident: in, Monitor: m},
	})
}

func (mg *Manager) updateActiveGauge(ctx context.Context) {
	if mg.metrics == nil {
		return
	}
	if n, err := mg.store.CountActive(ctx); err == nil {
		mg.metrics.IncidentsActive.Set(float64(n))
	}
}
