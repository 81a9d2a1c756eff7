package notify

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/event"
	"github.com/uptimo/uptimo/internal/incident"
	"github.com/uptimo/uptimo/internal/metrics"
	"github.com/uptimo/uptimo/internal/monitor"
)

// Dispatcher listens for incident lifecycle events and delivers notifications
// to every channel bound to the affected monitor. Channel failures are
// isolated: one broken channel never blocks the others, and every attempt is
// written to the delivery log.
type Dispatcher struct {
	store     *Store
	monitors  *monitor.Store
	incidents *incident.Store
	bus       *event.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	sendTimeout   time.Duration
	sweepInterval time.Duration

	mu        sync.Mutex
	paused    bool
	escalated map[string]map[string]bool // incident ID -> channel ID -> fired this process
	rearmed   map[string]bool            // incident ID -> logged escalations no longer count

	unsubscribe []func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewDispatcher creates a dispatcher. sendTimeout bounds each delivery
// attempt; sweepInterval is the escalation polling cadence.
func NewDispatcher(store *Store, monitors *monitor.Store, incidents *incident.Store, bus *event.Bus, m *metrics.Metrics, sendTimeout, sweepInterval time.Duration, logger *zap.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Dispatcher{
		store:         store,
		monitors:      monitors,
		incidents:     incidents,
		bus:           bus,
		metrics:       m,
		logger:        logger,
		sendTimeout:   sendTimeout,
		sweepInterval: sweepInterval,
		escalated:     map[string]map[string]bool{},
		rearmed:       map[string]bool{},
	}
}

// Start subscribes to incident topics and launches the escalation sweeper.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.unsubscribe = append(d.unsubscribe,
		d.bus.Subscribe(incident.TopicOpened, d.handleOpened),
		d.bus.Subscribe(incident.TopicResolved, d.handleResolved),
	)

	d.wg.Add(1)
	go d.sweepLoop(runCtx)
	d.logger.Info("notification dispatcher started",
		zap.Duration("send_timeout", d.sendTimeout),
		zap.Duration("sweep_interval", d.sweepInterval),
	)
}

// Stop unsubscribes and waits for the sweeper to exit.
func (d *Dispatcher) Stop() {
	for _, unsub := range d.unsubscribe {
		unsub()
	}
	d.unsubscribe = nil
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Pause suppresses all deliveries, including escalations, until Resume.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	d.logger.Info("notification dispatch paused")
}

// Resume re-enables deliveries.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.logger.Info("notification dispatch resumed")
}

// Rearm clears the incident's escalation state so the next sweep may fire it
// again, even when the delivery log already records an escalation for it.
func (d *Dispatcher) Rearm(incidentID string) {
	d.mu.Lock()
	delete(d.escalated, incidentID)
	d.rearmed[incidentID] = true
	d.mu.Unlock()
}

// forgetEscalation drops all escalation bookkeeping for a closed incident.
func (d *Dispatcher) forgetEscalation(incidentID string) {
	d.mu.Lock()
	delete(d.escalated, incidentID)
	delete(d.rearmed, incidentID)
	d.mu.Unlock()
}

// TestChannel sends a test message through the channel and logs the attempt.
func (d *Dispatcher) TestChannel(ctx context.Context, c *Channel) error {
	msg := renderMessage(KindTest, &monitor.Monitor{Name: "test"}, nil)
	return d.deliver(ctx, c, "", 0, msg)
}

func (d *Dispatcher) handleOpened(ctx context.Context, ev event.Event) {
	payload, ok := ev.Payload.(incident.Event)
	if !ok {
		d.logger.Warn("unexpected payload type", zap.String("topic", ev.Topic))
		return
	}
	d.dispatch(ctx, payload, KindDown)
}

func (d *Dispatcher) handleResolved(ctx context.Context, ev event.Event) {
	payload, ok := ev.Payload.(incident.Event)
	if !ok {
		d.logger.Warn("unexpected payload type", zap.String("topic", ev.Topic))
		return
	}
	d.forgetEscalation(payload.Incident.ID)
	d.dispatch(ctx, payload, KindUp)
}

// dispatch fans one incident transition out to the monitor's bound channels.
func (d *Dispatcher) dispatch(ctx context.Context, payload incident.Event, kind string) {
	if d.isPaused() {
		return
	}

	bindings, channels, err := d.store.BindingsForMonitor(ctx, payload.Monitor.ID)
	if err != nil {
		d.logger.Error("load channel bindings", zap.Int64("monitor_id", payload.Monitor.ID), zap.Error(err))
		return
	}

	msg := renderMessage(kind, payload.Monitor, payload.Incident)
	for i, b := range bindings {
		if kind == KindDown && !b.NotifyOnDown {
			continue
		}
		if kind == KindUp && !b.NotifyOnUp {
			continue
		}
		if err := d.deliver(ctx, channels[i], payload.Incident.ID, payload.Monitor.ID, msg); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("channel_id", channels[i].ID),
				zap.String("channel_type", channels[i].Type),
				zap.String("incident_id", payload.Incident.ID),
				zap.Error(err),
			)
		}
	}
}

// deliver sends one message to one channel and records the attempt.
func (d *Dispatcher) deliver(ctx context.Context, c *Channel, incidentID string, monitorID int64, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	var sendErr error
	notifier, err := buildNotifier(c)
	if err != nil {
		sendErr = err
	} else {
		sendErr = notifier.Send(sendCtx, msg)
	}

	entry := &LogEntry{
		IncidentID: incidentID,
		ChannelID:  c.ID,
		MonitorID:  monitorID,
		Kind:       msg.Kind,
		Success:    sendErr == nil,
		SentAt:     time.Now().UTC(),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if logErr := d.store.InsertLog(ctx, entry); logErr != nil {
		d.logger.Error("write notification log", zap.Error(logErr))
	}
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(c.Type, strconv.FormatBool(sendErr == nil)).Inc()
	}
	return sendErr
}

// sweepLoop periodically checks open incidents against their bindings'
// escalation deadlines. Each incident/channel pair escalates at most once
// unless rearmed.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	if d.isPaused() {
		return
	}

	active, err := d.incidents.ListActive(ctx)
	if err != nil {
		d.logger.Error("load active incidents", zap.Error(err))
		return
	}

	for _, in := range active {
		m, err := d.monitors.Get(ctx, in.MonitorID)
		if err != nil || m == nil {
			continue
		}
		bindings, channels, err := d.store.BindingsForMonitor(ctx, in.MonitorID)
		if err != nil {
			d.logger.Error("load channel bindings", zap.Int64("monitor_id", in.MonitorID), zap.Error(err))
			continue
		}

		for i, b := range bindings {
			if b.EscalateAfterMinutes <= 0 {
				continue
			}
			deadline := in.StartedAt.Add(time.Duration(b.EscalateAfterMinutes) * time.Minute)
			if time.Now().Before(deadline) {
				continue
			}
			if d.escalatedAlready(in.ID, b.ChannelID) {
				continue
			}
			if !d.isRearmed(in.ID) {
				// The delivery log, not this process, decides whether
				// the pair already escalated: a restart must not re-fire.
				fired, err := d.store.HasEscalation(ctx, in.ID, b.ChannelID)
				if err != nil {
					d.logger.Error("check escalation log",
						zap.String("incident_id", in.ID),
						zap.String("channel_id", b.ChannelID),
						zap.Error(err),
					)
					continue
				}
				if fired {
					d.markEscalated(in.ID, b.ChannelID)
					continue
				}
			}
			d.markEscalated(in.ID, b.ChannelID)

			msg := renderMessage(KindEscalation, m, in)
			if err := d.deliver(ctx, channels[i], in.ID, m.ID, msg); err != nil {
				d.logger.Warn("escalation delivery failed",
					zap.String("channel_id", b.ChannelID),
					zap.String("incident_id", in.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// escalatedAlready reports whether the pair fired during this process's
// lifetime.
func (d *Dispatcher) escalatedAlready(incidentID, channelID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.escalated[incidentID][channelID]
}

// markEscalated records the incident/channel pair as fired.
func (d *Dispatcher) markEscalated(incidentID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fired := d.escalated[incidentID]
	if fired == nil {
		fired = map[string]bool{}
		d.escalated[incidentID] = fired
	}
	fired[channelID] = true
}

func (d *Dispatcher) isRearmed(incidentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rearmed[incidentID]
}

func (d *Dispatcher) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}
