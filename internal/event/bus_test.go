package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got atomic.Int64

	bus.Subscribe("check.completed", func(_ context.Context, ev Event) {
		if ev.Topic != "check.completed" {
			t.Errorf("Topic = %q", ev.Topic)
		}
		got.Add(1)
	})

	bus.Publish(context.Background(), Event{
		Topic:     "check.completed",
		Source:    "test",
		Timestamp: time.Now().UTC(),
	})

	if got.Load() != 1 {
		t.Errorf("handler called %d times, want 1", got.Load())
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got atomic.Int64

	bus.Subscribe("incident.opened", func(context.Context, Event) { got.Add(1) })
	bus.Publish(context.Background(), Event{Topic: "incident.resolved"})

	if got.Load() != 0 {
		t.Error("handler received event for a different topic")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got atomic.Int64

	unsub := bus.Subscribe("incident.opened", func(context.Context, Event) { got.Add(1) })
	bus.Publish(context.Background(), Event{Topic: "incident.opened"})
	unsub()
	bus.Publish(context.Background(), Event{Topic: "incident.opened"})

	if got.Load() != 1 {
		t.Errorf("handler called %d times, want 1 after unsubscribe", got.Load())
	}
}

func TestBus_PanickingHandlerIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got atomic.Int64

	bus.Subscribe("incident.opened", func(context.Context, Event) { panic("boom") })
	bus.Subscribe("incident.opened", func(context.Context, Event) { got.Add(1) })

	bus.Publish(context.Background(), Event{Topic: "incident.opened"})

	if got.Load() != 1 {
		t.Error("second handler not called after first panicked")
	}
}
