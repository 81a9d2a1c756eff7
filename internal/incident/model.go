package incident

import (
	"time"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Incident status values.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Bus topics published by the manager.
const (
	TopicOpened   = "incident.opened"
	TopicResolved = "incident.resolved"
)

// Incident is a contiguous outage window for one monitor. At most one
// incident per monitor is active at a time.
type Incident struct {
	ID          string     `json:"id"`
	MonitorID   int64      `json:"monitor_id"`
	StartedAt   time.Time  `json:"started_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	IsViewed    bool       `json:"is_viewed"`
}

// Duration returns how long the incident has been (or was) open.
func (i *Incident) Duration() time.Duration {
	if i.ResolvedAt != nil {
		return i.ResolvedAt.Sub(i.StartedAt)
	}
	return time.Since(i.StartedAt)
}

// Event is the payload published on incident topics.
type Event struct {
	Incident *Incident        `json:"incident"`
	Monitor  *monitor.Monitor `json:"monitor"`
}
