package checker

import (
	"fmt"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Evaluate maps a probe outcome and the monitor's criteria onto a verdict,
// plus a human-readable reason for non-up verdicts.
//
// Network, protocol, and configuration failures are down: they are observed
// facts about the target. Internal failures (unexpected_error) are unknown,
// so a bug or resource exhaustion inside the engine never opens or closes
// an incident. Latency over the configured threshold is informational and
// stays up unless the monitor explicitly marks latency as an outage
// condition.
func Evaluate(m *monitor.Monitor, o Outcome) (monitor.Status, string) {
	if o.ErrKind == ErrKindUnexpected {
		return monitor.StatusUnknown, o.ErrMessage
	}
	if !o.Success {
		return monitor.StatusDown, o.ErrMessage
	}

	if m.Type == monitor.TypeHTTP && m.HTTP != nil && m.HTTP.LatencyIsOutage {
		threshold := m.HTTP.ResponseTimeThresholdMs
		if threshold > 0 && o.ResponseTimeMs != nil && *o.ResponseTimeMs > threshold {
			return monitor.StatusDown, fmt.Sprintf(
				"response time %.2fms exceeds threshold %.0fms", *o.ResponseTimeMs, threshold)
		}
	}

	return monitor.StatusUp, ""
}
