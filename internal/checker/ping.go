package checker

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Compile-time interface guard.
var _ Checker = (*PingChecker)(nil)

// PingChecker tests host reachability with ICMP echo requests. Unprivileged
// UDP pings are used so the process does not need CAP_NET_RAW; Windows only
// supports privileged mode.
type PingChecker struct {
	domains *DomainCollector
}

// NewPingChecker creates an ICMP ping checker.
func NewPingChecker(domains *DomainCollector) *PingChecker {
	return &PingChecker{domains: domains}
}

// Check sends the configured number of echo requests and reports average
// round-trip time. Total packet loss counts as down.
func (c *PingChecker) Check(ctx context.Context, m *monitor.Monitor) Outcome {
	pinger, err := probing.NewPinger(m.Target)
	if err != nil {
		return failure(ErrKindDNS, "resolve %s: %v", m.Target, err)
	}

	count := 3
	if m.Ping != nil && m.Ping.Count > 0 {
		count = m.Ping.Count
	}
	pinger.Count = count
	pinger.Timeout = m.Timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	if err := pinger.RunWithContext(ctx); err != nil {
		return failure(classifyError(err), "ping %s: %v", m.Target, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return failure(ErrKindTimeout, "ping %s: all %d packets lost", m.Target, count)
	}

	rtt := float64(stats.AvgRtt) / float64(time.Millisecond)
	out := Outcome{
		Success:        true,
		ResponseTimeMs: &rtt,
		Extra: map[string]any{
			"packets_sent":    stats.PacketsSent,
			"packets_recv":    stats.PacketsRecv,
			"packet_loss_pct": stats.PacketLoss,
			"min_rtt_ms":      float64(stats.MinRtt) / float64(time.Millisecond),
			"max_rtt_ms":      float64(stats.MaxRtt) / float64(time.Millisecond),
		},
	}

	if m.Ping != nil && m.Ping.CheckDomain && c.domains.ShouldCollectDomain(m) {
		if info, domFailed, err := c.domains.Collect(ctx, m.Target); err == nil {
			out.Extra["domain"] = info
			out.CollectedDomain = true
			out.DomainFailed = domFailed
		}
	}
	return out
}
