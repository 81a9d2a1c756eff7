package checker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Compile-time interface guard.
var _ Checker = (*TCPChecker)(nil)

// TCPChecker tests TCP connectivity to host:port targets.
type TCPChecker struct {
	domains *DomainCollector
}

// NewTCPChecker creates a TCP checker.
func NewTCPChecker(domains *DomainCollector) *TCPChecker {
	return &TCPChecker{domains: domains}
}

// Check connects to the target (host:port) and measures connection time.
func (c *TCPChecker) Check(ctx context.Context, m *monitor.Monitor) Outcome {
	host, _, err := net.SplitHostPort(m.Target)
	if err != nil {
		return failure(ErrKindProtocol, "invalid target %q: %v", m.Target, err)
	}

	start := time.Now()
	dialer := net.Dialer{Timeout: m.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.Target)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		out := failure(classifyError(err), "tcp connect %s: %v", m.Target, err)
		out.ResponseTimeMs = &elapsed
		return out
	}
	conn.Close()

	out := Outcome{Success: true, ResponseTimeMs: &elapsed}

	if m.TCP != nil && m.TCP.ExpectedDomain != "" && !strings.EqualFold(host, m.TCP.ExpectedDomain) {
		out.Success = false
		out.ErrKind = ErrKindProtocol
		out.ErrMessage = fmt.Sprintf("host %s does not match expected domain %s", host, m.TCP.ExpectedDomain)
	}

	if m.TCP != nil && m.TCP.CheckDomain && c.domains.ShouldCollectDomain(m) {
		if info, domFailed, err := c.domains.Collect(ctx, host); err == nil {
			out.Extra = map[string]any{"domain": info}
			out.CollectedDomain = true
			out.DomainFailed = domFailed
		}
	}
	return out
}
