// Package checker implements the per-protocol probe strategies and the
// threshold evaluator that turns probe outcomes into verdicts.
package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/uptimo/uptimo/internal/monitor"
)

// ErrKind classifies a probe failure.
type ErrKind string

const (
	ErrKindNone              ErrKind = ""
	ErrKindTimeout           ErrKind = "timeout"
	ErrKindConnectionRefused ErrKind = "connection_refused"
	ErrKindDNS               ErrKind = "dns_resolution_failure"
	ErrKindTLS               ErrKind = "tls_validation_failure"
	ErrKindAuth              ErrKind = "auth_failure"
	ErrKindProtocol          ErrKind = "protocol_error"
	ErrKindUnexpected        ErrKind = "unexpected_error"
)

// Outcome is the normalized result of a single probe. A checker performs
// exactly one probe per invocation; the next scheduled interval is the retry.
type Outcome struct {
	Success        bool
	ResponseTimeMs *float64
	StatusCode     *int
	ErrKind        ErrKind
	ErrMessage     string
	Extra          map[string]any

	// Cache bookkeeping: set when TLS or domain data was (re)collected this
	// probe, so the caller can advance the daily-cadence timestamps.
	CollectedTLS    bool
	CollectedDomain bool
	DomainFailed    bool
}

// failure builds a failed Outcome with a classified error.
func failure(kind ErrKind, format string, args ...any) Outcome {
	return Outcome{
		Success:    false,
		ErrKind:    kind,
		ErrMessage: fmt.Sprintf(format, args...),
	}
}

// Checker performs a single probe against a monitor's target. The monitor's
// timeout is enforced as a hard upper bound through the context deadline.
type Checker interface {
	Check(ctx context.Context, m *monitor.Monitor) Outcome
}

// Registry selects the checker implementation for a monitor type.
type Registry struct {
	checkers map[monitor.Type]Checker
}

// NewRegistry builds a registry over the given domain-info collector.
func NewRegistry(domains *DomainCollector) *Registry {
	return &Registry{
		checkers: map[monitor.Type]Checker{
			monitor.TypeHTTP:  NewHTTPChecker(domains),
			monitor.TypeTCP:   NewTCPChecker(domains),
			monitor.TypePing:  NewPingChecker(domains),
			monitor.TypeKafka: NewKafkaChecker(domains),
		},
	}
}

// For returns the checker for the given monitor type, or nil if unsupported.
func (r *Registry) For(t monitor.Type) Checker {
	return r.checkers[t]
}

// classifyError maps a Go error chain onto the failure taxonomy.
func classifyError(err error) ErrKind {
	if err == nil {
		return ErrKindNone
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrKindTimeout
		}
		return ErrKindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrKindConnectionRefused
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) ||
		errors.As(err, &recordErr) {
		return ErrKindTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}

	return ErrKindProtocol
}
