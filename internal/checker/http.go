package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Compile-time interface guard.
var _ Checker = (*HTTPChecker)(nil)

// maxBodyBytes bounds how much of a response body is read for content matching.
const maxBodyBytes = 1 << 20

// HTTPChecker probes HTTP/HTTPS endpoints: status code sets, response body
// matching, latency thresholds, TLS certificate expiration, and domain
// registration data on a slow cadence.
type HTTPChecker struct {
	domains *DomainCollector
}

// NewHTTPChecker creates an HTTP checker. Domain and certificate collection
// cadence is governed by the shared collector.
func NewHTTPChecker(domains *DomainCollector) *HTTPChecker {
	return &HTTPChecker{domains: domains}
}

// Check sends the configured request to the monitor's target URL and
// evaluates the response against the monitor's HTTP expectations.
func (c *HTTPChecker) Check(ctx context.Context, m *monitor.Monitor) Outcome {
	cfg := m.HTTP
	if cfg == nil {
		cfg = &monitor.HTTPConfig{}
	}

	u, err := url.Parse(m.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return failure(ErrKindProtocol, "invalid URL %q", m.Target)
	}

	client, err := c.buildClient(m, cfg)
	if err != nil {
		return failure(ErrKindTLS, "tls config: %v", err)
	}
	defer client.CloseIdleConnections()

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.Target, body)
	if err != nil {
		return failure(ErrKindProtocol, "build request: %v", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		out := failure(classifyError(err), "%v", err)
		out.ResponseTimeMs = &elapsed
		return out
	}
	defer resp.Body.Close()

	out := Outcome{
		Success:        true,
		ResponseTimeMs: &elapsed,
		StatusCode:     &resp.StatusCode,
		Extra:          map[string]any{},
	}

	if !statusOK(resp.StatusCode, cfg.ExpectedStatusCodes) {
		out.Success = false
		out.ErrKind = ErrKindProtocol
		out.ErrMessage = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if out.Success && (cfg.StringMatch != "" || cfg.JSONPathMatch != "") {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			out.Success = false
			out.ErrKind = classifyError(err)
			out.ErrMessage = fmt.Sprintf("read body: %v", err)
		} else if msg := matchBody(cfg, data); msg != "" {
			out.Success = false
			out.ErrKind = ErrKindProtocol
			out.ErrMessage = msg
		}
	}

	c.collectTLS(ctx, m, cfg, u, &out)
	c.collectDomain(ctx, m, u.Hostname(), cfg.CheckDomain, &out)

	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

// buildClient assembles a per-check HTTP client honoring the monitor's TLS
// settings. Clients are not pooled: certificate material differs per monitor.
func (c *HTTPChecker) buildClient(m *monitor.Monitor, cfg *monitor.HTTPConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.VerifySSL, //nolint:gosec // G402: per-monitor opt-out for self-signed certs
	}

	if cfg.CACertPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.CACertPEM)) {
			return nil, fmt.Errorf("invalid CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCertPEM != "" || cfg.ClientKeyPEM != "" {
		cert, err := tls.X509KeyPair([]byte(cfg.ClientCertPEM), []byte(cfg.ClientKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return &http.Client{
		Timeout: m.Timeout,
		Transport: &http.Transport{
			TLSClientConfig:   tlsCfg,
			DisableKeepAlives: true,
		},
	}, nil
}

// collectTLS inspects the server certificate when the monitor asks for
// expiration checks or when collected cert data is stale. An expiring
// certificate within the configured threshold fails the check.
func (c *HTTPChecker) collectTLS(ctx context.Context, m *monitor.Monitor, cfg *monitor.HTTPConfig, u *url.URL, out *Outcome) {
	if u.Scheme != "https" {
		return
	}
	due := c.domains.ShouldCollectTLS(m)
	if !cfg.CheckCertExpiration && !due {
		return
	}

	port := u.Port()
	if port == "" {
		port = "443"
	}
	info, err := inspectCert(ctx, u.Hostname()+":"+port, u.Hostname())
	if err != nil {
		// The main request already succeeded or failed on its own terms;
		// cert inspection failure only blocks the expiration verdict.
		if cfg.CheckCertExpiration && out.Success {
			out.Success = false
			out.ErrKind = ErrKindTLS
			out.ErrMessage = fmt.Sprintf("certificate inspection: %v", err)
		}
		return
	}

	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["tls"] = info.Map()
	out.CollectedTLS = true

	if cfg.CheckCertExpiration && out.Success {
		threshold := cfg.CertExpirationThresholdDays
		if threshold <= 0 {
			threshold = 30
		}
		if info.DaysToExpiration < threshold {
			out.Success = false
			out.ErrKind = ErrKindTLS
			out.ErrMessage = fmt.Sprintf("certificate expires in %d days (threshold %d)", info.DaysToExpiration, threshold)
		}
	}
}

// collectDomain refreshes WHOIS and DNS records on the slow cadence and, when
// an expected domain is configured, fails the check on a mismatch.
func (c *HTTPChecker) collectDomain(ctx context.Context, m *monitor.Monitor, host string, enabled bool, out *Outcome) {
	cfg := m.HTTP
	if cfg != nil && cfg.ExpectedDomain != "" && out.Success {
		if !strings.EqualFold(strings.TrimSuffix(host, "."), strings.TrimSuffix(cfg.ExpectedDomain, ".")) {
			out.Success = false
			out.ErrKind = ErrKindProtocol
			out.ErrMessage = fmt.Sprintf("host %s does not match expected domain %s", host, cfg.ExpectedDomain)
		}
	}

	if !enabled || !c.domains.ShouldCollectDomain(m) {
		return
	}
	info, domFailed, err := c.domains.Collect(ctx, host)
	if err != nil {
		return
	}
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["domain"] = info
	out.CollectedDomain = true
	out.DomainFailed = domFailed
}

// statusOK reports whether code is acceptable. With no explicit set
// configured, any 2xx or 3xx status counts as up.
func statusOK(code int, expected []int) bool {
	if len(expected) == 0 {
		return code >= 200 && code < 400
	}
	for _, want := range expected {
		if code == want {
			return true
		}
	}
	return false
}

// matchBody applies the configured content assertions to the response body.
// An empty return means all assertions passed.
func matchBody(cfg *monitor.HTTPConfig, data []byte) string {
	if cfg.StringMatch != "" {
		switch cfg.StringMatchType {
		case monitor.MatchNotContains:
			if strings.Contains(string(data), cfg.StringMatch) {
				return fmt.Sprintf("response contains forbidden string %q", cfg.StringMatch)
			}
		case monitor.MatchRegex:
			re, err := regexp.Compile(cfg.StringMatch)
			if err != nil {
				return fmt.Sprintf("invalid match pattern: %v", err)
			}
			if !re.Match(data) {
				return fmt.Sprintf("response does not match pattern %q", cfg.StringMatch)
			}
		default: // contains
			if !strings.Contains(string(data), cfg.StringMatch) {
				return fmt.Sprintf("response does not contain %q", cfg.StringMatch)
			}
		}
	}

	if cfg.JSONPathMatch != "" {
		path, want, ok := strings.Cut(cfg.JSONPathMatch, "=")
		if !ok {
			return fmt.Sprintf("invalid json match %q: missing '='", cfg.JSONPathMatch)
		}
		got, err := jsonPathValue(data, strings.TrimSpace(path))
		if err != nil {
			return fmt.Sprintf("json match %q: %v", path, err)
		}
		if got != strings.TrimSpace(want) {
			return fmt.Sprintf("json field %q is %q, want %q", path, got, strings.TrimSpace(want))
		}
	}
	return ""
}

// jsonPathValue walks a dotted path through a JSON document and returns the
// terminal value rendered as a string. Numeric path segments index arrays.
func jsonPathValue(data []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse body: %w", err)
	}

	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("field %q not found", seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("index %q out of range", seg)
			}
			cur = node[idx]
		default:
			return "", fmt.Errorf("field %q not found", seg)
		}
	}

	switch v := cur.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "null", nil
	default:
		raw, _ := json.Marshal(v)
		return string(raw), nil
	}
}
