package checker

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uptimo/uptimo/internal/monitor"
)

// DomainCollector gathers WHOIS registration data and DNS records for a
// monitored host. Lookups are rate limited globally so a large monitor fleet
// cannot hammer WHOIS servers, and results are refreshed at most once per TTL
// per monitor.
type DomainCollector struct {
	client  *whois.Client
	limiter *rate.Limiter
	ttl     time.Duration
	logger  *zap.Logger
}

// NewDomainCollector builds a collector with the given refresh TTL and a
// global WHOIS budget of perMinute queries.
func NewDomainCollector(ttl time.Duration, perMinute int, logger *zap.Logger) *DomainCollector {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if perMinute <= 0 {
		perMinute = 10
	}
	return &DomainCollector{
		client:  whois.NewClient(),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		ttl:     ttl,
		logger:  logger,
	}
}

// ShouldCollectDomain reports whether domain data for m is stale enough to
// refresh. Hosts that already failed a lookup (bare IPs, internal names) are
// skipped permanently until the monitor is edited.
func (d *DomainCollector) ShouldCollectDomain(m *monitor.Monitor) bool {
	if d == nil || m.DomainCheckFailed {
		return false
	}
	if net.ParseIP(hostOnly(m.Target)) != nil {
		return false
	}
	return m.LastDomainCheck == nil || time.Since(*m.LastDomainCheck) >= d.ttl
}

// ShouldCollectTLS reports whether TLS certificate data for m is due a
// refresh on the same cadence.
func (d *DomainCollector) ShouldCollectTLS(m *monitor.Monitor) bool {
	if d == nil {
		return false
	}
	return m.LastTLSCheck == nil || time.Since(*m.LastTLSCheck) >= d.ttl
}

// Collect performs the WHOIS and DNS lookups for host. The returned map is
// suitable for a CheckResult's extra data. failed reports a permanent lookup
// failure that should suppress future attempts for this monitor.
func (d *DomainCollector) Collect(ctx context.Context, host string) (info map[string]any, failed bool, err error) {
	host = hostOnly(host)

	info = map[string]any{"domain": host}

	if recs := d.lookupDNS(ctx, host); len(recs) > 0 {
		info["dns"] = recs
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	raw, err := d.client.Whois(registrableDomain(host))
	if err != nil {
		d.logger.Debug("whois lookup failed", zap.String("host", host), zap.Error(err))
		return info, true, nil
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		d.logger.Debug("whois parse failed", zap.String("host", host), zap.Error(err))
		return info, true, nil
	}

	reg := map[string]any{}
	if parsed.Registrar != nil {
		reg["registrar"] = parsed.Registrar.Name
	}
	if parsed.Domain != nil {
		reg["created"] = parsed.Domain.CreatedDate
		reg["updated"] = parsed.Domain.UpdatedDate
		reg["expires"] = parsed.Domain.ExpirationDate
		reg["name_servers"] = parsed.Domain.NameServers
		reg["statuses"] = parsed.Domain.Status
		if parsed.Domain.ExpirationDateInTime != nil {
			reg["days_to_expiration"] = int(time.Until(*parsed.Domain.ExpirationDateInTime).Hours() / 24)
		}
	}
	info["registration"] = reg
	return info, false, nil
}

// lookupDNS resolves the common record types for host. Individual lookup
// failures are ignored: absence of a record type is normal.
func (d *DomainCollector) lookupDNS(ctx context.Context, host string) map[string]any {
	res := net.DefaultResolver
	recs := map[string]any{}

	if ips, err := res.LookupHost(ctx, host); err == nil && len(ips) > 0 {
		recs["a"] = ips
	}
	if cname, err := res.LookupCNAME(ctx, host); err == nil && cname != "" && cname != host+"." {
		recs["cname"] = strings.TrimSuffix(cname, ".")
	}
	if mxs, err := res.LookupMX(ctx, host); err == nil && len(mxs) > 0 {
		hosts := make([]string, 0, len(mxs))
		for _, mx := range mxs {
			hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
		}
		recs["mx"] = hosts
	}
	if txts, err := res.LookupTXT(ctx, host); err == nil && len(txts) > 0 {
		recs["txt"] = txts
	}
	return recs
}

// hostOnly strips a scheme, port, and path from a monitor target, leaving the
// bare hostname.
func hostOnly(target string) string {
	s := target
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}

// registrableDomain reduces a hostname to its last two labels, which is what
// WHOIS servers answer for. Multi-part public suffixes (co.uk) are served
// fine by most registries via referral, so the simple form is kept.
func registrableDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
