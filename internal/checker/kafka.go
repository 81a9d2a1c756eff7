package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/uptimo/uptimo/internal/monitor"
)

// Compile-time interface guard.
var _ Checker = (*KafkaChecker)(nil)

// KafkaChecker probes Kafka clusters: broker reachability via a metadata
// request, optional consume of the latest message on a topic, and optional
// produce of a test message. Supports PLAINTEXT, SSL, SASL_PLAINTEXT and
// SASL_SSL with PLAIN, SCRAM and OAUTHBEARER mechanisms.
type KafkaChecker struct {
	domains *DomainCollector
}

// NewKafkaChecker creates a Kafka checker.
func NewKafkaChecker(domains *DomainCollector) *KafkaChecker {
	return &KafkaChecker{domains: domains}
}

// Check connects to the brokers listed in the monitor target (comma
// separated host:port) and runs the configured probes.
func (c *KafkaChecker) Check(ctx context.Context, m *monitor.Monitor) Outcome {
	cfg := m.Kafka
	if cfg == nil {
		cfg = &monitor.KafkaConfig{}
	}

	brokers := splitBrokers(m.Target)
	if len(brokers) == 0 {
		return failure(ErrKindProtocol, "no brokers in target %q", m.Target)
	}

	opts, err := c.clientOpts(ctx, brokers, cfg, m.Timeout)
	if err != nil {
		return classifyKafkaOutcome(err)
	}

	if cfg.ReadMessage && cfg.Topic != "" {
		opts = append(opts,
			kgo.ConsumeTopics(cfg.Topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd().Relative(-1)),
		)
		if cfg.ConsumerGroup != "" {
			opts = append(opts, kgo.ConsumerGroup(cfg.ConsumerGroup))
			if !cfg.Autocommit {
				// Leave offsets untouched so the probe never steals
				// messages from real consumers in the group.
				opts = append(opts, kgo.DisableAutoCommit())
			}
		}
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return classifyKafkaOutcome(err)
	}
	defer client.Close()

	start := time.Now()
	meta, err := kadm.NewClient(client).BrokerMetadata(ctx)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		out := classifyKafkaOutcome(err)
		out.ResponseTimeMs = &elapsed
		return out
	}

	out := Outcome{
		Success:        true,
		ResponseTimeMs: &elapsed,
		Extra: map[string]any{
			"broker_count": len(meta.Brokers),
			"cluster_id":   meta.Cluster,
		},
	}

	if cfg.ReadMessage && cfg.Topic != "" {
		c.consumeLatest(ctx, client, cfg, &out)
	}
	if out.Success && cfg.WriteMessage && cfg.Topic != "" {
		c.produceProbe(ctx, client, cfg, &out)
	}

	c.collectBrokerCert(ctx, m, cfg, brokers[0], &out)
	return out
}

// clientOpts assembles franz-go options for the monitor's security settings.
// OAUTHBEARER tokens are fetched fresh on every check so a dead identity
// provider surfaces as a failed check rather than a silently stale token.
func (c *KafkaChecker) clientOpts(ctx context.Context, brokers []string, cfg *monitor.KafkaConfig, timeout time.Duration) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DialTimeout(timeout),
		kgo.RetryTimeout(timeout),
	}

	proto := strings.ToUpper(cfg.SecurityProtocol)
	if proto == "" {
		proto = "PLAINTEXT"
	}

	if proto == "SSL" || proto == "SASL_SSL" {
		tlsCfg, err := kafkaTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}

	if proto == "SASL_PLAINTEXT" || proto == "SASL_SSL" {
		switch strings.ToUpper(cfg.SASLMechanism) {
		case "", "PLAIN":
			opts = append(opts, kgo.SASL(plain.Auth{
				User: cfg.SASLUsername,
				Pass: cfg.SASLPassword,
			}.AsMechanism()))
		case "SCRAM-SHA-256":
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.SASLUsername,
				Pass: cfg.SASLPassword,
			}.AsSha256Mechanism()))
		case "SCRAM-SHA-512":
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.SASLUsername,
				Pass: cfg.SASLPassword,
			}.AsSha512Mechanism()))
		case "OAUTHBEARER":
			tok, err := fetchOAuthToken(ctx, cfg)
			if err != nil {
				return nil, &authError{err: fmt.Errorf("oauth token: %w", err)}
			}
			opts = append(opts, kgo.SASL(oauth.Auth{Token: tok}.AsMechanism()))
		default:
			return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.SASLMechanism)
		}
	}

	return opts, nil
}

// consumeLatest polls for the most recent message on the configured topic
// and records its metadata. An empty topic is not an outage.
func (c *KafkaChecker) consumeLatest(ctx context.Context, client *kgo.Client, cfg *monitor.KafkaConfig, out *Outcome) {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fetches := client.PollFetches(pollCtx)
	if err := firstFetchErr(fetches); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		*out = classifyKafkaOutcome(fmt.Errorf("consume %s: %w", cfg.Topic, err))
		return
	}

	var last *kgo.Record
	fetches.EachRecord(func(r *kgo.Record) { last = r })
	if last == nil {
		out.Extra["topic_empty"] = true
		return
	}

	out.Extra["last_message"] = map[string]any{
		"partition": last.Partition,
		"offset":    last.Offset,
		"timestamp": last.Timestamp.UTC().Format(time.RFC3339),
		"age_ms":    float64(time.Since(last.Timestamp)) / float64(time.Millisecond),
	}
}

// produceProbe publishes a small JSON message to the configured topic.
func (c *KafkaChecker) produceProbe(ctx context.Context, client *kgo.Client, cfg *monitor.KafkaConfig, out *Outcome) {
	payload := cfg.MessagePayload
	if payload == "" {
		raw, _ := json.Marshal(map[string]any{
			"source": "uptimo",
			"kind":   "probe",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		payload = string(raw)
	}

	rec := &kgo.Record{Topic: cfg.Topic, Value: []byte(payload)}
	if err := client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		*out = classifyKafkaOutcome(fmt.Errorf("produce %s: %w", cfg.Topic, err))
		return
	}
	out.Extra["produced_offset"] = rec.Offset
}

// collectBrokerCert inspects the first broker's TLS certificate on the slow
// cadence for SSL-enabled clusters.
func (c *KafkaChecker) collectBrokerCert(ctx context.Context, m *monitor.Monitor, cfg *monitor.KafkaConfig, broker string, out *Outcome) {
	proto := strings.ToUpper(cfg.SecurityProtocol)
	if proto != "SSL" && proto != "SASL_SSL" {
		return
	}
	if !c.domains.ShouldCollectTLS(m) {
		return
	}
	info, err := inspectCert(ctx, broker, hostOnly(broker))
	if err != nil {
		return
	}
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["tls"] = info.Map()
	out.CollectedTLS = true
}

// fetchOAuthToken performs a client-credentials grant against the configured
// token endpoint. No caching: token freshness is part of what the check
// verifies.
func fetchOAuthToken(ctx context.Context, cfg *monitor.KafkaConfig) (string, error) {
	if cfg.OAuthTokenURL == "" {
		return "", fmt.Errorf("oauthbearer mechanism requires a token URL")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		TokenURL:     cfg.OAuthTokenURL,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// kafkaTLSConfig builds the TLS settings for SSL-enabled protocols from the
// monitor's PEM material.
func kafkaTLSConfig(cfg *monitor.KafkaConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
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
	return tlsCfg, nil
}

// authError marks failures that must surface as authentication problems.
type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

// classifyKafkaOutcome maps broker and mechanism errors to the failure
// taxonomy. Authentication and authorization problems are kept distinct from
// plain connectivity failures.
func classifyKafkaOutcome(err error) Outcome {
	var ae *authError
	if errors.As(err, &ae) {
		return failure(ErrKindAuth, "%v", err)
	}
	if errors.Is(err, kerr.SaslAuthenticationFailed) ||
		errors.Is(err, kerr.TopicAuthorizationFailed) ||
		errors.Is(err, kerr.GroupAuthorizationFailed) ||
		errors.Is(err, kerr.ClusterAuthorizationFailed) ||
		errors.Is(err, kerr.UnsupportedSaslMechanism) ||
		errors.Is(err, kerr.IllegalSaslState) {
		return failure(ErrKindAuth, "%v", err)
	}
	return failure(classifyError(err), "%v", err)
}

// firstFetchErr extracts the first real error from a poll, ignoring
// per-partition end-of-data markers.
func firstFetchErr(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if fe.Err != nil {
			return fe.Err
		}
	}
	return nil
}

// splitBrokers parses a comma separated broker list.
func splitBrokers(target string) []string {
	var out []string
	for _, b := range strings.Split(target, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
