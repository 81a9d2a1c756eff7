// Package monitor defines the monitor data model and its SQLite store.
package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the probe protocol for a monitor.
type Type string

const (
	TypeHTTP  Type = "http"
	TypeTCP   Type = "tcp"
	TypePing  Type = "ping"
	TypeKafka Type = "kafka"
)

// Valid reports whether t is a known monitor type.
func (t Type) Valid() bool {
	switch t {
	case TypeHTTP, TypeTCP, TypePing, TypeKafka:
		return true
	}
	return false
}

// Status classifies a check outcome.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// Monitor is a configured target, protocol, schedule, and outage criteria.
// Exactly one of the per-type config fields is non-nil, selected by Type.
type Monitor struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Type          Type          `json:"type"`
	Target        string        `json:"target"`
	CheckInterval time.Duration `json:"check_interval"`
	Timeout       time.Duration `json:"timeout"`
	Active        bool          `json:"active"`

	// DebounceCount is the number of consecutive down verdicts required
	// before an incident opens. Minimum effective value is 1 (immediate).
	DebounceCount int `json:"debounce_count"`

	HTTP  *HTTPConfig  `json:"http,omitempty"`
	TCP   *TCPConfig   `json:"tcp,omitempty"`
	Ping  *PingConfig  `json:"ping,omitempty"`
	Kafka *KafkaConfig `json:"kafka,omitempty"`

	// Daily-cadence cache bookkeeping for TLS and domain data collection.
	LastTLSCheck      *time.Time `json:"last_tls_check,omitempty"`
	LastDomainCheck   *time.Time `json:"last_domain_check,omitempty"`
	DomainCheckFailed bool       `json:"domain_check_failed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String match modes for HTTPConfig.StringMatchType.
const (
	MatchContains    = "contains"
	MatchNotContains = "not_contains"
	MatchRegex       = "regex"
)

// HTTPConfig holds HTTP/HTTPS outage criteria and request settings.
// Zero-value optional fields mean "no constraint".
type HTTPConfig struct {
	Method              string            `json:"method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                string            `json:"body,omitempty"`
	ExpectedStatusCodes []int             `json:"expected_status_codes,omitempty"`

	// ResponseTimeThresholdMs is informational unless LatencyIsOutage is set.
	ResponseTimeThresholdMs float64 `json:"response_time_threshold_ms,omitempty"`
	LatencyIsOutage         bool    `json:"latency_is_outage,omitempty"`

	StringMatch     string `json:"string_match,omitempty"`
	StringMatchType string `json:"string_match_type,omitempty"` // contains, not_contains, regex
	JSONPathMatch   string `json:"json_path_match,omitempty"`   // "path.to.field=expected"

	VerifySSL                   bool `json:"verify_ssl"`
	CheckCertExpiration         bool `json:"check_cert_expiration"`
	CertExpirationThresholdDays int  `json:"cert_expiration_threshold_days,omitempty"`

	// PEM material for mTLS.
	CACertPEM     string `json:"ca_cert_pem,omitempty"`
	ClientCertPEM string `json:"client_cert_pem,omitempty"`
	ClientKeyPEM  string `json:"client_key_pem,omitempty"`

	CheckDomain    bool   `json:"check_domain"`
	ExpectedDomain string `json:"expected_domain,omitempty"`
}

// TCPConfig holds TCP connect check settings. The monitor target carries
// the host:port.
type TCPConfig struct {
	CheckDomain    bool   `json:"check_domain"`
	ExpectedDomain string `json:"expected_domain,omitempty"`
}

// PingConfig holds ICMP echo settings.
type PingConfig struct {
	Count       int  `json:"count,omitempty"`
	CheckDomain bool `json:"check_domain"`
}

// KafkaConfig holds broker connectivity, security, and topic settings.
type KafkaConfig struct {
	SecurityProtocol string `json:"security_protocol,omitempty"` // PLAINTEXT, SSL, SASL_SSL, SASL_PLAINTEXT
	SASLMechanism    string `json:"sasl_mechanism,omitempty"`    // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512, OAUTHBEARER
	SASLUsername     string `json:"sasl_username,omitempty"`
	SASLPassword     string `json:"sasl_password,omitempty"`

	// OAuth2 client-credentials settings for OAUTHBEARER. Tokens are
	// fetched fresh per check and never persisted.
	OAuthTokenURL     string `json:"oauth_token_url,omitempty"`
	OAuthClientID     string `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `json:"oauth_client_secret,omitempty"`

	CACertPEM     string `json:"ca_cert_pem,omitempty"`
	ClientCertPEM string `json:"client_cert_pem,omitempty"`
	ClientKeyPEM  string `json:"client_key_pem,omitempty"`

	Topic          string `json:"topic,omitempty"`
	ConsumerGroup  string `json:"consumer_group,omitempty"`
	ReadMessage    bool   `json:"read_message,omitempty"`
	WriteMessage   bool   `json:"write_message,omitempty"`
	MessagePayload string `json:"message_payload,omitempty"`
	Autocommit     bool   `json:"autocommit,omitempty"`
}

// Debounce returns the effective consecutive-down threshold (>= 1).
func (m *Monitor) Debounce() int {
	if m.DebounceCount < 1 {
		return 1
	}
	return m.DebounceCount
}

// encodeConfig serializes the type-selected config variant to JSON for storage.
func (m *Monitor) encodeConfig() (string, error) {
	var cfg any
	switch m.Type {
	case TypeHTTP:
		cfg = m.HTTP
	case TypeTCP:
		cfg = m.TCP
	case TypePing:
		cfg = m.Ping
	case TypeKafka:
		cfg = m.Kafka
	default:
		return "", fmt.Errorf("unsupported monitor type %q", m.Type)
	}
	if cfg == nil || isNilConfig(cfg) {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal %s config: %w", m.Type, err)
	}
	return string(b), nil
}

// decodeConfig populates the config variant matching m.Type from stored JSON.
func (m *Monitor) decodeConfig(blob string) error {
	if blob == "" {
		blob = "{}"
	}
	switch m.Type {
	case TypeHTTP:
		m.HTTP = &HTTPConfig{}
		return json.Unmarshal([]byte(blob), m.HTTP)
	case TypeTCP:
		m.TCP = &TCPConfig{}
		return json.Unmarshal([]byte(blob), m.TCP)
	case TypePing:
		m.Ping = &PingConfig{}
		return json.Unmarshal([]byte(blob), m.Ping)
	case TypeKafka:
		m.Kafka = &KafkaConfig{}
		return json.Unmarshal([]byte(blob), m.Kafka)
	}
	return fmt.Errorf("unsupported monitor type %q", m.Type)
}

func isNilConfig(cfg any) bool {
	switch c := cfg.(type) {
	case *HTTPConfig:
		return c == nil
	case *TCPConfig:
		return c == nil
	case *PingConfig:
		return c == nil
	case *KafkaConfig:
		return c == nil
	}
	return false
}

// CheckResult is one executed probe's immutable, persisted outcome.
type CheckResult struct {
	ID             int64          `json:"id"`
	MonitorID      int64          `json:"monitor_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         Status         `json:"status"`
	ResponseTimeMs *float64       `json:"response_time_ms,omitempty"`
	StatusCode     *int           `json:"status_code,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"` // tls/domain/dns/kafka info
}
