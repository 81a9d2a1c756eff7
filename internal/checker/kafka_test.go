package checker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uptimo/uptimo/internal/monitor"
)

func kafkaMonitor(target string, cfg *monitor.KafkaConfig) *monitor.Monitor {
	return &monitor.Monitor{
		ID:      1,
		Name:    "broker",
		Type:    monitor.TypeKafka,
		Target:  target,
		Timeout: 2 * time.Second,
		Kafka:   cfg,
	}
}

func TestKafkaChecker_NoBrokers(t *testing.T) {
	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("  ,  ", nil))
	if out.Success {
		t.Fatal("Check succeeded with empty broker list")
	}
	if out.ErrKind != ErrKindProtocol {
		t.Errorf("ErrKind = %q, want %q", out.ErrKind, ErrKindProtocol)
	}
}

func TestKafkaChecker_OAuthTokenURLUnreachable(t *testing.T) {
	// Token endpoint that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tokenURL := "http://" + ln.Addr().String() + "/token"
	ln.Close()

	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("broker:9092", &monitor.KafkaConfig{
		SecurityProtocol:  "SASL_SSL",
		SASLMechanism:     "OAUTHBEARER",
		OAuthTokenURL:     tokenURL,
		OAuthClientID:     "probe",
		OAuthClientSecret: "secret",
	}))
	if out.Success {
		t.Fatal("Check succeeded with unreachable token endpoint")
	}
	if out.ErrKind != ErrKindAuth {
		t.Errorf("ErrKind = %q, want %q", out.ErrKind, ErrKindAuth)
	}
}

func TestKafkaChecker_OAuthTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("broker:9092", &monitor.KafkaConfig{
		SecurityProtocol: "SASL_PLAINTEXT",
		SASLMechanism:    "OAUTHBEARER",
		OAuthTokenURL:    srv.URL + "/token",
		OAuthClientID:    "probe",
	}))
	if out.Success {
		t.Fatal("Check succeeded with rejected credentials")
	}
	if out.ErrKind != ErrKindAuth {
		t.Errorf("ErrKind = %q, want %q", out.ErrKind, ErrKindAuth)
	}
}

func TestKafkaChecker_MissingTokenURL(t *testing.T) {
	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("broker:9092", &monitor.KafkaConfig{
		SecurityProtocol: "SASL_SSL",
		SASLMechanism:    "OAUTHBEARER",
	}))
	if out.Success {
		t.Fatal("Check succeeded without a token URL")
	}
	if out.ErrKind != ErrKindAuth {
		t.Errorf("ErrKind = %q, want %q", out.ErrKind, ErrKindAuth)
	}
}

func TestKafkaChecker_UnsupportedMechanism(t *testing.T) {
	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("broker:9092", &monitor.KafkaConfig{
		SecurityProtocol: "SASL_PLAINTEXT",
		SASLMechanism:    "GSSAPI",
	}))
	if out.Success {
		t.Fatal("Check succeeded with unsupported mechanism")
	}
}

func TestKafkaChecker_BadCACert(t *testing.T) {
	c := NewKafkaChecker(testCollector(t))
	out := c.Check(context.Background(), kafkaMonitor("broker:9092", &monitor.KafkaConfig{
		SecurityProtocol: "SSL",
		CACertPEM:        "not a pem",
	}))
	if out.Success {
		t.Fatal("Check succeeded with invalid CA cert")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers("a:9092, b:9092 ,,c:9092")
	want := []string{"a:9092", "b:9092", "c:9092"}
	if len(got) != len(want) {
		t.Fatalf("splitBrokers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitBrokers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
