package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/familyhealth/health-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "healthcore-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"AuthEvent", Topics{}.AuthEvent("login_failure"), "healthcore/auth/events/login_failure"},
		{"AuthEvent lockout", Topics{}.AuthEvent("lockout"), "healthcore/auth/events/lockout"},
		{"SystemStatus", Topics{}.SystemStatus(), "healthcore/system/status"},
		{"AllAuthEvents", Topics{}.AllAuthEvents(), "healthcore/auth/events/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() with TLS = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if opts.ClientID != "healthcore-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect should be enabled")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "healthcore-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Error("LWT should be enabled, retained, QoS 1")
	}
	if opts.WillTopic != "healthcore/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "healthcore-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload_OmitsEmptyReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got := string(buildStatusPayload("c1", "online", "", now))

	if strings.Contains(got, "reason") {
		t.Errorf("online payload should omit reason: %s", got)
	}
	if !strings.Contains(got, `"timestamp":"2026-03-01T10:00:00Z"`) {
		t.Errorf("unexpected timestamp: %s", got)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "healthcore/auth/events/x", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized payload", "healthcore/auth/events/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "healthcore/auth/events/x", []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{cfg: testConfig()}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestHandleDisconnect_NotifiesCallbackAndLogger(t *testing.T) {
	c := &Client{cfg: testConfig(), connected: true}
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	cause := errors.New("broker went away")
	c.handleDisconnect(cause)

	if got != cause {
		t.Errorf("callback error = %v, want %v", got, cause)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected one warning, got %d", len(logger.warns))
	}
}

func TestSetLogger(t *testing.T) {
	c := &Client{}
	c.SetLogger(&mockLogger{})
	if c.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}
	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
