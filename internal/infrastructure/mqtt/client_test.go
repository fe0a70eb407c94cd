package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "gatherly-auth-test",
			TLS:      false,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient builds a client that was never connected.
func disconnectedClient() *Client {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	return &Client{
		cfg:     cfg,
		options: opts,
		client:  pahomqtt.NewClient(opts),
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := disconnectedClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should return error")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishEmptyTopic(t *testing.T) {
	c := disconnectedClient()

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	c := disconnectedClient()

	if err := c.Publish("gatherly/auth/event/test", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	c := disconnectedClient()

	err := c.Publish("gatherly/auth/event/test", []byte("x"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	c := disconnectedClient()

	big := make([]byte, maxPayloadSize+1)
	err := c.Publish("gatherly/auth/event/test", big, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed for oversized payload", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	if got := topics.AuthEvent("logged_in"); got != "gatherly/auth/event/logged_in" {
		t.Errorf("AuthEvent() = %q", got)
	}
	if got := topics.ServiceStatus(); got != "gatherly/auth/status" {
		t.Errorf("ServiceStatus() = %q", got)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
}

func TestBuildClientOptions_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "svc"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if opts.Username != "svc" || opts.Password != "secret" {
		t.Error("credentials should be applied to client options")
	}
}

func TestStatusPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"online":  buildOnlinePayload("gatherly-auth"),
		"offline": buildOfflinePayload("gatherly-auth"),
	} {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			t.Fatalf("%s payload is not valid JSON: %v", name, err)
		}
		if decoded["status"] != name {
			t.Errorf("%s payload status = %v", name, decoded["status"])
		}
		if decoded["client_id"] != "gatherly-auth" {
			t.Errorf("%s payload client_id = %v", name, decoded["client_id"])
		}
	}
}

func TestEventPublisher_CancelledContext(t *testing.T) {
	p := NewEventPublisher(disconnectedClient(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.PublishEvent(ctx, "logged_in", "usr-1", nil); err == nil {
		t.Error("PublishEvent() with cancelled context should return error")
	}
}

func TestEventPublisher_Disconnected(t *testing.T) {
	p := NewEventPublisher(disconnectedClient(), 1)

	err := p.PublishEvent(context.Background(), "logged_in", "usr-1", map[string]any{"outcome": "ok"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent() error = %v, want ErrNotConnected", err)
	}
}

func TestAuthEventEncoding(t *testing.T) {
	payload, err := json.Marshal(authEvent{
		Event:      "locked_out",
		IdentityID: "usr-42",
		Detail:     map[string]any{"outcome": "denied"},
		Timestamp:  "2026-08-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}

	s := string(payload)
	for _, want := range []string{`"event":"locked_out"`, `"identity_id":"usr-42"`, `"outcome":"denied"`} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s missing %s", s, want)
		}
	}
}
