package broker

import (
	"context"
	"testing"
	"time"

	"github.com/mqttgov/proxy/internal/config"
)

func testBrokerURLSchemes(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Broker
		want string
	}{
		{"tcp", config.Broker{Host: "h", Port: "1883", Transport: config.TransportTCP}, "tcp://h:1883"},
		{"tls", config.Broker{Host: "h", Port: "8883", Transport: config.TransportTLS}, "ssl://h:8883"},
		{"websocket", config.Broker{Host: "h", Port: "443", Transport: config.TransportWebSocket, WebSocketPath: "/mqtt"}, "ws://h:443/mqtt"},
		{"websocket tls", config.Broker{Host: "h", Port: "443", Transport: config.TransportWebSocket, WebSocketPath: "/mqtt", TLS: config.TLSConfig{Enabled: true}}, "wss://h:443/mqtt"},
	}
	for _, c := range cases {
		if got := brokerURL(c.cfg); got != c.want {
			t.Errorf("%s: got %s want %s", c.name, got, c.want)
		}
	}
}

func testStateString(t *testing.T) {
	if StateConnected.String() != "connected" {
		t.Fatalf("unexpected state string %s", StateConnected.String())
	}
	if State(99).String() != "unknown" {
		t.Fatalf("expected unknown for out-of-range state")
	}
}

func testSleepBackoffReturnsFalseOnCancelledContext(t *testing.T) {
	c := New(RoleSubscriber, config.Broker{Host: "127.0.0.1", Port: "1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.sleepBackoff(ctx, 1) {
		t.Fatal("expected false when context is already cancelled")
	}
}

func testSleepBackoffCapsDelay(t *testing.T) {
	c := New(RoleSubscriber, config.Broker{Host: "127.0.0.1", Port: "1"}, nil)
	c.lastStable = time.Now() // recently stable, so attempt is not reset to 1
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	c.sleepBackoff(ctx, 100) // large attempt must still be capped at backoffCap
	if elapsed := time.Since(start); elapsed > backoffCap+time.Second {
		t.Fatalf("expected backoff delay to be capped near %s, took %s", backoffCap, elapsed)
	}
}

func testNewDoesNotConnect(t *testing.T) {
	c := New(RolePublisher, config.Broker{Host: "127.0.0.1", Port: "1"}, nil)
	if c.Connected() {
		t.Fatal("expected new client to start disconnected")
	}
	if c.cb == nil {
		t.Fatal("expected publisher role to get a circuit breaker")
	}
}

func TestBroker(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"broker url schemes", testBrokerURLSchemes},
		{"state string", testStateString},
		{"sleep backoff returns false on cancelled context", testSleepBackoffReturnsFalseOnCancelledContext},
		{"sleep backoff caps delay", testSleepBackoffCapsDelay},
		{"new does not connect", testNewDoesNotConnect},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
