// Package broker wraps the two MQTT client roles the proxy holds open —
// subscriber (ingest) and publisher (forward) — around paho.mqtt.golang,
// adding reconnect-with-backoff, publish backpressure, and circuit
// breaking around the publish path.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/mqttgov/proxy/internal/config"
	"github.com/mqttgov/proxy/internal/logger"
)

// State is the connection lifecycle state of a Client.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ErrQueueSaturated is returned by Publish when paho has not completed the
// publish within 5 seconds, so the pipeline can quarantine the message as
// upstream_unavailable. The worker goroutine is blocked for that wait.
var ErrQueueSaturated = errors.New("broker: publish queue saturated")

// Role identifies which of the two connections a Client serves.
type Role string

// The two roles the proxy holds connections for.
const (
	RoleSubscriber Role = "subscriber"
	RolePublisher  Role = "publisher"
)

const (
	backoffBase  = time.Second
	backoffCap   = 60 * time.Second
	stableAfter  = 60 * time.Second
	publishQueue = 1000
)

// Handler processes one inbound message. It must not block for long —
// the pipeline owns its own worker pool and enqueues quickly.
type Handler func(topic string, payload []byte, qos byte, retain bool)

// Client manages one MQTT connection with reconnect and, for publishers, a
// circuit breaker around the publish path.
type Client struct {
	role   Role
	cfg    config.Broker
	lg     logger.Logger
	client MQTT.Client
	cb     *gobreaker.CircuitBreaker

	state      State
	onStateCh  chan State
	lastStable time.Time

	handler Handler
}

// New constructs a Client for role from cfg. The underlying paho client is
// created but not connected; call Connect to dial.
func New(role Role, cfg config.Broker, lg logger.Logger) *Client {
	if lg == nil {
		lg = logger.Null
	}
	c := &Client{role: role, cfg: cfg, lg: lg, onStateCh: make(chan State, 16)}

	if role == RolePublisher {
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker-publisher",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(false) // Client.Run drives its own backoff loop
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.TLS.Enabled {
		opts.SetTLSConfig(tlsConfig(cfg.TLS))
	}
	opts.SetOnConnectHandler(func(MQTT.Client) { c.setState(StateConnected) })
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.lg.WithError(err).Printf("broker %s: connection lost", role)
		c.setState(StateReconnecting)
	})
	opts.SetDefaultPublishHandler(func(_ MQTT.Client, msg MQTT.Message) {
		if c.handler != nil {
			c.handler(msg.Topic(), msg.Payload(), byte(msg.Qos()), msg.Retained())
		}
	})

	c.client = MQTT.NewClient(opts)
	return c
}

func brokerURL(cfg config.Broker) string {
	scheme := "tcp"
	switch cfg.Transport {
	case config.TransportTLS:
		scheme = "ssl"
	case config.TransportWebSocket:
		scheme = "ws"
		if cfg.TLS.Enabled {
			scheme = "wss"
		}
	}
	path := cfg.WebSocketPath
	if cfg.Transport != config.TransportWebSocket {
		path = ""
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, cfg.Host, cfg.Port, path)
}

func tlsConfig(cfg config.TLSConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         cfg.MinVersion,
		CipherSuites:       cfg.CipherSuites,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.SkipVerify,
	}
}

// OnMessage registers the handler invoked for inbound messages (subscriber
// role only).
func (c *Client) OnMessage(h Handler) { c.handler = h }

// SetTopicFilters overrides the subscriber's MQTT subscribe filters.
// Call before Run; subscribeAll reads the current filters on every
// (re)connect, so callers that derive filters from the bound topic
// patterns rather than a static config list should set them here.
func (c *Client) SetTopicFilters(filters []string) {
	c.cfg.TopicFilters = filters
}

// State returns the current connection state.
func (c *Client) State() State { return c.state }

func (c *Client) setState(s State) {
	c.state = s
	if s == StateConnected {
		c.lastStable = time.Now()
	}
	select {
	case c.onStateCh <- s:
	default:
	}
}

// Run connects and then supervises the connection with exponential
// backoff and full jitter until ctx is cancelled, resubscribing the
// configured topic filters (subscriber role) on every successful
// reconnect.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		token := c.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.lg.WithError(err).Printf("broker %s: connect failed", c.role)
			c.setState(StateDisconnected)
			attempt++
			if !c.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		c.setState(StateConnected)
		attempt = 0
		if c.role == RoleSubscriber {
			if err := c.subscribeAll(); err != nil {
				c.lg.WithError(err).Printf("broker %s: subscribe failed", c.role)
			}
		}

		// Stay connected until shutdown or until the connection-lost
		// handler reports StateReconnecting, then dial again with backoff.
		lost := false
		for !lost {
			select {
			case <-ctx.Done():
				c.client.Disconnect(250)
				c.setState(StateDisconnected)
				return
			case s := <-c.onStateCh:
				lost = s == StateReconnecting
			}
		}
		attempt++
		if !c.sleepBackoff(ctx, attempt) {
			return
		}
	}
}

func (c *Client) subscribeAll() error {
	for _, filter := range c.cfg.TopicFilters {
		token := c.client.Subscribe(filter, 1, nil)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", filter, token.Error())
		}
	}
	return nil
}

// sleepBackoff sleeps for an exponential-backoff-with-full-jitter delay
// based on attempt, resetting to the base delay once the connection has
// been stable for stableAfter. It returns false if ctx was cancelled
// during the sleep.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	if !c.lastStable.IsZero() && time.Since(c.lastStable) > stableAfter {
		attempt = 1
		c.lastStable = time.Time{}
	}
	delay := backoffBase * time.Duration(1<<uint(minInt(attempt, 6)))
	if delay > backoffCap {
		delay = backoffCap
	}
	jittered := time.Duration(rand.Int63n(int64(delay)))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(jittered):
		return true
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Publish forwards payload to topic through the circuit breaker (publisher
// role). It waits up to 5 seconds for paho to complete the publish and
// returns ErrQueueSaturated if it has not; paho's outgoing queue is not
// inspected, so a saturated queue is not detected up front. While the
// breaker is open it returns the breaker's own error.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	do := func() (any, error) {
		token := c.client.Publish(topic, qos, retain, payload)
		if !token.WaitTimeout(5 * time.Second) {
			return nil, ErrQueueSaturated
		}
		return nil, token.Error()
	}

	if c.cb == nil {
		_, err := do()
		return err
	}
	_, err := c.cb.Execute(do)
	return err
}

// Connected reports whether the underlying paho client believes it is
// connected.
func (c *Client) Connected() bool { return c.client.IsConnected() }

// Disconnect cleanly closes the connection.
func (c *Client) Disconnect() {
	c.setState(StateDisconnecting)
	c.client.Disconnect(250)
	c.setState(StateDisconnected)
}
