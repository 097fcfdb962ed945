package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/relay-agent/internal/relay"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 5 * time.Second
	subscribeTimeout  = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	Broker     string // e.g. tcp://localhost:1883
	ClientID   string
	Username   string
	Password   string
	Prefix     string
	BufferSize int // events held while disconnected
}

// Client is the agent's connection to the remote store. It subscribes to
// telemetry and relay topics, writes retained relay states, and publishes
// agent events. Events published while disconnected are buffered and
// replayed on reconnect.
type Client struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	mu        sync.Mutex
	handler   Handler
	connected bool
	outbox    *outbox
}

// NewClient creates a Client. Call SetHandler and then Connect.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	c := &Client{
		topics: NewTopics(opts.Prefix),
		logger: logger,
		outbox: newOutbox(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetOrderMatters(true).
		SetWill(c.topics.System, string(will), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.setConnected(false)
			c.logger.Warn("mqtt connection lost", "error", err)
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	return c, nil
}

// SetHandler sets the receiver of decoded inbound records.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Topics returns the topic set in use.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect starts connecting and waits until the first connection succeeds
// or ctx is done. When ctx ends first the client keeps retrying in the
// background; reconnection after a loss is automatic.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connect: %w", ctx.Err())
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *Client) onConnect(pc paho.Client) {
	c.logger.Info("mqtt connected", "telemetry", c.topics.Telemetry, "relays", c.topics.Relays)

	subs := []string{c.topics.Relays, c.topics.RelayWildcard(), c.topics.Telemetry}
	for _, topic := range subs {
		token := pc.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			c.dispatch(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(subscribeTimeout) {
			c.logger.Error("mqtt subscribe timeout", "topic", topic)
			continue
		}
		if err := token.Error(); err != nil {
			c.logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
			continue
		}
		c.logger.Debug("subscribed", "topic", topic)
	}

	c.mu.Lock()
	c.connected = true
	pending, dropped := c.outbox.drain()
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("mqtt outbox overflowed while disconnected", "dropped", dropped)
	}
	for _, m := range pending {
		if err := c.publish(m); err != nil {
			c.logger.Warn("replay failed", "topic", m.topic, "error", err)
		}
	}
	if len(pending) > 0 {
		c.logger.Info("replayed buffered events", "count", len(pending))
	}
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}
	if err := route(c.topics, h, topic, payload); err != nil {
		c.logger.Warn("ignoring malformed record", "topic", topic, "error", err)
	}
}

// route decodes one inbound message and passes it to h.
// Empty payloads (cleared retained topics) are ignored.
func route(t Topics, h Handler, topic string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	switch topic {
	case t.Telemetry:
		raw, err := ParseTelemetry(payload)
		if err != nil {
			return err
		}
		h.HandleTelemetry(raw)
	case t.Relays:
		m, err := ParseRelayMap(payload)
		if err != nil {
			return err
		}
		if len(m) > 0 {
			h.HandleRelays(m)
		}
	default:
		id, ok := t.RelayID(topic)
		if !ok {
			return nil
		}
		w, err := ParseRelay(id, payload)
		if err != nil {
			return err
		}
		h.HandleRelays(map[relay.ID]relay.Wire{id: w})
	}
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// WriteRelay publishes the retained wire state of one relay at QoS 1 and
// waits for the broker to acknowledge it or ctx to end. It fails fast while
// disconnected so the caller can roll back.
func (c *Client) WriteRelay(ctx context.Context, w relay.Wire) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := FormatRelay(w)
	if err != nil {
		return fmt.Errorf("format relay %d: %w", w.ID, err)
	}

	token := c.client.Publish(c.topics.Relay(w.ID), 1, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish relay %d: %w", w.ID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish relay %d: %w", w.ID, ctx.Err())
	}
}

// PublishSystem sends a system lifecycle event, buffering it while disconnected.
func (c *Client) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.send(pendingMsg{topic: c.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// PublishDecision sends an applied decision, buffering it while disconnected.
func (c *Client) PublishDecision(event DecisionEvent) error {
	payload, err := FormatDecisionPayload(event)
	if err != nil {
		return fmt.Errorf("format decision payload: %w", err)
	}
	return c.send(pendingMsg{topic: c.topics.Decisions, payload: payload, qos: 1})
}

func (c *Client) send(m pendingMsg) error {
	c.mu.Lock()
	if !c.connected {
		if c.outbox.push(m) {
			c.logger.Debug("mqtt outbox full, dropped oldest", "size", c.outbox.len())
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.publish(m)
}

func (c *Client) publish(m pendingMsg) error {
	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.setConnected(false)
	c.client.Disconnect(1000)
	return nil
}
