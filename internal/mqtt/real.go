package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// DefaultBufferSize is the number of messages held while the broker is unreachable.
const DefaultBufferSize = 500

// Config holds publisher connection settings.
type Config struct {
	Broker     string
	ClientID   string
	Session    string
	BufferSize int
}

// client is the subset of paho.Client used for publishing.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker.
// Messages produced while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client  client
	session string

	mu     sync.Mutex
	outbox *outbox
}

// lwtPayload is published by the broker if the controller drops off without a clean shutdown.
var lwtPayload = []byte(`{"system":{"event":"OFFLINE","reason":"LWT"}}`)

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "hottub-controller"
	}

	p := &RealPublisher{
		session: cfg.Session,
		outbox:  newOutbox(cfg.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(lwtPayload), 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			glog.Infof("mqtt: connected to %s", cfg.Broker)
			p.flush()
		}).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			glog.Warningf("mqtt: connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	p.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// paho keeps retrying; messages queue in the outbox until OnConnect.
		glog.Warningf("mqtt: broker %s not reachable yet, queueing", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newPublisher(c client, session string, bufferSize int) *RealPublisher {
	return &RealPublisher{client: c, session: session, outbox: newOutbox(bufferSize)}
}

// Record sends a decision record to the broker.
func (p *RealPublisher) Record(ctx context.Context, rec logic.Record) error {
	payload, err := FormatPayload(rec, p.session)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(pending{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(pending{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg pending) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.outbox.add(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg pending) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages in order.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.outbox.take()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	glog.Infof("mqtt: replaying %d buffered messages", len(msgs))
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			glog.Warningf("mqtt: replay failed: %v", err)
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.size()
}

// Dropped returns how many queued messages were evicted because the outbox was full.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.dropped
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
