package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker       string
	ClientID     string
	TubTopic     string
	SolarTopic   string
	AmbientTopic string // optional
	Unit         Unit
	// MaxAge is how long a reading stays valid. Zero means readings never expire.
	MaxAge time.Duration
	// ConnectTimeout bounds the wait for the first connection. Defaults to 10s.
	ConnectTimeout time.Duration
}

type cached struct {
	temp logic.Temperature
	at   time.Time
}

// MQTTSource caches the latest readings published by a bridge such as govee2mqtt.
type MQTTSource struct {
	cfg    MQTTConfig
	client paho.Client
	now    func() time.Time

	mu     sync.Mutex
	latest map[string]cached
}

// NewMQTTSource connects to the broker and subscribes to the configured topics.
// Subscriptions are re-established on every reconnect. A broker that is down at
// startup is not an error: the source is returned and keeps retrying.
func NewMQTTSource(cfg MQTTConfig) (*MQTTSource, error) {
	s := newSource(cfg, time.Now)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			glog.Warningf("sensor mqtt: connection lost: %v", err)
		})

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		// paho keeps retrying; Read reports absent readings until subscribed.
		glog.Warningf("sensor mqtt: broker %s not reachable yet, readings absent until connected", cfg.Broker)
		return s, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sensor mqtt: connect to broker: %w", err)
	}
	return s, nil
}

func newSource(cfg MQTTConfig, now func() time.Time) *MQTTSource {
	if cfg.Unit == "" {
		cfg.Unit = UnitFahrenheit
	}
	return &MQTTSource{
		cfg:    cfg,
		now:    now,
		latest: make(map[string]cached),
	}
}

func (s *MQTTSource) topics() []string {
	topics := []string{s.cfg.TubTopic, s.cfg.SolarTopic}
	if s.cfg.AmbientTopic != "" {
		topics = append(topics, s.cfg.AmbientTopic)
	}
	return topics
}

func (s *MQTTSource) subscribe(c paho.Client) {
	filters := make(map[string]byte)
	for _, t := range s.topics() {
		filters[t] = 1
	}
	token := c.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		s.handle(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		glog.Warningf("sensor mqtt: subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		glog.Warningf("sensor mqtt: subscribe: %v", err)
		return
	}
	glog.Infof("sensor mqtt: subscribed to %v", s.topics())
}

// handle stores a reading. Called from the paho callback goroutine.
func (s *MQTTSource) handle(topic string, payload []byte) {
	t, err := ParseTemperature(payload, s.cfg.Unit)
	if err != nil {
		glog.Warningf("sensor mqtt: discarding reading on %s: %v", topic, err)
		return
	}
	s.mu.Lock()
	s.latest[topic] = cached{temp: t, at: s.now()}
	s.mu.Unlock()
}

// Read returns the freshest cached readings.
func (s *MQTTSource) Read(ctx context.Context) logic.Sample {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := logic.Sample{
		HotTub:   s.fresh(s.cfg.TubTopic, now),
		SolarRaw: s.fresh(s.cfg.SolarTopic, now),
	}
	if s.cfg.AmbientTopic != "" {
		sample.Ambient = s.fresh(s.cfg.AmbientTopic, now)
	}
	return sample
}

// fresh must be called with mu held.
func (s *MQTTSource) fresh(topic string, now time.Time) logic.Temperature {
	c, ok := s.latest[topic]
	if !ok {
		return logic.Missing
	}
	if s.cfg.MaxAge > 0 && now.Sub(c.at) > s.cfg.MaxAge {
		return logic.Missing
	}
	return c.temp
}

// IsConnected reports whether the subscriber connection is up.
func (s *MQTTSource) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() error {
	if s.client != nil {
		s.client.Disconnect(1000)
	}
	return nil
}
