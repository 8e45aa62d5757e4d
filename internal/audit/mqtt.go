package audit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrMirrorBusy is returned when a mirror's buffer is full and the line was
// dropped.
var ErrMirrorBusy = errors.New("audit mirror buffer full")

// MQTTConfig describes the broker audit lines are mirrored to.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Buffer   int
}

const (
	defaultMirrorBuffer = 1024
	connectTimeout      = 5 * time.Second
	publishTimeout      = 2 * time.Second
)

// MQTTSink publishes audit lines to an MQTT topic from a background
// goroutine. WriteLine never blocks; lines are dropped when the buffer is
// full.
type MQTTSink struct {
	client mqtt.Client
	*queuedSink
}

// NewMQTTSink connects to the broker and starts the publisher.
func NewMQTTSink(cfg MQTTConfig, logger zerolog.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "image-server-" + uuid.NewString()
	}
	logger = logger.With().Str("layer", "audit-mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("client_id", cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	publish := func(line string) error {
		t := client.Publish(cfg.Topic, cfg.QoS, false, line)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish to %s timed out", cfg.Topic)
		}
		return t.Error()
	}

	return &MQTTSink{
		client:     client,
		queuedSink: newQueuedSink(publish, cfg.Buffer, logger),
	}, nil
}

// Close flushes buffered lines and disconnects from the broker.
func (s *MQTTSink) Close() {
	s.queuedSink.Close()
	s.client.Disconnect(250)
}

// queuedSink decouples callers from a slow publish function.
type queuedSink struct {
	lines   chan string
	publish func(string) error
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newQueuedSink(publish func(string) error, buffer int, logger zerolog.Logger) *queuedSink {
	if buffer <= 0 {
		buffer = defaultMirrorBuffer
	}
	s := &queuedSink{
		lines:   make(chan string, buffer),
		publish: publish,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *queuedSink) loop() {
	defer close(s.done)
	for line := range s.lines {
		if err := s.publish(line); err != nil {
			s.failed.Add(1)
			s.logger.Debug().Err(err).Msg("failed to publish audit line")
		}
	}
}

// WriteLine queues line for publishing.
func (s *queuedSink) WriteLine(line string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("audit mirror closed")
	}
	select {
	case s.lines <- line:
		return nil
	default:
		s.dropped.Add(1)
		return ErrMirrorBusy
	}
}

// Dropped returns the number of lines discarded because the buffer was full.
func (s *queuedSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting lines and waits until the buffer is flushed.
func (s *queuedSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.lines)
	s.mu.Unlock()

	<-s.done
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn().Uint64("dropped", n).Uint64("failed", s.failed.Load()).Msg("audit mirror dropped lines")
	}
}
