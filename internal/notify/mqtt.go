package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultTopicPrefix = "drynomore"

	publishTimeout = 5 * time.Second
	connectRetries = 5
)

// MQTTConfig describes the broker notifications are published to.
type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTSink publishes notifications as JSON to <prefix>/alert/<level> and
// <prefix>/status. Publishing goes through a circuit breaker so a dead
// broker does not stall the notification loop on every message.
type MQTTSink struct {
	pub    Publisher
	prefix string
	cb     *gobreaker.CircuitBreaker
	log    *zap.SugaredLogger
}

// NewMQTTSink wraps pub in a sink.
func NewMQTTSink(pub Publisher, prefix string, logger *zap.SugaredLogger) *MQTTSink {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	s := &MQTTSink{pub: pub, prefix: prefix, log: logger}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("%s circuit breaker %v -> %v", name, from, to)
		},
	})
	return s
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic a notification is published to.
func (s *MQTTSink) Topic(n Notification) string {
	if n.Kind == KindStatus {
		return s.prefix + "/status"
	}
	return s.prefix + "/alert/" + n.Level
}

func (s *MQTTSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.pub.Publish(ctx, s.Topic(n), payload)
	})
	return err
}

// PahoPublisher publishes with a connected paho client.
type PahoPublisher struct {
	client mqtt.Client
}

// ConnectMQTT connects to the broker, retrying with exponential backoff, and
// disconnects when ctx is cancelled.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, logger *zap.SugaredLogger) (*PahoPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no MQTT broker configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "drynomore-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("lost connection to MQTT broker: %v", err)
	})

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries-1), ctx)

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warnf("connecting to MQTT broker %v: %v", cfg.Broker, err)
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("could not connect to MQTT broker %v: %w", cfg.Broker, err)
	}
	logger.Infof("connected to MQTT broker %v as %v", cfg.Broker, clientID)

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		logger.Info("MQTT connection closed")
	}()
	return &PahoPublisher{client: client}, nil
}

// Publish sends payload with QoS 1.
func (p *PahoPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publishing to %v timed out", topic)
	}
}
