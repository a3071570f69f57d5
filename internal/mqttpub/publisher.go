// Package mqttpub publishes the latest stored reading to an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/ingest"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 30 * time.Second
	disconnectWait = 250 // milliseconds

	qos = 1
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// message in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Config selects the broker and topic namespace.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// client is the subset of pahomqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher keeps the latest reading retained on <prefix>/reading/latest.
type Publisher struct {
	client client
	prefix string
	logger *zap.Logger
}

// Connect connects to the broker. The broker marks the logger offline on
// <prefix>/status when the connection drops.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), "offline", qos, true)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(StatusTopic(cfg.TopicPrefix), qos, true, "online")
		logger.Info("mqtt connection established", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: timeout after %v", cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return newPublisher(c, cfg.TopicPrefix, logger), nil
}

func newPublisher(c client, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{client: c, prefix: prefix, logger: logger}
}

// LatestTopic returns the topic the latest reading is retained on.
func LatestTopic(prefix string) string {
	return prefix + "/reading/latest"
}

// StatusTopic returns the online/offline status topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// Message is the retained payload.
type Message struct {
	IngestionTimestamp int64           `json:"ingestion_timestamp"`
	Reading            json.RawMessage `json:"reading"`
	Anomalous          bool            `json:"anomalous"`
	Reason             string          `json:"reason,omitempty"`
}

func (p *Publisher) Name() string {
	return "mqtt"
}

// Forward publishes event as the new retained latest reading.
func (p *Publisher) Forward(ctx context.Context, event ingest.Event) error {
	r, err := json.Marshal(event.Row.Reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	payload, err := json.Marshal(Message{
		IngestionTimestamp: event.Row.IngestionTimestamp,
		Reading:            r,
		Anomalous:          event.Anomaly.Anomalous,
		Reason:             event.Anomaly.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := p.client.Publish(LatestTopic(p.prefix), qos, true, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	return nil
}

// Close marks the logger offline and disconnects.
func (p *Publisher) Close() {
	token := p.client.Publish(StatusTopic(p.prefix), qos, true, "offline")
	token.WaitTimeout(publishTimeout)
	p.client.Disconnect(disconnectWait)
}
