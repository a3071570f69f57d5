package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/ingest"
)

// Event statuses.
const (
	StatusValid     = "valid"
	StatusAnomalous = "anomalous"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards stored readings to a RabbitMQ topic exchange
type Publisher struct {
	channel    channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher and declares its exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, routingKey, logger), nil
}

func newPublisher(ch channel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// ReadingEvent is the message published for every stored reading
type ReadingEvent struct {
	EventID            string  `json:"event_id"`
	IngestionTimestamp string  `json:"ingestion_timestamp"`
	MeterTime          *uint32 `json:"meter_time"`
	TotalEnergy        float64 `json:"total_energy"`
	Line1              *int32  `json:"line1"`
	Line2              *int32  `json:"line2"`
	Line3              *int32  `json:"line3"`
	Status             string  `json:"status"`
	Reason             *string `json:"reason,omitempty"`
}

// NewReadingEvent builds the message for a stored reading
func NewReadingEvent(event ingest.Event) ReadingEvent {
	r := event.Row.Reading
	out := ReadingEvent{
		EventID:            uuid.NewString(),
		IngestionTimestamp: time.Unix(event.Row.IngestionTimestamp, 0).UTC().Format(time.RFC3339),
		MeterTime:          r.MeterTime,
		Status:             StatusValid,
	}
	if r.TotalEnergy != nil {
		out.TotalEnergy = r.TotalEnergy.Value
	}
	lines := []**int32{&out.Line1, &out.Line2, &out.Line3}
	for i, p := range r.Lines {
		if p != nil {
			v := p.Value
			*lines[i] = &v
		}
	}
	if event.Anomaly.Anomalous {
		reason := event.Anomaly.Reason
		out.Status = StatusAnomalous
		out.Reason = &reason
	}
	return out
}

// Name identifies the forwarder in logs
func (p *Publisher) Name() string {
	return "rabbitmq"
}

// Forward publishes a stored reading event
func (p *Publisher) Forward(ctx context.Context, event ingest.Event) error {
	msg := NewReadingEvent(event)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.EventID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published reading event",
		zap.String("routing_key", p.routingKey),
		zap.String("event_id", msg.EventID),
		zap.String("status", msg.Status),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
