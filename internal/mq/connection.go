package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned when the broker connection is gone.
var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// Connection is the broker connection shared by publishers. A dropped
// connection is logged; ingestion goes on without the forwarder.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials the broker and closes the connection on app stop
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger = logger.With(zap.String("component", "rabbitmq"))

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ, check RABBITMQ_URL: %w", err)
	}

	c := &Connection{conn: conn, logger: logger}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})

	logger.Info("rabbitmq connection established")
	return c, nil
}

// watch logs an unexpected close. The channel is closed without a value on a
// graceful Close.
func (c *Connection) watch(closed <-chan *amqp.Error) {
	if amqpErr, ok := <-closed; ok && amqpErr != nil {
		c.logger.Error("rabbitmq connection lost, readings are no longer forwarded",
			zap.Int("code", amqpErr.Code),
			zap.String("reason", amqpErr.Reason))
	}
}

// Channel opens a channel on the connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return c.conn.Channel()
}

// Close closes the connection unless it is already gone.
func (c *Connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
	}
	c.logger.Info("rabbitmq connection closed")
	return nil
}
