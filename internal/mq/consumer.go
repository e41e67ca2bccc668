package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает сообщение.
//
// nil — ack; ошибка, оборачивающая ErrDrop, — nack без requeue (в DLQ);
// любая другая ошибка — nack с requeue.
type Handler func(ctx context.Context, msg *Message) error

// Consumer потребляет сообщения из очереди и переживает переподключения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue    Queue
	Handler  Handler
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to start consuming", "error", err)
		} else {
			c.logger.Info("consumer started")
			if err := c.drain(ctx, deliveries); err == nil || ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(func(ch *amqp.Channel) error {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
		d, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		deliveries = d
		return nil
	})
	return deliveries, err
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// disposition — что сделать с сообщением после обработки.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDrop
)

func dispositionFor(err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, ErrDrop):
		return dispositionDrop
	default:
		return dispositionRequeue
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var err error
	var msg Message
	if jsonErr := json.Unmarshal(raw.Body, &msg); jsonErr != nil {
		err = fmt.Errorf("%w: unmarshal message: %v", ErrDrop, jsonErr)
	} else {
		c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)
		err = c.handler(ctx, &msg)
	}

	switch dispositionFor(err) {
	case dispositionAck:
		_ = raw.Ack(false)
	case dispositionDrop:
		c.logger.Error("message dropped", "message_id", msg.ID, "error", err)
		_ = raw.Nack(false, false)
	case dispositionRequeue:
		c.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "error", err)
		_ = raw.Nack(false, true)
	}
}

// DecodePayload разбирает payload сообщения ожидаемого типа.
func DecodePayload[T any](msg *Message, want MessageType) (T, error) {
	var payload T
	if msg.Type != want {
		return payload, fmt.Errorf("%w: unexpected message type %q", ErrDrop, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: unmarshal payload: %v", ErrDrop, err)
	}
	return payload, nil
}
