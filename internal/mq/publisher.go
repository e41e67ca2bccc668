package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/opspulse/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	// MessageTypeTriggerRequested — запрос ручного запуска routine.
	MessageTypeTriggerRequested MessageType = "routine.trigger.requested"

	// MessageTypeRunCompleted — записан запуск routine.
	MessageTypeRunCompleted MessageType = "routine.run.completed"
)

// Message — конверт для всех сообщений opspulse.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// TriggerRequestPayload — payload запроса ручного запуска.
type TriggerRequestPayload struct {
	RoutineID   uuid.UUID `json:"routine_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// RunCompletedPayload — payload события о записанном запуске.
type RunCompletedPayload struct {
	RunID        uuid.UUID          `json:"run_id"`
	RoutineID    uuid.UUID          `json:"routine_id"`
	Status       domain.RunStatus   `json:"status"`
	TriggeredBy  domain.TriggeredBy `json:"triggered_by"`
	HTTPStatus   *int               `json:"http_status,omitempty"`
	DurationMs   *int64             `json:"duration_ms,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
}

// NewMessage собирает сообщение с новым ID.
func NewMessage(msgType MessageType, payload any, now time.Time) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: now.UTC(),
	}, nil
}

// RunCompletedMessage собирает событие routine.run.completed.
func RunCompletedMessage(run *domain.RoutineRun, now time.Time) (*Message, error) {
	return NewMessage(MessageTypeRunCompleted, RunCompletedPayload{
		RunID:        run.ID,
		RoutineID:    run.RoutineID,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		HTTPStatus:   run.HTTPStatus,
		DurationMs:   run.DurationMs,
		ErrorMessage: run.ErrorMessage,
		StartedAt:    run.StartedAt,
	}, now)
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение persistent-доставкой.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}
		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunCompleted публикует событие о записанном запуске.
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *domain.RoutineRun) error {
	msg, err := RunCompletedMessage(run, time.Now())
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRoutines, RoutingKeyRunCompleted, msg)
}

// PublishTriggerRequest ставит в очередь запрос ручного запуска.
func (p *Publisher) PublishTriggerRequest(ctx context.Context, routineID uuid.UUID, requestedBy string) error {
	msg, err := NewMessage(MessageTypeTriggerRequested, TriggerRequestPayload{
		RoutineID:   routineID,
		RequestedBy: requestedBy,
	}, time.Now())
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRoutines, RoutingKeyTrigger, msg)
}
