package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeRoutines Exchange = "opspulse.routines"
	ExchangeDLQ      Exchange = "opspulse.dlq"
)

const (
	QueueTrigger      Queue = "routines.trigger"
	QueueRunCompleted Queue = "routines.run.completed"
	QueueDLQ          Queue = "dlq.routines"
)

const (
	RoutingKeyTrigger      RoutingKey = "trigger"
	RoutingKeyRunCompleted RoutingKey = "run.completed"
	RoutingKeyDLQ          RoutingKey = "routines"
)

type binding struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
	args     amqp.Table
}

func topology() []binding {
	dlq := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}
	return []binding{
		{QueueTrigger, RoutingKeyTrigger, ExchangeRoutines, dlq},
		{QueueRunCompleted, RoutingKeyRunCompleted, ExchangeRoutines, nil},
		{QueueDLQ, RoutingKeyDLQ, ExchangeDLQ, nil},
	}
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRoutines, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}
		for _, b := range topology() {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo — описание топологии для вывода в CLI.
func TopologyInfo() string {
	return `
  opspulse.routines (direct)
  ├── routines.trigger [routing: trigger]
  │       Consumer: opspulse-scheduler (manual trigger)
  │       DLQ: dlq.routines
  └── routines.run.completed [routing: run.completed]
          Consumer: downstream (alerting, dashboards)

  opspulse.dlq (direct)
  └── dlq.routines [routing: routines]
`
}
