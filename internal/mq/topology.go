package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	// ExchangeEvents — события движка, routing key = тип события.
	ExchangeEvents Exchange = "conveyor.events"

	// ExchangeCommands — команды извне (постановка jobs).
	ExchangeCommands Exchange = "conveyor.commands"

	// ExchangeDLQ — отклонённые команды.
	ExchangeDLQ Exchange = "conveyor.dlq"
)

// Queues.
const (
	QueueEnqueue Queue = "conveyor.enqueue"
	QueueDLQ     Queue = "conveyor.dlq"
)

// Routing keys.
const (
	RoutingKeyEnqueue    RoutingKey = "enqueue"
	RoutingKeyDLQEnqueue RoutingKey = "dlq.enqueue"
)

// EventRoutingKey возвращает routing key события: "job.completed", "queue.degraded".
func EventRoutingKey(t domain.EventType) RoutingKey {
	return RoutingKey(t)
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeCommands, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEnqueue),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// Некорректные сообщения уходят в DLQ
		{QueueEnqueue, dlqArgs},
		{QueueDLQ, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueEnqueue, RoutingKeyEnqueue, ExchangeCommands},
		{QueueDLQ, RoutingKeyDLQEnqueue, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (topic)
    └── routing: <event type>, e.g. job.completed, queue.degraded
            Publisher: Relay

    conveyor.commands (direct)
    └── conveyor.enqueue [routing: enqueue]
            Consumer: EnqueueConsumer
            DLQ: conveyor.dlq

    conveyor.dlq (direct)
    └── conveyor.dlq [routing: dlq.enqueue]
            Manual processing
  `
}
