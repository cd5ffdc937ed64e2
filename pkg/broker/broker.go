// Package broker implements the durable task exchange described in spec.md
// §4.1: a topic/delayed exchange wrapping a direct exchange, a single
// "orchestration" work queue with dead-letter routing to the retry
// collector's queue, and a per-task x-avmorch-task header used to look up
// the handler in the dispatcher's registry.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"
)

const (
	// ExchangeOrchestration is the delayed-message exchange every task is
	// published to. It requires the RabbitMQ delayed-message-exchange
	// plugin (x-delayed-type=direct).
	ExchangeOrchestration = "orchestration"
	// ExchangeRetry is the dead-letter target for the orchestration queue;
	// owned by the retry collector, declared here too so either side can
	// start up first.
	ExchangeRetry = "orchestration.retry"
	// QueueOrchestration is the single work queue consumed by worker processes.
	QueueOrchestration = "orchestration"
	// RoutingKey is the fixed routing key used for every orchestration message.
	RoutingKey = "orchestration"

	// HeaderTask names the handler to dispatch to.
	HeaderTask = "x-avmorch-task"
	// HeaderDelay is read by the delayed-message-exchange plugin to defer
	// routing by the given number of milliseconds.
	HeaderDelay = "x-delay"
	// HeaderRetries counts prior redeliveries, maintained by the retry collector.
	HeaderRetries = "x-avmorch-retries"
)

// Broker publishes and consumes durable orchestration tasks over a single
// AMQP connection. Scheduling model: one Broker per worker process, prefetch
// 1, so each worker processes exactly one task at a time (spec.md §5).
type Broker struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	consume *amqp.Channel
}

// Dial connects to the broker and declares the orchestration topology.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dialing amqp: %w", err)
	}

	b := &Broker{conn: conn}
	if err := b.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) setup() error {
	pub, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: opening publish channel: %w", err)
	}
	con, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: opening consume channel: %w", err)
	}
	b.publish, b.consume = pub, con

	err = pub.ExchangeDeclare(ExchangeOrchestration, "x-delayed-message", true, false, false, false, amqp.Table{
		"x-delayed-type": "direct",
	})
	if err != nil {
		return fmt.Errorf("broker: declaring %s exchange: %w", ExchangeOrchestration, err)
	}

	if err := con.Qos(1, 0, false); err != nil {
		return fmt.Errorf("broker: setting prefetch: %w", err)
	}

	_, err = con.QueueDeclare(QueueOrchestration, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": ExchangeRetry,
	})
	if err != nil {
		return fmt.Errorf("broker: declaring %s queue: %w", QueueOrchestration, err)
	}

	if err := con.QueueBind(QueueOrchestration, RoutingKey, ExchangeOrchestration, false, nil); err != nil {
		return fmt.Errorf("broker: binding %s queue: %w", QueueOrchestration, err)
	}

	return nil
}

// Publish sends msg as a task of the given name. A non-zero delay defers
// routing by that duration (rounded to the millisecond), implementing
// cooperative suspension (TaskDelay in spec.md §9).
func (b *Broker) Publish(ctx context.Context, taskName string, msg any, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshalling task %s: %w", taskName, err)
	}

	headers := amqp.Table{HeaderTask: taskName}
	if delay > 0 {
		headers[HeaderDelay] = delay.Milliseconds()
	}

	return b.publish.PublishWithContext(ctx, ExchangeOrchestration, RoutingKey, false, false, amqp.Publishing{
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
}

// Consume returns a channel of deliveries from the orchestration queue, with
// explicit (non-auto) acknowledgement.
func (b *Broker) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return b.consume.Consume(QueueOrchestration, consumerTag, false, false, false, false, nil)
}

// Close tears down both channels and the underlying connection.
func (b *Broker) Close() error {
	return b.conn.Close()
}
