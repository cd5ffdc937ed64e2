// Package retrycollector drains the dead-letter queue fed by rejected
// orchestration tasks, computes exponential backoff, and republishes to the
// original exchange/routing-key recorded in the message's x-death header
// (spec.md §4.2). Messages older than fail_timeout are discarded instead,
// terminally dead-lettering them to orchestration.failed.
package retrycollector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avmorch/orchestrator/pkg/broker"
)

const (
	exchangeRetry  = "orchestration.retry"
	exchangeFailed = "orchestration.failed"
	queueRetry     = "orchestration.retry"
	queueFailed    = "orchestration.failed"
	routingKey     = "orchestration"
)

// Collector owns the retry-queue topology and the repost computation.
type Collector struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	consume *amqp.Channel

	delayMin    time.Duration
	delayMax    time.Duration
	failTimeout time.Duration

	log *slog.Logger
}

// Dial connects to the broker and declares the retry/failed topology.
func Dial(url string, delayMin, delayMax, failTimeout time.Duration, log *slog.Logger) (*Collector, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("retrycollector: dialing amqp: %w", err)
	}

	c := &Collector{conn: conn, delayMin: delayMin, delayMax: delayMax, failTimeout: failTimeout, log: log}
	if err := c.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Collector) setup() error {
	pub, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("retrycollector: opening publish channel: %w", err)
	}
	con, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("retrycollector: opening consume channel: %w", err)
	}
	c.publish, c.consume = pub, con

	if err := pub.ExchangeDeclare(exchangeRetry, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("retrycollector: declaring %s exchange: %w", exchangeRetry, err)
	}
	if err := pub.ExchangeDeclare(exchangeFailed, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("retrycollector: declaring %s exchange: %w", exchangeFailed, err)
	}

	if err := con.Qos(1, 0, false); err != nil {
		return fmt.Errorf("retrycollector: setting prefetch: %w", err)
	}

	_, err = con.QueueDeclare(queueRetry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": exchangeFailed,
	})
	if err != nil {
		return fmt.Errorf("retrycollector: declaring %s queue: %w", queueRetry, err)
	}
	if err := con.QueueBind(queueRetry, routingKey, exchangeRetry, false, nil); err != nil {
		return fmt.Errorf("retrycollector: binding %s queue: %w", queueRetry, err)
	}

	if _, err := con.QueueDeclare(queueFailed, true, false, false, false, nil); err != nil {
		return fmt.Errorf("retrycollector: declaring %s queue: %w", queueFailed, err)
	}
	if err := con.QueueBind(queueFailed, routingKey, exchangeFailed, false, nil); err != nil {
		return fmt.Errorf("retrycollector: binding %s queue: %w", queueFailed, err)
	}

	return nil
}

// Consume returns deliveries from the retry queue for the run loop to drive.
func (c *Collector) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.consume.Consume(queueRetry, consumerTag, false, false, false, false, nil)
}

// nextDelay computes delay = min(delayMax, delayMin * 1.5^retries) (spec.md §4.2).
func (c *Collector) nextDelay(retries int64) time.Duration {
	d := time.Duration(float64(c.delayMin) * math.Pow(1.5, float64(retries)))
	if d > c.delayMax {
		return c.delayMax
	}
	return d
}

// death mirrors the subset of a RabbitMQ x-death header entry this collector needs.
type death struct {
	Exchange    string   `json:"exchange"`
	RoutingKeys []string `json:"routing-keys"`
}

// Run processes a single delivery: discard (terminal dead-letter, via nack
// without requeue onto the queue's own DLX to orchestration.failed) if it
// has aged past failTimeout, otherwise repost with incremented backoff onto
// the exchange/routing-key recorded in its most recent x-death entry.
func (c *Collector) Run(ctx context.Context, d amqp.Delivery) error {
	log := c.log.With("delivery_tag", d.DeliveryTag, "message_id", d.MessageId)

	if time.Since(d.Timestamp) > c.failTimeout {
		log.Warn("message discarded (fail timeout)")
		return d.Nack(false, false)
	}

	deaths, _ := d.Headers["x-death"].([]any)
	if len(deaths) == 0 {
		log.Error("message has no x-death header, cannot determine repost target")
		return d.Nack(false, false)
	}
	deathEntry, ok := deaths[0].(amqp.Table)
	if !ok {
		log.Error("x-death entry has unexpected shape")
		return d.Nack(false, false)
	}

	exchange, _ := deathEntry["exchange"].(string)
	routingKeys, _ := deathEntry["routing-keys"].([]any)
	if exchange == "" || len(routingKeys) == 0 {
		log.Error("x-death entry missing exchange/routing-keys")
		return d.Nack(false, false)
	}
	targetRoutingKey, _ := routingKeys[0].(string)

	headers := amqp.Table{}
	for k, v := range d.Headers {
		if k == "x-death" {
			continue
		}
		headers[k] = v
	}
	retries, _ := headers[broker.HeaderRetries].(int64)
	retries++
	delay := c.nextDelay(retries)
	headers[broker.HeaderRetries] = retries
	headers[broker.HeaderDelay] = delay.Milliseconds()

	log.Info("repost task", "delay_ms", delay.Milliseconds(), "retries", retries)

	err := c.publish.PublishWithContext(ctx, exchange, targetRoutingKey, false, false, amqp.Publishing{
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		ContentType:  d.ContentType,
		DeliveryMode: d.DeliveryMode,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		return fmt.Errorf("retrycollector: republishing: %w", err)
	}

	return d.Ack(false)
}

// Close tears down the connection.
func (c *Collector) Close() error {
	return c.conn.Close()
}
