package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avmorch/orchestrator/internal/config"
	"github.com/avmorch/orchestrator/pkg/broker"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
)

// fakeAcknowledger records which of Ack/Nack/Reject was called, standing in
// for the real AMQP channel that backs amqp.Delivery.Acknowledger.
type fakeAcknowledger struct {
	acked, nacked, rejected bool
	nackRequeue             bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.nackRequeue = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	return nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleDeliveryMissingTaskHeaderNacks(t *testing.T) {
	log := noopLogger()
	d := dispatcher.New(nil, log)
	ack := &fakeAcknowledger{}
	delivery := amqp.Delivery{Headers: amqp.Table{}, Acknowledger: ack}

	handleDelivery(context.Background(), log, d, nil, &config.Config{}, delivery)

	if !ack.nacked || ack.nackRequeue {
		t.Errorf("ack = %+v, want a non-requeueing nack", ack)
	}
}

func TestHandleDeliveryUnknownTaskNacks(t *testing.T) {
	log := noopLogger()
	d := dispatcher.New(nil, log)
	ack := &fakeAcknowledger{}
	delivery := amqp.Delivery{
		Headers:      amqp.Table{broker.HeaderTask: "no-such-task"},
		Body:         []byte("{}"),
		Acknowledger: ack,
	}

	handleDelivery(context.Background(), log, d, nil, &config.Config{}, delivery)

	if !ack.nacked || ack.nackRequeue {
		t.Errorf("ack = %+v, want a non-requeueing nack on dispatch failure", ack)
	}
}
