package broker

import "fmt"

// ExchangeAndroidEvents is the topic exchange every AVM's sensor/telemetry
// events are published to, fanned out by routing key into one queue per
// event category (spec.md §4.1).
const ExchangeAndroidEvents = "android-events"

// eventShortnames lists the AVM event categories, each becoming one durable
// queue. "sensors" alone fans out into sub-categories via a wildcard routing
// key; the rest route exactly.
var eventShortnames = []string{"sensors", "battery", "gps", "recording", "gsm", "camera", "nfc"}

// AVMEventQueue names the durable queue for one AVM/category pair.
func AVMEventQueue(avmID, shortname string) string {
	return fmt.Sprintf("android-events.%s.%s", avmID, shortname)
}

func avmEventRoutingKey(avmID, shortname string) string {
	if shortname == "sensors" {
		return fmt.Sprintf("android-events.%s.sensors.*", avmID)
	}
	return fmt.Sprintf("android-events.%s.%s", avmID, shortname)
}

// DeclareAndroidEventsExchange declares the shared topic exchange; called
// once at worker startup.
func (b *Broker) DeclareAndroidEventsExchange() error {
	return b.publish.ExchangeDeclare(ExchangeAndroidEvents, "topic", true, false, false, false, nil)
}

// CreateEventQueues provisions the per-category queues for a newly created
// AVM (spec.md §4.4 avm_create: AMQP user+queue setup).
func (b *Broker) CreateEventQueues(avmID string) error {
	for _, shortname := range eventShortnames {
		queueName := AVMEventQueue(avmID, shortname)
		if _, err := b.publish.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declaring queue %s: %w", queueName, err)
		}
		if err := b.publish.QueueBind(queueName, avmEventRoutingKey(avmID, shortname), ExchangeAndroidEvents, false, nil); err != nil {
			return fmt.Errorf("broker: binding queue %s: %w", queueName, err)
		}
	}
	return nil
}

// DeleteEventQueues removes the per-category queues for a deleted AVM.
func (b *Broker) DeleteEventQueues(avmID string) error {
	for _, shortname := range eventShortnames {
		queueName := AVMEventQueue(avmID, shortname)
		if _, err := b.publish.QueueDelete(queueName, false, false, false); err != nil {
			return fmt.Errorf("broker: deleting queue %s: %w", queueName, err)
		}
	}
	return nil
}
