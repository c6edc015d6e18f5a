// Package deadletter publishes terminally failed queue items to an NSQ topic
// so back-office tooling can alert on lost mutations. Publication is
// best-effort: the dead letter is already durable in the dlq partition.
package deadletter

import (
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/calebrowe/shop_sync/internal/queue"
)

// Publisher emits dead letters to an external sink.
type Publisher interface {
	Publish(dl queue.DeadLetter) error
	Stop()
}

// NSQPublisher publishes dead letters to an NSQ topic.
type NSQPublisher struct {
	producer *nsq.Producer
	topic    string
}

// NewNSQPublisher connects a producer to nsqd at addr.
func NewNSQPublisher(addr, topic string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("deadletter: create producer: %w", err)
	}
	return &NSQPublisher{producer: producer, topic: topic}, nil
}

func (p *NSQPublisher) Publish(dl queue.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("deadletter: marshal: %w", err)
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		return fmt.Errorf("deadletter: publish: %w", err)
	}
	return nil
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

// NopPublisher drops dead letters; used when topic publication is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(queue.DeadLetter) error { return nil }
func (NopPublisher) Stop()                          {}
