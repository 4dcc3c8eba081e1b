package nsq

import (
	"context"
	"encoding/json"
	"fmt"

	"vecsync/internal/apperr"
	"vecsync/internal/source"
)

// Producer is the subset of *nsq.Producer the publisher needs.
type Producer interface {
	Publish(topic string, body []byte) error
}

type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(p Producer, topic string) *Publisher {
	return &Publisher{producer: p, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, ev source.ChangeEvent) error {
	if ev.DocumentID == "" {
		return fmt.Errorf("%w: change event without document id", apperr.ErrInput)
	}
	if _, err := source.ParseOperation(string(ev.Operation)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("%w: publish %s: %v", apperr.ErrFeed, p.topic, err)
	}
	return nil
}
