package repository

import (
	"context"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
)

// MessageWriter is satisfied by *kafka.Producer.
type MessageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher writes lifecycle events keyed by record id so every
// transition of a record lands on the same partition.
type KafkaEventPublisher struct {
	producer MessageWriter
	topic    string
}

func NewKafkaEventPublisher(producer MessageWriter, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.PredictionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.RecordID), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// FanoutPublisher delivers each event to every publisher and returns the first error.
type FanoutPublisher []domrepo.EventPublisher

func (f FanoutPublisher) Publish(ctx context.Context, ev models.PredictionEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f FanoutPublisher) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.PredictionEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }
