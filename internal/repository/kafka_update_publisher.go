package repository

import (
	"context"

	"github.com/google/uuid"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	pkgkafka "ChartCache/pkg/kafka"
)

// BatchProducer is the slice of *pkgkafka.Producer the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaUpdatePublisher publishes aggregated bar updates keyed by symbol, so
// one symbol's updates stay on one partition in order.
type KafkaUpdatePublisher struct {
	producer BatchProducer
	topic    string
}

var _ repository.UpdatePublisher = (*KafkaUpdatePublisher)(nil)

func NewKafkaUpdatePublisher(producer BatchProducer, topic string) *KafkaUpdatePublisher {
	return &KafkaUpdatePublisher{producer: producer, topic: topic}
}

// PublishUpdates sends updates in one batch. The trace id of ctx is reused
// when present so an ingested bar and its updates correlate.
func (p *KafkaUpdatePublisher) PublishUpdates(ctx context.Context, updates []models.BarUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	trace := pkgkafka.TraceID(ctx)
	if trace == "" {
		trace = uuid.NewString()
	}
	msgs := make([]pkgkafka.Message, len(updates))
	for i, u := range updates {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(u.Symbol),
			Value:   u,
			Headers: map[string]string{"trace_id": trace},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaUpdatePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
