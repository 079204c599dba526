// Package events publishes document lifecycle events to Kafka.
//
// Events are advisory: downstream consumers (notifications, analytics) read
// them, but the assessment pipeline never depends on delivery. Publish errors
// are logged and swallowed by callers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.EventPublisher.
// A nil Producer is valid and drops every event, so wiring stays unconditional
// when brokers are not configured.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the given brokers. Returns nil (not an error) when
// brokers is empty so deployments without Kafka run event-less.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.new_producer: %w", err)
	}
	slog.Info("event producer connected", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// PublishDocumentStatus emits one lifecycle event keyed by document id so a
// document's events stay ordered within a partition.
func (p *Producer) PublishDocumentStatus(ctx domain.Context, ev domain.DocumentEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=events.publish: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.DocumentID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "owner_id", Value: []byte(ev.OwnerID)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("op=events.publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}
