package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher forwards audit events to a Kafka topic for downstream
// compliance consumers. Publishing happens on the recorder's worker, so a
// synchronous produce is acceptable here.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// wireEvent is the JSON structure written to the topic.
type wireEvent struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Organization string            `json:"organization,omitempty"`
	SubjectID    string            `json:"subject_id,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	ClientIP     string            `json:"client_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	OccurredAt   string            `json:"occurred_at"`
	Details      map[string]string `json:"details,omitempty"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(wireEvent{
		ID:           event.ID.String(),
		Kind:         string(event.Kind),
		Organization: event.Organization,
		SubjectID:    event.SubjectID,
		RequestID:    event.RequestID,
		ClientIP:     event.ClientIP,
		UserAgent:    event.UserAgent,
		OccurredAt:   event.At.Format(time.RFC3339Nano),
		Details:      event.Details,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	record := &kgo.Record{
		// Key by subject so one account's trail stays ordered within a
		// partition.
		Key:   []byte(event.SubjectID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes pending records and releases the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
