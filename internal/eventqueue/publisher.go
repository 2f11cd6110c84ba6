// Package eventqueue hands validated webhook events to Kafka for asynchronous processing.
package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mauricioprb/run-ranking/internal/webhook"
)

// EventTypeHeader tags every record so consumers can reject foreign payloads.
const (
	EventTypeHeader  = "event_type"
	WebhookEventType = "strava.webhook_event"
)

// Writer is the subset of kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes webhook events to a single topic.
type Publisher struct {
	writer Writer
	now    func() time.Time
}

// NewKafkaWriter builds a synchronous writer that waits for all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer Writer) *Publisher {
	return &Publisher{writer: writer, now: time.Now}
}

// Publish blocks until the broker acknowledged the event. Records are keyed by owner
// so events for one runner stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, event webhook.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OwnerID, 10)),
		Value: value,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: EventTypeHeader, Value: []byte(WebhookEventType)},
			{Key: "object_type", Value: []byte(event.ObjectType)},
			{Key: "aspect_type", Value: []byte(event.AspectType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish webhook event: %w", err)
	}
	return nil
}

// Close releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
