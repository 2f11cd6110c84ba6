// Package consumer drains queued webhook events from Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mauricioprb/run-ranking/internal/eventqueue"
	"github.com/mauricioprb/run-ranking/internal/observability"
	"github.com/mauricioprb/run-ranking/internal/webhook"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of a queued webhook event.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Event     webhook.Event
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
// Every fetched message is committed exactly once whatever the outcome; failures are
// logged and counted, never redelivered.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *slog.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Error("fetch error", slog.String("error", err.Error()))
			continue
		}

		decoded, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Error("decode error",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", decodeErr.Error()),
			)
			recordDecodeError(msg.Topic)
			p.commit(ctx, msg)
			continue
		}

		if handleErr := p.handler.Handle(ctx, decoded); handleErr != nil {
			p.logger.Error("handler error",
				slog.String("object_type", decoded.Event.ObjectType),
				slog.String("aspect_type", decoded.Event.AspectType),
				slog.Int64("object_id", decoded.Event.ObjectID),
				slog.Int64("owner_id", decoded.Event.OwnerID),
				slog.String("error", handleErr.Error()),
			)
			recordHandlerError(decoded)
			observability.CaptureError(handleErr, map[string]string{"component": "consumer"})
			p.commit(ctx, msg)
			continue
		}

		if p.commit(ctx, msg) {
			recordProcessed(decoded)
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Error("commit error", slog.Int64("offset", msg.Offset), slog.String("error", err.Error()))
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	eventType, ok := headerValue(msg, eventqueue.EventTypeHeader)
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	if string(eventType) != eventqueue.WebhookEventType {
		return Message{}, fmt.Errorf("unexpected event type %q", eventType)
	}

	event, err := webhook.ParseEvent(msg.Value)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Event:     event,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
