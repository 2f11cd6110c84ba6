package consumer

import (
	"context"

	"github.com/mauricioprb/run-ranking/internal/webhook"
)

// EventProcessor applies one webhook event.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event webhook.Event) error
}

// WebhookHandler feeds queued events to the webhook processor.
type WebhookHandler struct {
	processor EventProcessor
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(processor EventProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// Handle implements Handler.
func (h *WebhookHandler) Handle(ctx context.Context, msg Message) error {
	return h.processor.ProcessEvent(ctx, msg.Event)
}
