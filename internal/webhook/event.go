// Package webhook applies single-activity push notifications to the local store.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

// Upstream object and aspect types.
const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// Event is a push notification as delivered by the upstream.
type Event struct {
	ObjectType     string         `json:"object_type"`
	AspectType     string         `json:"aspect_type"`
	ObjectID       int64          `json:"object_id"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id,omitempty"`
	EventTime      int64          `json:"event_time,omitempty"`
	Updates        map[string]any `json:"updates,omitempty"`
}

const eventSchemaURL = "https://schemas.run-ranking.local/strava/webhook_event.json"

const eventSchema = `{
  "type": "object",
  "title": "WebhookEvent",
  "properties": {
    "object_type": {"type": "string", "minLength": 1},
    "aspect_type": {"enum": ["create", "update", "delete"]},
    "object_id": {"type": "integer"},
    "owner_id": {"type": "integer"},
    "subscription_id": {"type": "integer"},
    "event_time": {"type": "integer"},
    "updates": {"type": "object"}
  },
  "required": ["object_type", "aspect_type", "object_id", "owner_id"]
}`

var compiledEventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, doc); err != nil {
		panic(err)
	}
	return compiler.MustCompile(eventSchemaURL)
}

// ParseEvent validates and decodes a raw event body. Anything that does not match the
// event shape is rejected with domain.ErrMalformedEvent.
func ParseEvent(body []byte) (Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
	if err := compiledEventSchema.Validate(inst); err != nil {
		return Event{}, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
	return event, nil
}

// ActionKind is what an event asks the processor to do.
type ActionKind int

const (
	Ignored ActionKind = iota
	ActivityDeleted
	ActivityChanged
)

func (k ActionKind) String() string {
	switch k {
	case ActivityDeleted:
		return "activity_deleted"
	case ActivityChanged:
		return "activity_changed"
	default:
		return "ignored"
	}
}

// Action is a classified event.
type Action struct {
	Kind       ActionKind
	ActivityID int64
	OwnerID    int64
}

// Classify maps an event onto the action it requires.
func Classify(event Event) Action {
	if event.ObjectType != ObjectActivity {
		return Action{Kind: Ignored, OwnerID: event.OwnerID}
	}
	switch event.AspectType {
	case AspectDelete:
		return Action{Kind: ActivityDeleted, ActivityID: event.ObjectID, OwnerID: event.OwnerID}
	case AspectCreate, AspectUpdate:
		return Action{Kind: ActivityChanged, ActivityID: event.ObjectID, OwnerID: event.OwnerID}
	default:
		return Action{Kind: Ignored, OwnerID: event.OwnerID}
	}
}
