package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// Topic constants
const (
	TopicRenewalAbandoned     = "keyip.renewal.abandoned"
	TopicRenewalNotifications = "keyip.renewal.notifications"
	TopicDeadLetter           = "keyip.renewal.dead_letter"
)

// Event types carried in the envelope.
const (
	EventTypeMatterEvent  = "renewal.matter_event"
	EventTypeNotification = "renewal.notification"
)

const schemaVersion = "v1"

// ProducerMessage is a message to be written.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Message is a message read from a topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, msg *Message) error

// EventEnvelope standardizes event messages.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope wraps payload. eventID may be empty, in which case a
// fresh UUID is used.
func NewEventEnvelope(eventID, eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "failed to marshal payload")
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}
	return &EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: schemaVersion,
		Payload:       data,
	}, nil
}

func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return appErrors.New(appErrors.ErrCodeValidation, "empty event payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "failed to decode payload")
	}
	return nil
}

// ToMessage serialises the envelope for topic, partitioned by key.
func (e *EventEnvelope) ToMessage(topic string, key string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "failed to marshal envelope")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
		Headers: map[string]string{
			"event_id":       e.EventID,
			"event_type":     e.EventType,
			"source_service": e.Source,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, appErrors.New(appErrors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Payloads
// ─────────────────────────────────────────────────────────────────────────────

// MatterEventPayload is the wire form of a matter event.
type MatterEventPayload struct {
	MatterID   int64     `json:"matter_id"`
	TaskID     int64     `json:"task_id"`
	Code       string    `json:"code"`
	BatchID    int64     `json:"batch_id"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

func matterEventPayload(e domainRenewal.MatterEvent) MatterEventPayload {
	return MatterEventPayload{
		MatterID:   e.MatterID,
		TaskID:     e.TaskID,
		Code:       e.Code,
		BatchID:    e.BatchID,
		Actor:      e.Actor,
		OccurredAt: e.OccurredAt,
	}
}

// ToMatterEvent rebuilds the domain event carried by env.
func (p MatterEventPayload) ToMatterEvent(eventID string) domainRenewal.MatterEvent {
	return domainRenewal.MatterEvent{
		ID:         eventID,
		MatterID:   p.MatterID,
		TaskID:     p.TaskID,
		Code:       p.Code,
		BatchID:    p.BatchID,
		Actor:      p.Actor,
		OccurredAt: p.OccurredAt,
	}
}
