package kafka

import (
	"context"
	"strconv"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

// Publisher is the write side of a Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []*ProducerMessage) error
}

// EventSink publishes matter events to TopicRenewalAbandoned, keyed by
// matter id so events of one matter stay ordered.
type EventSink struct {
	producer Publisher
	source   string
	logger   logging.Logger
}

// NewEventSink builds an EventSink. source names the publishing service.
func NewEventSink(producer Publisher, source string, logger logging.Logger) *EventSink {
	return &EventSink{producer: producer, source: source, logger: logger}
}

var _ domainRenewal.EventSink = (*EventSink)(nil)

func (s *EventSink) Publish(ctx context.Context, events ...domainRenewal.MatterEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*ProducerMessage, 0, len(events))
	for _, e := range events {
		env, err := NewEventEnvelope(e.ID, EventTypeMatterEvent, s.source, matterEventPayload(e))
		if err != nil {
			return err
		}
		env.Metadata = map[string]string{"code": e.Code}
		msg, err := env.ToMessage(TopicRenewalAbandoned, strconv.FormatInt(e.MatterID, 10))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := s.producer.PublishBatch(ctx, msgs); err != nil {
		return err
	}
	s.logger.Info("Matter events published", logging.Int("count", len(events)))
	return nil
}
