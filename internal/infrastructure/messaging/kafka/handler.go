package kafka

import (
	"context"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

// MatterEventHandler appends consumed matter events to store. Undecodable
// messages are logged and skipped; they would fail on every retry.
func MatterEventHandler(store domainRenewal.MatterEventStore, logger logging.Logger) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		env, err := MessageToEventEnvelope(msg)
		if err != nil {
			logger.Warn("Skipping malformed matter event", logging.Int64("offset", msg.Offset), logging.Err(err))
			return nil
		}
		if env.EventType != EventTypeMatterEvent {
			logger.Debug("Ignoring event", logging.String("event_type", env.EventType))
			return nil
		}
		var p MatterEventPayload
		if err := env.DecodePayload(&p); err != nil {
			logger.Warn("Skipping matter event with bad payload", logging.String("event_id", env.EventID), logging.Err(err))
			return nil
		}
		return store.Append(ctx, p.ToMatterEvent(env.EventID))
	}
}
