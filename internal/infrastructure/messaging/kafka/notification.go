package kafka

import (
	"context"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

// NotificationPublisher hands rendered messages to the mail gateway through
// TopicRenewalNotifications.
type NotificationPublisher struct {
	producer Publisher
	source   string
	logger   logging.Logger
}

func NewNotificationPublisher(producer Publisher, source string, logger logging.Logger) *NotificationPublisher {
	return &NotificationPublisher{producer: producer, source: source, logger: logger}
}

var _ domainRenewal.NotificationSender = (*NotificationPublisher)(nil)

func (p *NotificationPublisher) Send(ctx context.Context, msg *domainRenewal.Message) error {
	env, err := NewEventEnvelope(msg.ID, EventTypeNotification, p.source, msg)
	if err != nil {
		return err
	}
	env.Metadata = map[string]string{
		"kind":     msg.KindName,
		"template": msg.Template,
		"locale":   msg.Recipient.Locale,
	}
	out, err := env.ToMessage(TopicRenewalNotifications, msg.Recipient.Address)
	if err != nil {
		return err
	}
	if err := p.producer.PublishBatch(ctx, []*ProducerMessage{out}); err != nil {
		return err
	}
	p.logger.Debug("Notification queued",
		logging.String("recipient", msg.Recipient.Address),
		logging.String("kind", msg.KindName),
		logging.Int64("batch_id", msg.BatchID))
	return nil
}
