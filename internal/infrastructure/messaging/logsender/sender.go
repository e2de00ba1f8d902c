// Package logsender is the notification transport used in development: it
// writes each rendered message to the structured log instead of delivering it.
package logsender

import (
	"context"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

type Sender struct {
	logger logging.Logger
}

var _ domainRenewal.NotificationSender = (*Sender)(nil)

func New(logger logging.Logger) *Sender {
	return &Sender{logger: logger.Named("notifications")}
}

func (s *Sender) Send(ctx context.Context, msg *domainRenewal.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("Notification",
		logging.String("id", msg.ID),
		logging.Int64("batch_id", msg.BatchID),
		logging.String("kind", msg.KindName),
		logging.String("template", msg.Template),
		logging.String("to", msg.Recipient.Address),
		logging.String("locale", msg.Recipient.Locale),
		logging.Int("lines", len(msg.Lines)),
		logging.String("total", msg.Total.TotalWithVAT.StringFixed(2)),
	)
	return nil
}
