// Package rabbitmq delivers rendered renewal notifications to the mail
// gateway over an AMQP topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/turtacn/keyip-renewals/internal/config"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

const (
	defaultExchange   = "keyip.renewals"
	defaultRoutingKey = "renewal.notification"
)

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// NotificationPublisher publishes one persistent JSON message per rendered
// notification. The routing key is suffixed with the notification kind so
// consumers can bind per kind ("renewal.notification.#").
type NotificationPublisher struct {
	conn       *amqp.Connection
	channel    Channel
	exchange   string
	routingKey string
	logger     logging.Logger

	mu       sync.Mutex
	declared bool
}

var _ domainRenewal.NotificationSender = (*NotificationPublisher)(nil)

// NewNotificationPublisher dials cfg.URL and opens a channel.
func NewNotificationPublisher(cfg config.RabbitMQConfig, logger logging.Logger) (*NotificationPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeValidation, "invalid rabbitmq url")
	}
	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeMessageQueueError, "failed to connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, appErrors.Wrap(err, appErrors.CodeMessageQueueError, "failed to open rabbitmq channel")
	}

	p := NewNotificationPublisherWithChannel(ch, cfg.Exchange, cfg.RoutingKey, logger)
	p.conn = conn
	logger.Info("Connected to RabbitMQ", logging.String("exchange", p.exchange))
	return p, nil
}

// NewNotificationPublisherWithChannel wraps an already open channel.
func NewNotificationPublisherWithChannel(ch Channel, exchange, routingKey string, logger logging.Logger) *NotificationPublisher {
	if exchange == "" {
		exchange = defaultExchange
	}
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}
	return &NotificationPublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (p *NotificationPublisher) declare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared {
		return nil
	}
	if err := p.channel.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return appErrors.Wrap(err, appErrors.CodeMessageQueueError, "failed to declare exchange")
	}
	p.declared = true
	return nil
}

// Send publishes msg. The exchange is declared on first use.
func (p *NotificationPublisher) Send(ctx context.Context, msg *domainRenewal.Message) error {
	if msg == nil {
		return appErrors.New(appErrors.ErrCodeValidation, "message required")
	}
	if err := p.declare(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "failed to marshal notification")
	}

	key := p.routingKey
	if msg.KindName != "" {
		key += "." + msg.KindName
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Type:         msg.Template,
		Headers: amqp.Table{
			"locale":   msg.Recipient.Locale,
			"batch_id": msg.BatchID,
		},
		Body: body,
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, key, false, false, pub); err != nil {
		return appErrors.Wrap(err, appErrors.CodeMessageQueueError, "failed to publish notification")
	}

	p.logger.Debug("Notification published",
		logging.String("exchange", p.exchange),
		logging.String("routing_key", key),
		logging.String("recipient", msg.Recipient.Address))
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *NotificationPublisher) Close() error {
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", appErrors.New(appErrors.ErrCodeValidation, "AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
