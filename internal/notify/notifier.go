// Package notify forwards execution lifecycle events from the in-process
// event bus to a RabbitMQ exchange.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingPrefix is prepended to the event type to form the routing key.
const RoutingPrefix = "actionflow."

// Publisher is the part of an AMQP channel the notifier uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the envelope published for every event.
type Message struct {
	ID        string                 `json:"id"`
	Type      eventbus.EventType     `json:"type"`
	Source    string                 `json:"source"`
	Payload   any                    `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier publishes bus events to an exchange.
type Notifier struct {
	pub      Publisher
	exchange string
	logger   *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(pub Publisher, exchange string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, exchange: exchange, logger: logger}
}

// Attach subscribes the notifier to every event on bus and returns the subscription id.
func (n *Notifier) Attach(bus eventbus.EventBus) (string, error) {
	return bus.SubscribeAll(n.Handle)
}

// Handle publishes one event. It is an eventbus.EventHandler.
func (n *Notifier) Handle(ctx context.Context, evt eventbus.Event) error {
	msg := Message{
		ID:        uuid.New().String(),
		Type:      evt.Type(),
		Source:    evt.Source(),
		Payload:   evt.Payload(),
		Metadata:  evt.Metadata(),
		Timestamp: time.Unix(0, evt.Timestamp()).UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := RoutingPrefix + string(evt.Type())
	err = n.pub.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", n.exchange, key, err)
	}

	n.logger.Debug("published message", "exchange", n.exchange, "routing_key", key, "message_id", msg.ID)
	return nil
}
