// Package notifier hands new-message notifications to the message broker.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"zenj-service/internal/observability"
)

// RoutingKey is the topic new-message notifications are published under.
const RoutingKey = "notifications.message"

// Notification tells a user that a conversation they are not looking at has
// a new message.
type Notification struct {
	Recipient      string    `json:"recipient"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	MessageID      string    `json:"message_id"`
	Vibrate        bool      `json:"vibrate"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher is the broker side the notifier writes to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Notifier delivers notifications. Failures are logged and swallowed.
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
}

// New constructs a Notifier.
func New(publisher Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// Notify publishes n. It never returns an error to the caller.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	if n == nil || n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, RoutingKey, note); err != nil {
		observability.IncNotification("error")
		n.logger.Warn("notification publish failed",
			zap.String("conversation_id", note.ConversationID),
			zap.String("recipient", note.Recipient),
			zap.Error(err),
		)
		return
	}
	observability.IncNotification("sent")
}
