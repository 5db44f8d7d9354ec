// Package queue carries scenario notifications over RabbitMQ: the
// publisher is the notification gateway used by the outbox relay, and
// the consumer appends delivered notifications to a log file.
package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// NotificationQueueName is the durable queue notifications are routed to.
const NotificationQueueName = "scenario.notifications"

// messageNamespace seeds deterministic message ids so that a notification
// relayed twice carries the same id both times.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("scenario-steal/notification"))

// NotificationEvent is the JSON body published for one outbox row.
type NotificationEvent struct {
	MessageID string         `json:"message_id"`
	OutboxID  int64          `json:"outbox_id,string"`
	UserID    int64          `json:"user_id,string"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	LinkURL   string         `json:"link_url"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// MessageID returns the broker message id for an outbox row.
func MessageID(outboxID int64) string {
	return uuid.NewSHA1(messageNamespace, []byte(strconv.FormatInt(outboxID, 10))).String()
}

// NewNotificationEvent converts an outbox message to its wire form.
func NewNotificationEvent(m model.OutboxMessage) NotificationEvent {
	return NotificationEvent{
		MessageID: MessageID(m.ID),
		OutboxID:  m.ID,
		UserID:    m.Notification.UserID,
		Kind:      string(m.Notification.Kind),
		Title:     m.Notification.Title,
		Message:   m.Notification.Message,
		LinkURL:   m.Notification.LinkURL,
		Metadata:  m.Notification.Metadata,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
