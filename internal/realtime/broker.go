package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Notification names published on event and user topics.
const (
	EventRegistrationCreated = "registration_created"
	EventTicketRedeemed      = "ticket_redeemed"
	EventEventUpdated        = "event_updated"
	EventEventDeleted        = "event_deleted"
	EventRoleChanged         = "role_changed"
)

// Message is one notification delivered to topic subscribers.
type Message struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    int64           `json:"at"`
}

// Broker is a topic-based publish/subscribe primitive. Subscribe returns a
// cancel func; after it returns no further messages are delivered to fn.
type Broker interface {
	Publish(ctx context.Context, topic, event string, payload interface{}) error
	Subscribe(topic string, fn func(Message)) (cancel func(), err error)
}

// EventTopic is the topic carrying changes to one event and its registrations.
func EventTopic(eventID string) string { return "events:" + eventID }

// UserTopic is the topic carrying changes to one user's account.
func UserTopic(userID string) string { return "users:" + userID }

func newMessage(topic, event string, payload interface{}) (Message, error) {
	msg := Message{Topic: topic, Event: event, At: time.Now().Unix()}
	if payload == nil {
		return msg, nil
	}
	switch v := payload.(type) {
	case json.RawMessage:
		msg.Data = v
	case []byte:
		msg.Data = v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Data = data
	}
	return msg, nil
}
