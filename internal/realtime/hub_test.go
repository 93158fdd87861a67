package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/eventgate/backend/internal/models"
)

func TestLocalBrokerCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewLocalBroker()
	var got []Message
	cancel, err := b.Subscribe("events:e1", func(m Message) { got = append(got, m) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(context.Background(), "events:e1", EventTicketRedeemed, map[string]string{"id": "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(context.Background(), "events:e2", EventTicketRedeemed, nil); err != nil {
		t.Fatalf("publish other topic: %v", err)
	}
	cancel()
	cancel()
	_ = b.Publish(context.Background(), "events:e1", EventTicketRedeemed, nil)

	if len(got) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(got))
	}
	var data map[string]string
	if err := json.Unmarshal(got[0].Data, &data); err != nil || data["id"] != "r1" {
		t.Fatalf("data = %s (%v)", got[0].Data, err)
	}
	if got[0].Topic != "events:e1" || got[0].Event != EventTicketRedeemed {
		t.Fatalf("message = %+v", got[0])
	}
}

func TestHubFansOutOnlyToTopicClients(t *testing.T) {
	t.Parallel()

	b := NewLocalBroker()
	h := NewHub(b, nil)
	dash := &Client{ID: "c1", UserID: "u1", Topics: []string{UserTopic("u1"), EventTopic("e1")}, send: make(chan Message, 4)}
	other := &Client{ID: "c2", UserID: "u2", Topics: []string{UserTopic("u2")}, send: make(chan Message, 4)}
	h.Register(dash)
	h.Register(other)

	_ = b.Publish(context.Background(), EventTopic("e1"), EventRegistrationCreated, nil)
	_ = b.Publish(context.Background(), UserTopic("u2"), EventRoleChanged, nil)

	if len(dash.send) != 1 || len(other.send) != 1 {
		t.Fatalf("queued dash=%d other=%d, want 1 and 1", len(dash.send), len(other.send))
	}
	if m := <-other.send; m.Event != EventRoleChanged {
		t.Fatalf("other got %q", m.Event)
	}

	h.Unregister(dash)
	if n := h.ListenerCount(EventTopic("e1")); n != 0 {
		t.Fatalf("listeners after unregister = %d", n)
	}
	_ = b.Publish(context.Background(), EventTopic("e1"), EventRegistrationCreated, nil)
	if len(dash.send) != 1 {
		t.Fatalf("unregistered client received a message")
	}
}

func TestTopicAllowed(t *testing.T) {
	t.Parallel()

	if !TopicAllowed(UserTopic("u1"), "u1", models.RoleStudent) {
		t.Fatal("own user topic must be allowed")
	}
	if TopicAllowed(UserTopic("u2"), "u1", models.RoleAdmin) {
		t.Fatal("another user's topic must be refused")
	}
	if TopicAllowed(EventTopic("e1"), "u1", models.RoleStudent) {
		t.Fatal("students must not follow event dashboards")
	}
	if !TopicAllowed(EventTopic("e1"), "u1", models.RoleOfficer) {
		t.Fatal("officers follow event dashboards")
	}
	if TopicAllowed("events:", "u1", models.RoleAdmin) {
		t.Fatal("empty event id must be refused")
	}
}
