package queue

import (
	"encoding/json"
	"testing"
)

func TestRetryTarget(t *testing.T) {
	for attempt, want := range map[int]string{
		1: QueueTicketImages,
		2: QueueTicketImages,
		3: QueueDLQ,
		4: QueueDLQ,
	} {
		if got := RetryTarget(attempt); got != want {
			t.Errorf("RetryTarget(%d) = %q, want %q", attempt, got, want)
		}
	}
}

func TestDecodeJob(t *testing.T) {
	job, err := newJob(JobTypeTicketImage, TicketImagePayload{RegistrationID: "r1", EventID: "e1"})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	raw, _ := json.Marshal(job)
	got, err := DecodeJob(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var p TicketImagePayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Type != JobTypeTicketImage || p.RegistrationID != "r1" || p.EventID != "e1" {
		t.Fatalf("job = %+v payload = %+v", got, p)
	}

	for _, bad := range []string{`not json`, `{}`, `{"id":"x"}`} {
		if _, err := DecodeJob([]byte(bad)); err == nil {
			t.Errorf("DecodeJob(%q) succeeded", bad)
		}
	}
}
