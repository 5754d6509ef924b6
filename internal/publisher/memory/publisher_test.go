package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", map[string]int{"succeeded": 2})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "alerts", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "runs" || msgs[1].Topic != "alerts" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherLast(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, ok := pub.Last("runs"); ok {
		t.Fatal("expected no message")
	}
	_, _ = pub.Publish(context.Background(), "runs", 1)
	_, _ = pub.Publish(context.Background(), "other", 2)
	_, _ = pub.Publish(context.Background(), "runs", 3)
	msg, ok := pub.Last("runs")
	if !ok || msg.Payload != 3 {
		t.Fatalf("unexpected last message %+v", msg)
	}
}
