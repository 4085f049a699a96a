package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "posts", map[string]int64{"post_id": 1})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "digest", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "posts" || msgs[1].Topic != "digest" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if string(msgs[0].Data) != `{"post_id":1}` {
		t.Fatalf("unexpected encoded payload %s", msgs[0].Data)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherRejectsUnencodable(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "posts", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
