package pubsub

import (
	"testing"
	"time"
)

func TestPublishSubscribeDeliversToMatchingTopic(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("search:completed")
	defer sub.Unsubscribe()

	b.Publish(Event{Topic: "search:completed", Payload: 42})
	b.Publish(Event{Topic: "cache:cleared", Payload: nil})

	select {
	case ev := <-sub.C:
		if ev.Topic != "search:completed" || ev.Payload != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestWildcardSubscriberSeesEverything(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("")
	defer sub.Unsubscribe()

	b.Publish(Event{Topic: "sync:conflict"})
	b.Publish(Event{Topic: "monitor:alert"})

	for i := 0; i < 2; i++ {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("topic")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	b.Publish(Event{Topic: "topic"})

	if _, ok := <-sub.C; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("flood")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Topic: "flood", Payload: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New(1)
	if b.SubscriberCount("x") != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	sub := b.Subscribe("x")
	if b.SubscriberCount("x") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	sub.Unsubscribe()
	if b.SubscriberCount("x") != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}
}
