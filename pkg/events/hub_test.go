package events

import "testing"

func TestHubPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}

	h.Publish(StageEntered, StageEvent{Index: 2, Name: "fine"})

	ev := <-ch
	if ev.Name != StageEntered {
		t.Fatalf("expected %s, got %s", StageEntered, ev.Name)
	}
	payload, err := DecodeAs[StageEvent](ev)
	if err != nil {
		t.Fatalf("DecodeAs failed: %v", err)
	}
	if payload.Index != 2 || payload.Name != "fine" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(Locked, LockEvent{RunID: "r"})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, len(ch))
	}
}

func TestNilHubPublish(t *testing.T) {
	var h *EventHub
	h.Publish(Unlocked, nil)
	Nop{}.Publish(Unlocked, nil)
}
