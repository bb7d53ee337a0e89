package events

import (
	"testing"
)

func TestPublishOrdering(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	total := 5
	for step := 1; step <= total; step++ {
		bus.Publish(Event{Step: step, TotalSteps: total, Message: "step", Status: StatusRunning})
	}
	bus.Publish(Event{Step: total, TotalSteps: total, Message: "finished", Status: StatusDone})

	prev := 0
	for i := 0; i < total+1; i++ {
		e := <-ch
		if e.Step < prev {
			t.Errorf("step went backwards: %d after %d", e.Step, prev)
		}
		prev = e.Step
	}
	last := Event{Step: prev, TotalSteps: total, Status: StatusDone}
	if !last.Terminal() {
		t.Error("expected final event to be terminal")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish(Event{Step: 1, TotalSteps: 1, Status: StatusRunning})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Step != 1 {
				t.Errorf("subscriber %s: unexpected event %+v", name, e)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Step: 1, TotalSteps: 2, Status: StatusRunning})

	ch, cancel := bus.Subscribe()
	defer cancel()

	select {
	case e := <-ch:
		t.Errorf("late subscriber should receive nothing, got %+v", e)
	default:
	}

	bus.Publish(Event{Step: 2, TotalSteps: 2, Status: StatusRunning})
	e := <-ch
	if e.Step != 2 {
		t.Errorf("expected only the live event, got %+v", e)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Error("expected channel closed after cancel")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	// Publishing after cancel must not panic.
	bus.Publish(Event{Step: 1, TotalSteps: 1, Status: StatusDone})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	// Flood well past the buffer; Publish must never block.
	for i := 0; i < subscriberBuffer*3; i++ {
		bus.Publish(Event{Step: i + 1, TotalSteps: subscriberBuffer * 3, Status: StatusRunning})
	}
}
