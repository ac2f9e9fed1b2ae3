package event

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Register("r1")

	var got []Type
	unsub := bus.Subscribe("r1", func(eventType Type, payload any) {
		got = append(got, eventType)
	})
	if unsub == nil {
		t.Fatal("Subscribe returned nil for a registered run")
	}

	bus.Publish("r1", TypeStepStarted, StepPayload{Step: "brief"})
	bus.Publish("r1", TypeStepFinished, StepPayload{Step: "brief"})

	if len(got) != 2 || got[0] != TypeStepStarted || got[1] != TypeStepFinished {
		t.Fatalf("received %v, want [step_started step_finished]", got)
	}
}

func TestSubscribeUnknownRunReturnsNil(t *testing.T) {
	bus := NewBus()
	if unsub := bus.Subscribe("ghost", func(Type, any) {}); unsub != nil {
		t.Error("Subscribe should return nil for an unregistered run")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	bus.Register("r1")

	count := 0
	unsub := bus.Subscribe("r1", func(Type, any) { count++ })

	bus.Publish("r1", TypeLog, nil)
	unsub()
	bus.Publish("r1", TypeLog, nil)

	if count != 1 {
		t.Fatalf("handler called %d times, want 1", count)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus()
	bus.Register("r1")

	bus.Subscribe("r1", func(Type, any) { panic("boom") })
	healthy := 0
	bus.Subscribe("r1", func(Type, any) { healthy++ })

	// Must not panic, and the healthy subscriber still gets the event.
	bus.Publish("r1", TypeError, ErrorPayload{Message: "x"})

	if healthy != 1 {
		t.Fatalf("healthy handler called %d times, want 1", healthy)
	}
}

func TestDeregisterDropsSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Register("r1")
	bus.Subscribe("r1", func(Type, any) {})

	bus.Deregister("r1")

	if bus.Known("r1") {
		t.Error("run still known after Deregister")
	}
	if n := bus.SubscriberCount("r1"); n != 0 {
		t.Errorf("subscriber count = %d after Deregister, want 0", n)
	}
	// Publishing to a deregistered run is a no-op, not a panic.
	bus.Publish("r1", TypeLog, nil)
}

func TestPublishUnknownRunIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Publish("never-registered", TypeStatus, StatusPayload{Status: "done"})
}
