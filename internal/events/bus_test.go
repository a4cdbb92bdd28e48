package events

import (
	"io"
	"log"
	"testing"
)

func silentBus() *Bus {
	return New(log.New(io.Discard, "", 0))
}

func TestEmitOrderNamedThenGlobal(t *testing.T) {
	b := silentBus()
	var order []string

	b.Subscribe("connect", func(name Name, payload any) { order = append(order, "named-1") })
	b.Subscribe("connect", func(name Name, payload any) { order = append(order, "named-2") })
	b.SubscribeAll(func(name Name, payload any) { order = append(order, "global") })

	b.Emit("connect", nil)

	want := []string{"named-1", "named-2", "global"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEmitUnsubscribedEventDoesNothing(t *testing.T) {
	b := silentBus()
	b.Emit("nobody-listens", "payload")
}

func TestSubscriberPanicDoesNotAbortDispatch(t *testing.T) {
	b := silentBus()
	var secondRan bool

	b.Subscribe("boom", func(name Name, payload any) { panic("subscriber exploded") })
	b.Subscribe("boom", func(name Name, payload any) { secondRan = true })

	b.Emit("boom", nil)

	if !secondRan {
		t.Fatal("second subscriber did not run after first subscriber panicked")
	}
}

func TestPayloadDelivery(t *testing.T) {
	b := silentBus()
	var got any

	b.Subscribe("info_packet", func(name Name, payload any) { got = payload })
	b.Emit("info_packet", 42)

	if got != 42 {
		t.Errorf("payload = %v, want 42", got)
	}
}
