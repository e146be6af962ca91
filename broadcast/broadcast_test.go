package broadcast

import "testing"

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()
	a := NewChanSubscriber(1, 4)
	b := NewChanSubscriber(2, 4)
	bus.Subscribe("instances:Echo", a)
	bus.Subscribe("instances:Echo", b)

	if errs := bus.Publish("instances:Echo", []byte("hello")); len(errs) != 0 {
		t.Fatalf("Publish errors: %v", errs)
	}

	for _, s := range []*ChanSubscriber{a, b} {
		select {
		case msg := <-s.Messages():
			if string(msg) != "hello" {
				t.Errorf("got %q, want %q", msg, "hello")
			}
		default:
			t.Errorf("subscriber %d got nothing", s.ID())
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := NewChanSubscriber(1, 4)
	bus.Subscribe("ch", a)
	bus.Unsubscribe("ch", 1)

	bus.Publish("ch", []byte("x"))
	select {
	case <-a.Messages():
		t.Fatal("unsubscribed subscriber received a message")
	default:
	}
	if bus.Subscribers("ch") != 0 {
		t.Errorf("Subscribers = %d, want 0", bus.Subscribers("ch"))
	}
}

func TestPushReportsFullBuffer(t *testing.T) {
	bus := NewBus()
	a := NewChanSubscriber(1, 1)
	bus.Subscribe("ch", a)

	bus.Publish("ch", []byte("first"))
	errs := bus.Publish("ch", []byte("second"))
	if len(errs) != 1 {
		t.Fatalf("expected one failed push, got %d", len(errs))
	}
}
