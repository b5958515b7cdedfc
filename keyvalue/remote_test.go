package keyvalue

import "testing"

func TestRemoteSetGetRoundtrip(t *testing.T) {
	r := NewSimpleRemoteStorage()

	r.OnEvent(1, RemoteSetEvent(0, 10, []byte("hello"), 5, nil))
	a, ok := r.PopAction()
	if !ok || a.LocalEvent.Kind != LocalSetAck || !a.LocalEvent.Success || a.To != 1 {
		t.Fatalf("unexpected set ack: ok=%v %+v", ok, a)
	}

	r.OnEvent(2, RemoteGetEvent(7, 10))
	a, ok = r.PopAction()
	if !ok || a.LocalEvent.Kind != LocalGetAck || !a.LocalEvent.HasValue || string(a.LocalEvent.Value) != "hello" {
		t.Fatalf("unexpected get ack: ok=%v %+v", ok, a)
	}
}

func TestRemoteGetMissingKey(t *testing.T) {
	r := NewSimpleRemoteStorage()

	r.OnEvent(2, RemoteGetEvent(1, 99))
	a, ok := r.PopAction()
	if !ok || a.LocalEvent.Kind != LocalGetAck || a.LocalEvent.HasValue {
		t.Fatalf("expected a not-found get ack, got ok=%v %+v", ok, a)
	}
}

func TestRemoteSubPushesOnChange(t *testing.T) {
	r := NewSimpleRemoteStorage()

	r.OnEvent(1, RemoteSetEvent(0, 10, []byte("v1"), 1, nil))
	if _, ok := r.PopAction(); !ok {
		t.Fatalf("expected the set ack")
	}

	r.OnEvent(2, RemoteSubEvent(0, 10, nil))
	subAck, ok := r.PopAction()
	if !ok || subAck.LocalEvent.Kind != LocalSubAck {
		t.Fatalf("expected a sub ack first, got ok=%v %+v", ok, subAck)
	}
	initial, ok := r.PopAction()
	if !ok || initial.LocalEvent.Kind != LocalOnKeySet || string(initial.LocalEvent.Value) != "v1" {
		t.Fatalf("expected the cached value pushed on subscribe, got ok=%v %+v", ok, initial)
	}

	r.OnEvent(1, RemoteSetEvent(1, 10, []byte("v2"), 2, nil))
	if _, ok := r.PopAction(); !ok {
		t.Fatalf("expected the second set's ack")
	}
	push, ok := r.PopAction()
	if !ok || push.LocalEvent.Kind != LocalOnKeySet || push.To != 2 || string(push.LocalEvent.Value) != "v2" {
		t.Fatalf("expected the subscriber to be pushed the new value, got ok=%v %+v", ok, push)
	}

	r.OnEvent(2, RemoteUnsubEvent(2, 10))
	unsubAck, ok := r.PopAction()
	if !ok || unsubAck.LocalEvent.Kind != LocalUnsubAck {
		t.Fatalf("expected an unsub ack, got ok=%v %+v", ok, unsubAck)
	}

	r.OnEvent(1, RemoteDelEvent(2, 10, 2))
	if _, ok := r.PopAction(); !ok {
		t.Fatalf("expected the del ack")
	}
	if _, ok := r.PopAction(); ok {
		t.Fatalf("expected no further push after unsubscribe")
	}
}
