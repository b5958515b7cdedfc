package keyvalue

import "testing"

func TestSetShouldMarkAfterAck(t *testing.T) {
	s := NewSimpleLocalStorage(10000)

	s.Set(0, 1, []byte{1}, nil)

	a, ok := s.PopAction()
	if !ok || a.Kind != ActionSendNet || a.RemoteEvent.Kind != RemoteSet || a.RemoteEvent.Key != 1 || a.RemoteEvent.Version != 0 {
		t.Fatalf("unexpected first action: %+v ok=%v", a, ok)
	}
	if _, ok := s.PopAction(); ok {
		t.Fatalf("expected no further action")
	}

	s.OnEvent(2, SetAckEvent(0, 1, 0, true))

	s.Tick(100)
	if _, ok := s.PopAction(); ok {
		t.Fatalf("expected no resend after ack")
	}
}

func TestSetShouldGenerateNewVersion(t *testing.T) {
	s := NewSimpleLocalStorage(10000)

	s.Set(0, 1, []byte{1}, nil)
	if _, ok := s.PopAction(); !ok {
		t.Fatalf("expected an action")
	}
	if _, ok := s.PopAction(); ok {
		t.Fatalf("expected no further action")
	}

	s.Set(1000, 1, []byte{2}, nil)
	a, ok := s.PopAction()
	if !ok {
		t.Fatalf("expected an action")
	}
	const wantVersion = uint64(1000)<<16 | 1
	if a.RemoteEvent.Version != wantVersion {
		t.Fatalf("version = %d, want %d", a.RemoteEvent.Version, wantVersion)
	}
	if string(a.RemoteEvent.Value) != string([]byte{2}) {
		t.Fatalf("value = %v", a.RemoteEvent.Value)
	}
}

func TestSetAckFailureRegeneratesVersion(t *testing.T) {
	s := NewSimpleLocalStorage(10000)

	s.Set(0, 1, []byte{1}, nil)
	first, _ := s.PopAction()
	if first.RemoteEvent.Version != 0 {
		t.Fatalf("first version = %d", first.RemoteEvent.Version)
	}

	s.OnEvent(2, SetAckEvent(0, 1, 0, false))

	s.Tick(0)
	resend, ok := s.PopAction()
	if !ok || resend.RemoteEvent.Kind != RemoteSet {
		t.Fatalf("expected a resend after failed ack, got ok=%v %+v", ok, resend)
	}
	if resend.RemoteEvent.Version == 0 {
		t.Fatalf("expected a regenerated version, got the same version back")
	}

	s.OnEvent(2, SetAckEvent(resend.RemoteEvent.ReqId, 1, resend.RemoteEvent.Version, true))
	s.Tick(100)
	if _, ok := s.PopAction(); ok {
		t.Fatalf("expected no resend once the regenerated version is acked")
	}
}

func TestGetTimesOut(t *testing.T) {
	s := NewSimpleLocalStorage(10000)

	s.Get(0, 1, 42, KeyValueServiceId, 50)
	if _, ok := s.PopAction(); !ok {
		t.Fatalf("expected the Get to queue a SendNet action")
	}

	s.Tick(49)
	if _, ok := s.PopAction(); ok {
		t.Fatalf("expected no timeout before the deadline")
	}

	s.Tick(50)
	a, ok := s.PopAction()
	if !ok || a.Kind != ActionLocalOnGet || a.Err != GetErrTimeout {
		t.Fatalf("expected a timeout action, got ok=%v %+v", ok, a)
	}
}

func TestSubscribeReplaysCachedValue(t *testing.T) {
	s := NewSimpleLocalStorage(10000)

	s.Subscribe(1, nil, 7, KeyValueServiceId)
	if _, ok := s.PopAction(); !ok {
		t.Fatalf("expected a Sub SendNet action")
	}

	events := s.OnEvent(2, OnKeySetEvent(5, 1, []byte{9}, 3, 2))
	var sawSetAck, sawChange bool
	for _, e := range events {
		if e.Kind == ActionSendNet && e.RemoteEvent.Kind == RemoteOnKeySetAck {
			sawSetAck = true
		}
		if e.Kind == ActionLocalOnChanged {
			sawChange = true
		}
	}
	if !sawSetAck || !sawChange {
		t.Fatalf("expected both an ack and a change notification, got %+v", events)
	}

	// a second subscriber joining afterwards should replay the cached value
	// without a new round trip.
	s.Subscribe(1, nil, 8, KeyValueServiceId)
	replayed := false
	for {
		a, ok := s.PopAction()
		if !ok {
			break
		}
		if a.Kind == ActionLocalOnChanged && a.Uuid == 8 {
			replayed = true
		}
	}
	if !replayed {
		t.Fatalf("expected the cached value to replay to the new subscriber")
	}
}
