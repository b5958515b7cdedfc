package keyvalue

import (
	"bytes"
	"testing"
)

func TestSimpleRemoteEventRoundtrip(t *testing.T) {
	ex := uint64(5000)
	cases := []SimpleRemoteEvent{
		RemoteSetEvent(1, 2, []byte("payload"), 3, &ex),
		RemoteSetEvent(1, 2, []byte("payload"), 3, nil),
		RemoteGetEvent(4, 5),
		RemoteDelEvent(6, 7, 8),
		RemoteSubEvent(9, 10, &ex),
		RemoteUnsubEvent(11, 12),
		RemoteOnKeySetAckEvent(13),
		RemoteOnKeyDelAckEvent(14),
	}
	for _, c := range cases {
		got, err := DecodeSimpleRemoteEvent(c.Encode())
		if err != nil {
			t.Fatalf("decode failed for %+v: %v", c, err)
		}
		if got.Kind != c.Kind || got.ReqId != c.ReqId || got.Key != c.Key || got.Version != c.Version {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, c)
		}
		if !bytes.Equal(got.Value, c.Value) {
			t.Fatalf("value mismatch: got %v, want %v", got.Value, c.Value)
		}
		if (got.Ex == nil) != (c.Ex == nil) || (got.Ex != nil && *got.Ex != *c.Ex) {
			t.Fatalf("ex mismatch: got %v, want %v", got.Ex, c.Ex)
		}
	}
}

func TestSimpleLocalEventRoundtrip(t *testing.T) {
	cases := []SimpleLocalEvent{
		SetAckEvent(1, 2, 3, true),
		SetAckEvent(1, 2, 3, false),
		GetAckEvent(4, 5, []byte("v"), 6, 7, true),
		GetAckEvent(4, 5, nil, 0, 0, false),
		DelAckEvent(8, 9, 10, true),
		DelAckEvent(8, 9, 0, false),
		SubAckEvent(11, 12),
		UnsubAckEvent(13, 14, true),
		OnKeySetEvent(15, 16, []byte("x"), 17, 18),
		OnKeyDelEvent(19, 20, 21, 22),
	}
	for _, c := range cases {
		got, err := DecodeSimpleLocalEvent(c.Encode())
		if err != nil {
			t.Fatalf("decode failed for %+v: %v", c, err)
		}
		if got.Kind != c.Kind || got.ReqId != c.ReqId || got.Key != c.Key || got.Version != c.Version || got.Source != c.Source || got.Success != c.Success || got.HasValue != c.HasValue || got.HasVersion != c.HasVersion {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, c)
		}
		if !bytes.Equal(got.Value, c.Value) {
			t.Fatalf("value mismatch: got %v, want %v", got.Value, c.Value)
		}
	}
}
