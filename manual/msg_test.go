package manual

import (
	"reflect"
	"testing"
)

func TestTagsAnnounceRoundtrip(t *testing.T) {
	cases := [][]string{
		nil,
		{},
		{"edge"},
		{"edge", "relay", "eu-west"},
	}
	for _, tags := range cases {
		m := TagsAnnounce{Tags: tags}
		got, err := DecodeTagsAnnounce(m.Encode())
		if err != nil {
			t.Fatalf("decode failed for %v: %v", tags, err)
		}
		if len(got.Tags) == 0 && len(tags) == 0 {
			continue
		}
		if !reflect.DeepEqual(got.Tags, tags) {
			t.Fatalf("roundtrip mismatch: got %v, want %v", got.Tags, tags)
		}
	}
}

func TestTagsOverlap(t *testing.T) {
	if !tagsOverlap([]string{"relay"}, []string{"edge", "relay"}) {
		t.Fatalf("expected overlap")
	}
	if tagsOverlap([]string{"relay"}, []string{"edge"}) {
		t.Fatalf("expected no overlap")
	}
	if tagsOverlap([]string{}, []string{"edge"}) {
		t.Fatalf("empty want set should never match")
	}
}
