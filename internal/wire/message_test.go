package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TagQuery, []byte("select 1")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	tag, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if tag != TagQuery {
		t.Errorf("tag = %q, want %q", tag, TagQuery)
	}
	if string(payload) != "select 1" {
		t.Errorf("payload = %q", payload)
	}
}

func TestWriteMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TagSync, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if buf.Len() != 5 {
		t.Fatalf("expected 5-byte frame for empty-payload message, got %d", buf.Len())
	}
	tag, payload, err := ReadMessage(&buf)
	if err != nil || tag != TagSync || len(payload) != 0 {
		t.Fatalf("got tag=%q payload=%v err=%v", tag, payload, err)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('Q')
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // absurd length
	if _, _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for oversized message length")
	}
}

func TestAppendSplitCString(t *testing.T) {
	buf := appendCString(nil, "hello")
	s, rest, ok := splitCString(buf)
	if !ok || s != "hello" || len(rest) != 0 {
		t.Fatalf("got s=%q rest=%v ok=%v", s, rest, ok)
	}
}

func TestSplitCStringNoTerminator(t *testing.T) {
	_, _, ok := splitCString([]byte("no-nul"))
	if ok {
		t.Fatal("expected ok=false for data with no NUL terminator")
	}
}
