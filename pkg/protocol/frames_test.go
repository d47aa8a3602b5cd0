package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	m := New(TypeChatRequest, ChatRequestPayload{RequestID: "r1", Content: "hi"})
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeChatRequest {
		t.Errorf("type = %q", got.Type)
	}

	var p ChatRequestPayload
	if err := got.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.Content != "hi" || p.RequestID != "r1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{"timestamp": 1}`),
		[]byte(`{}`),
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

func TestNewSetsTimestamp(t *testing.T) {
	m := New(TypePing, nil)
	if m.Timestamp == 0 {
		t.Error("timestamp not set")
	}
	if m.Payload != nil {
		t.Error("payload should be empty")
	}
}
