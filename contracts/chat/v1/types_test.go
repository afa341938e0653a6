package v1

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPeekType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: `{"type":"message","text":"hi"}`, want: "message"},
		{in: `{"type":"ping"}`, want: "ping"},
		{in: `{"text":"no type"}`, want: ""},
		{in: `not json`, want: ""},
		{in: `[]`, want: ""},
	}

	for _, tc := range cases {
		if got := PeekType([]byte(tc.in)); got != tc.want {
			t.Fatalf("PeekType(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestSeqZeroSerializes(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(HelloEvent{Type: TypeHello, ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"seq":0`) {
		t.Fatalf("seq=0 must appear on the wire: %s", data)
	}
}

func TestNewHistoryEvent_NeverNull(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewHistoryEvent(nil, 3))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"messages":null`) {
		t.Fatalf("messages must serialize as [], got %s", data)
	}
	if !strings.Contains(string(data), `"messages":[]`) {
		t.Fatalf("expected empty array, got %s", data)
	}
}

func TestStoredMessage_OptionalFieldsOmitted(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(StoredMessage{ID: "m1", Text: "hi", Role: RoleUser})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, field := range []string{"mediaUrl", "hasImages", "imageCount"} {
		if strings.Contains(s, field) {
			t.Fatalf("zero-valued %s must be omitted: %s", field, s)
		}
	}
}
