// Package v1 defines the OpenClaw PWA chat wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the relay server and browser clients to keep the wire
// protocol authoritative.
package v1

import "encoding/json"

// Client event types (client -> server).
const (
	// TypeMessage submits a user message, optionally with image attachments.
	TypeMessage = "message"
	// TypePing is an application-level keepalive probe.
	TypePing = "ping"
	// TypeResync asks the server to re-send authoritative state (full history
	// plus current streaming text, if any).
	TypeResync = "resync"
)

// Server event types (server -> client).
const (
	// TypeHello opens a connection: carries the connection id and the seq the
	// connection's event stream continues from.
	TypeHello = "hello"
	// TypeHistory carries the full persisted message log.
	TypeHistory = "history"
	// TypeStreaming carries the current cumulative partial reply text.
	TypeStreaming = "streaming"
	// TypeStreamingEnd signals that no further partial text will arrive.
	TypeStreamingEnd = "streaming_end"
	// TypePong answers an application-level ping. It carries no seq.
	TypePong = "pong"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StoredMessage is the canonical persisted message representation.
// Timestamp is milliseconds since the Unix epoch.
type StoredMessage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Role       string `json:"role"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	HasImages  bool   `json:"hasImages,omitempty"`
	ImageCount int    `json:"imageCount,omitempty"`
}

// ImageAttachment is an inline image sent with a client message.
type ImageAttachment struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ClientEvent is the single client -> server wire shape.
// Unknown or malformed events are ignored by the server.
type ClientEvent struct {
	Type   string            `json:"type"`
	Text   string            `json:"text,omitempty"`
	Images []ImageAttachment `json:"images,omitempty"`
}

// ---- server events ----
//
// Each seq-bearing event is its own struct so that seq=0 serializes
// unambiguously (no omitempty games on the hot path).

// HelloEvent is sent once per connection, only to the connecting client.
type HelloEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Seq          int64  `json:"seq"`
}

// HistoryEvent carries the full persisted message log for the user.
// Messages is never null on the wire.
type HistoryEvent struct {
	Type     string          `json:"type"`
	Messages []StoredMessage `json:"messages"`
	Seq      int64           `json:"seq"`
}

// MessageEvent carries one finalized message (user echo or assistant reply).
type MessageEvent struct {
	Type string        `json:"type"`
	Msg  StoredMessage `json:"msg"`
	Seq  int64         `json:"seq"`
}

// StreamingEvent carries the cumulative partial reply produced so far.
type StreamingEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Seq  int64  `json:"seq"`
}

// StreamingEndEvent signals the end of a streaming episode.
type StreamingEndEvent struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
}

// PongEvent answers a client ping. No seq, never buffered.
type PongEvent struct {
	Type string `json:"type"`
}

// NewHistoryEvent builds a HistoryEvent with a non-nil message slice.
func NewHistoryEvent(messages []StoredMessage, seq int64) HistoryEvent {
	if messages == nil {
		messages = []StoredMessage{}
	}
	return HistoryEvent{Type: TypeHistory, Messages: messages, Seq: seq}
}

// PeekType extracts the "type" discriminator from a raw wire event without
// decoding the full payload. Returns "" when the data is not a JSON object
// with a string type.
func PeekType(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Type
}
