package relay

import "time"

// Protocol/performance limits.
const (
	// Max seq-bearing events retained per user for reconnect catch-up.
	maxEventBuffer = 500

	// Max bytes per websocket frame read. Inline base64 images ride on
	// client messages, so this is deliberately generous.
	maxFrameBytes = 10 << 20 // 10 MiB

	// Push notification body cap (runes); longer text is cut and ellipsized.
	pushBodyMaxChars = 100
)

const (
	// Streaming inactivity window: no agent update for this long ends the
	// streaming episode server-side.
	defaultStreamingTimeout = 30 * time.Second

	// Transport keepalive.
	pingInterval    = 30 * time.Second
	pingTimeout     = 10 * time.Second
	maxPingFailures = 3

	writeTimeout = 5 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
)
