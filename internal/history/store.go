// Package history persists bounded per-user message logs.
//
// The default backend is one JSON file per user key under a configured
// directory. A Postgres backend is available for deployments that already
// run a database; both sit behind the same Store interface.
package history

import (
	"context"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
)

// MaxMessages is the per-user history cap. When an append would exceed it,
// the oldest messages are evicted.
const MaxMessages = 500

// SessionInfo summarizes one stored conversation for a base user.
type SessionInfo struct {
	SessionID     string `json:"sessionId"`
	MessageCount  int    `json:"messageCount"`
	LastTimestamp int64  `json:"lastTimestamp"`
}

// Store persists and queries per-user message logs.
//
// Requirements:
//   - ReadHistory returns an empty slice for unknown users and tolerates
//     corrupt storage (backends surface I/O errors; callers treat any error
//     as "empty history" and keep serving).
//   - AppendMessage keeps at most MaxMessages entries, evicting oldest first.
//   - ListSessions is ordered by LastTimestamp descending.
type Store interface {
	ReadHistory(ctx context.Context, userKey string) ([]chatv1.StoredMessage, error)
	AppendMessage(ctx context.Context, userKey string, msg chatv1.StoredMessage) error
	ListSessions(ctx context.Context, baseUserID string) ([]SessionInfo, error)
	DeleteSession(ctx context.Context, baseUserID, sessionID string) (bool, error)
	Close() error
}

// DeriveUserKey combines a base user id with a session discriminator.
// The literal session "default" maps to the bare base id.
func DeriveUserKey(baseUserID, sessionID string) string {
	if sessionID == "" || sessionID == "default" {
		return baseUserID
	}
	return baseUserID + ":" + sessionID
}

// SanitizeKey maps a user key to a safe file-name stem: every character
// outside [A-Za-z0-9_-] becomes an underscore.
func SanitizeKey(userKey string) string {
	out := []byte(userKey)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
