package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// bufferedEvent is one seq-bearing emission retained for reconnect catch-up.
// Events are stored pre-serialized; replay writes the exact original bytes.
type bufferedEvent struct {
	seq  int64
	data []byte
}

// UserState is the in-memory state for one user key: the sequence counter,
// the bounded event-replay buffer, the set of connected tabs, and the
// current streaming episode.
//
// Concurrency guarantees:
//   - All fields are guarded by mu. Seq assignment, buffer append, and
//     client enqueues happen under mu, so every tab observes seq-bearing
//     events in strictly increasing seq order.
//   - Enqueues never block (drops under backpressure); the tab's close
//     handler cleans up failed sockets.
type UserState struct {
	key string
	log *slog.Logger

	mu        sync.Mutex
	seq       int64
	buffer    []bufferedEvent
	clients   map[*Client]struct{}
	streaming *streamingState
}

type streamingState struct {
	text  string
	timer *time.Timer
	// epoch invalidates stale inactivity timers after a reset.
	epoch uint64
}

func newUserState(log *slog.Logger, key string) *UserState {
	return &UserState{
		key:     key,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

// nextSeqLocked hands out the next sequence value. Callers hold mu.
func (u *UserState) nextSeqLocked() int64 {
	s := u.seq
	u.seq++
	return s
}

// bufferRangeLocked returns the smallest and largest buffered seq.
// ok is false when the buffer is empty. Callers hold mu.
func (u *UserState) bufferRangeLocked() (min, max int64, ok bool) {
	if len(u.buffer) == 0 {
		return 0, 0, false
	}
	return u.buffer[0].seq, u.buffer[len(u.buffer)-1].seq, true
}

// emitLocked serializes ev once, optionally appends it to the replay buffer,
// and enqueues it either to a single tab (only != nil) or to every connected
// tab. Callers hold mu and have already assigned seq inside ev.
func (u *UserState) emitLocked(seq int64, ev any, buffered bool, only *Client) {
	data, err := json.Marshal(ev)
	if err != nil {
		u.log.Error("relay.event.encode.fail", "user_key", u.key, "err", err)
		return
	}

	if buffered {
		u.buffer = append(u.buffer, bufferedEvent{seq: seq, data: data})
		if len(u.buffer) > maxEventBuffer {
			u.buffer = u.buffer[1:]
		}
	}

	if only != nil {
		u.sendLocked(only, data)
		return
	}
	for c := range u.clients {
		u.sendLocked(c, data)
	}
}

func (u *UserState) sendLocked(c *Client, data []byte) {
	if !c.TrySend(data) {
		metricSendDrops.Inc()
		u.log.Debug("relay.send.drop", "user_key", u.key, "connection_id", c.ConnectionID)
	}
}
