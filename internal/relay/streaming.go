package relay

import (
	"time"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
)

// SetStreamingText publishes the current cumulative partial reply for
// userKey and re-arms the inactivity deadline. At most one streaming
// episode exists per user at any instant.
func (r *Relay) SetStreamingText(userKey, text string) {
	u := r.user(userKey)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.streaming == nil {
		u.streaming = &streamingState{}
	} else if u.streaming.timer != nil {
		u.streaming.timer.Stop()
	}

	u.streaming.text = text
	u.streaming.epoch++
	epoch := u.streaming.epoch

	seq := u.nextSeqLocked()
	u.emitLocked(seq, chatv1.StreamingEvent{Type: chatv1.TypeStreaming, Text: text, Seq: seq}, true, nil)
	metricEventsEmitted.WithLabelValues(chatv1.TypeStreaming).Inc()

	u.streaming.timer = time.AfterFunc(r.opts.StreamingTimeout, func() {
		r.streamingExpired(u, epoch)
	})
}

// EndStreaming terminates the current streaming episode and broadcasts
// streaming_end. It is a no-op when no episode is active, which keeps
// streaming_end at exactly one per episode even when a dispatch finishing
// races the inactivity timer.
func (r *Relay) EndStreaming(userKey string) {
	u := r.user(userKey)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.endStreamingLocked()
}

// streamingExpired fires when the agent produced no update for the whole
// inactivity window. Without it, a hung agent would leave clients showing a
// partial reply forever.
func (r *Relay) streamingExpired(u *UserState, epoch uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.streaming == nil || u.streaming.epoch != epoch {
		// A later update or an explicit end won the race.
		return
	}
	r.log.Info("relay.streaming.timeout", "user_key", u.key)
	u.endStreamingLocked()
}

func (u *UserState) endStreamingLocked() {
	if u.streaming == nil {
		return
	}
	if u.streaming.timer != nil {
		u.streaming.timer.Stop()
	}
	u.streaming = nil

	seq := u.nextSeqLocked()
	u.emitLocked(seq, chatv1.StreamingEndEvent{Type: chatv1.TypeStreamingEnd, Seq: seq}, true, nil)
	metricEventsEmitted.WithLabelValues(chatv1.TypeStreamingEnd).Inc()
}
