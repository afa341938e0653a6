// Package relay implements the per-user chat relay engine: sequencing,
// fan-out broadcast, reconnect/resync, the streaming-reply state machine,
// and the inbound -> agent -> outbound dispatch loop.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/history"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/push"
)

// peerPrefix marks relay-addressed targets on the host bus; it is stripped
// before a target is used as a user key.
const peerPrefix = "pwa-chat:"

// Options tunes relay behavior. Zero values select defaults.
type Options struct {
	StreamingTimeout time.Duration
	SendQueueSize    int
	PushTitle        string
}

func (o Options) withDefaults() Options {
	if o.StreamingTimeout <= 0 {
		o.StreamingTimeout = defaultStreamingTimeout
	}
	if o.SendQueueSize < minSendQueueSize {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.PushTitle == "" {
		o.PushTitle = "OpenClaw"
	}
	return o
}

// Relay owns all per-user state and the history/push collaborators.
//
// The users map grows one entry per distinct user key seen and is never
// evicted; replay buffers for returning users survive idle periods.
type Relay struct {
	log     *slog.Logger
	history history.Store
	push    *push.Sink
	opts    Options

	mu    sync.Mutex
	users map[string]*UserState
}

// New constructs a Relay. push may be nil (no notifications).
func New(log *slog.Logger, store history.Store, sink *push.Sink, opts Options) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:     log,
		history: store,
		push:    sink,
		opts:    opts.withDefaults(),
		users:   make(map[string]*UserState),
	}
}

// SendQueueSize exposes the configured per-client queue size to the gateway.
func (r *Relay) SendQueueSize() int { return r.opts.SendQueueSize }

// user returns the stable state handle for userKey, creating it lazily.
// The coarse lock is held only for lookup/create.
func (r *Relay) user(userKey string) *UserState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userKey]; ok {
		return u
	}
	u := newUserState(r.log, userKey)
	r.users[userKey] = u
	return u
}

// Attach registers a tab with the user's state and performs the connect
// handshake: hello first, then either a catch-up replay (when the previous
// connection id and seq fall inside the replay buffer) or authoritative
// full state (history plus current streaming text).
//
// The whole handshake runs under the per-user lock so concurrent broadcasts
// cannot interleave with it.
func (r *Relay) Attach(ctx context.Context, userKey string, client *Client, prevConnID string, prevSeq int64, havePrev bool) (resync bool) {
	u := r.user(userKey)

	u.mu.Lock()
	defer u.mu.Unlock()

	resync = true
	connID := prevConnID
	if prevConnID != "" && havePrev {
		if min, max, ok := u.bufferRangeLocked(); ok && prevSeq >= min && prevSeq <= max {
			resync = false
		}
	}
	if resync {
		connID = uuid.NewString()
	}

	client.ConnectionID = connID
	u.clients[client] = struct{}{}
	metricConnectedClients.Inc()

	helloSeq := u.nextSeqLocked()
	u.emitLocked(helloSeq, chatv1.HelloEvent{
		Type:         chatv1.TypeHello,
		ConnectionID: connID,
		Seq:          helloSeq,
	}, false, client)
	metricEventsEmitted.WithLabelValues(chatv1.TypeHello).Inc()

	if resync {
		r.sendAuthoritativeStateLocked(ctx, u, client)
	} else {
		replayed := 0
		for _, be := range u.buffer {
			if be.seq >= prevSeq {
				u.sendLocked(client, be.data)
				replayed++
			}
		}
		r.log.Debug("relay.attach.catchup",
			"user_key", userKey, "connection_id", connID,
			"from_seq", prevSeq, "replayed", replayed)
	}
	return resync
}

// Detach removes a tab from the user's state. Removal happens exactly once
// at socket termination.
func (r *Relay) Detach(userKey string, client *Client) {
	u := r.user(userKey)

	u.mu.Lock()
	_, present := u.clients[client]
	delete(u.clients, client)
	u.mu.Unlock()

	if present {
		metricConnectedClients.Dec()
	}
	client.Close()
}

// SendFullState handles an explicit client resync request: the persisted
// history and the current streaming text (if any) are re-emitted to the
// requesting tab as fresh buffered events.
func (r *Relay) SendFullState(ctx context.Context, userKey string, client *Client) {
	u := r.user(userKey)

	u.mu.Lock()
	defer u.mu.Unlock()
	r.sendAuthoritativeStateLocked(ctx, u, client)
}

func (r *Relay) sendAuthoritativeStateLocked(ctx context.Context, u *UserState, client *Client) {
	msgs, err := r.history.ReadHistory(ctx, u.key)
	if err != nil {
		// Degrade to empty history rather than failing the connection.
		r.log.Warn("relay.history.read.fail", "user_key", u.key, "err", err)
		msgs = nil
	}

	seq := u.nextSeqLocked()
	u.emitLocked(seq, chatv1.NewHistoryEvent(msgs, seq), true, client)
	metricEventsEmitted.WithLabelValues(chatv1.TypeHistory).Inc()

	if u.streaming != nil {
		seq := u.nextSeqLocked()
		u.emitLocked(seq, chatv1.StreamingEvent{
			Type: chatv1.TypeStreaming,
			Text: u.streaming.text,
			Seq:  seq,
		}, true, client)
		metricEventsEmitted.WithLabelValues(chatv1.TypeStreaming).Inc()
	}
}

// BroadcastMessage assigns the next seq to a finalized message, appends it
// to the replay buffer, and fans it out to every connected tab. It returns
// the number of tabs that were connected at emission time.
func (r *Relay) BroadcastMessage(userKey string, msg chatv1.StoredMessage) int {
	u := r.user(userKey)

	u.mu.Lock()
	defer u.mu.Unlock()

	seq := u.nextSeqLocked()
	u.emitLocked(seq, chatv1.MessageEvent{Type: chatv1.TypeMessage, Msg: msg, Seq: seq}, true, nil)
	metricEventsEmitted.WithLabelValues(chatv1.TypeMessage).Inc()
	return len(u.clients)
}

// PushOutboundMessage persists an assistant message for target, broadcasts
// it, and falls back to a push notification when no tab is connected.
// A leading "pwa-chat:" prefix on target is stripped.
//
// This is also the entrypoint for externally sourced outbound text that
// bypasses the agent.
func (r *Relay) PushOutboundMessage(ctx context.Context, target, text, mediaURL string) {
	userKey := strings.TrimPrefix(target, peerPrefix)

	msg := chatv1.StoredMessage{
		ID:        NextMessageID("out"),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Role:      chatv1.RoleAssistant,
		MediaURL:  mediaURL,
	}

	if err := r.history.AppendMessage(ctx, userKey, msg); err != nil {
		// The broadcast still goes out; a reconnecting client may miss this
		// message in history.
		r.log.Warn("relay.history.append.fail", "user_key", userKey, "err", err)
	}

	live := r.BroadcastMessage(userKey, msg)

	if live == 0 && r.push != nil {
		body := truncatePushBody(text)
		if err := r.push.SendPush(ctx, userKey, r.opts.PushTitle, body, "pwa-chat"); err != nil {
			r.log.Warn("relay.push.fail", "user_key", userKey, "err", err)
		} else {
			metricPushNotifications.Inc()
		}
	}
}

// ClientCount reports the number of currently connected tabs for userKey.
func (r *Relay) ClientCount(userKey string) int {
	u := r.user(userKey)
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.clients)
}

func truncatePushBody(text string) string {
	runes := []rune(text)
	if len(runes) <= pushBodyMaxChars {
		return text
	}
	return string(runes[:pushBodyMaxChars]) + "…"
}
