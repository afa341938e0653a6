package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/history"
)

var pongFrame = mustMarshal(chatv1.PongEvent{Type: chatv1.TypePong})

// Gateway is the WebSocket entrypoint for the relay. It authenticates the
// upgrade, runs the reconnect/full-sync handshake via the Relay, and loops
// over inbound client events.
type Gateway struct {
	log   *slog.Logger
	relay *Relay
	auth  *AuthGate
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, r *Relay, auth *AuthGate) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if auth == nil {
		auth = NewAuthGate("")
	}
	return &Gateway{log: log, relay: r, auth: auth}
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// relay loop until the peer disconnects.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !g.auth.Permit(r) {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser origin enforcement is deliberately open: access control is
		// the AuthGate's job (token / loopback / trusted proxy).
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	q := r.URL.Query()
	userID := queryOrDefault(q.Get("userId"), "default")
	sessionID := queryOrDefault(q.Get("sessionId"), "default")
	userKey := history.DeriveUserKey(userID, sessionID)

	prevConnID := strings.TrimSpace(q.Get("connection_id"))
	prevSeq, havePrev := parseSeq(q.Get("sequence_number"))

	client := NewClient(g.relay.SendQueueSize())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send; membership
	// removal happens before the client is signaled, keeping broadcast safe.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.relay.Detach(userKey, client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case data := <-client.Send:
				if err := writeFrame(ctx, conn, data); err != nil {
					g.log.Debug("ws.write.fail",
						"user_key", userKey, "connection_id", client.ConnectionID,
						"close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(pingInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, pingTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Debug("ws.ping.fail",
						"user_key", userKey, "connection_id", client.ConnectionID,
						"failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	resync := g.relay.Attach(ctx, userKey, client, prevConnID, prevSeq, havePrev)
	g.log.Info("ws.open",
		"user_key", userKey, "connection_id", client.ConnectionID,
		"resync", resync, "remote", r.RemoteAddr)

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Debug("ws.read.fail",
					"user_key", userKey, "connection_id", client.ConnectionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		var ev chatv1.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed client events are ignored: no response, no
			// disconnect, no seq consumed.
			continue
		}

		switch ev.Type {
		case chatv1.TypePing:
			// Bypasses the per-user ordering lock; pong carries no seq.
			_ = client.TrySend(pongFrame)

		case chatv1.TypeResync:
			g.relay.SendFullState(ctx, userKey, client)

		case chatv1.TypeMessage:
			g.handleMessage(ctx, userKey, userID, ev)

		default:
			// Unknown types are ignored silently.
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-heartbeatDone

	g.log.Info("ws.close", "user_key", userKey, "connection_id", client.ConnectionID)
}

// handleMessage echoes and persists a user message, then hands it to the
// agent asynchronously. Messages from one connection are dispatched in
// arrival order (the read loop is sequential); dispatches themselves may
// run concurrently.
func (g *Gateway) handleMessage(ctx context.Context, userKey, accountID string, ev chatv1.ClientEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" && len(ev.Images) == 0 {
		return
	}

	msg := chatv1.StoredMessage{
		ID:        NextMessageID("in"),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Role:      chatv1.RoleUser,
	}
	if n := len(ev.Images); n > 0 {
		msg.HasImages = true
		msg.ImageCount = n
	}

	if err := g.relay.history.AppendMessage(ctx, userKey, msg); err != nil {
		g.log.Warn("relay.history.append.fail", "user_key", userKey, "err", err)
	}
	g.relay.BroadcastMessage(userKey, msg)

	// The dispatch may outlive this socket; the reply must still be
	// persisted and push-notified after the tab goes away.
	dispatchCtx := context.WithoutCancel(ctx)
	go g.relay.DispatchInbound(dispatchCtx, userKey, accountID, text, ev.Images)
}

// ---- helpers ----

func queryOrDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func parseSeq(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeFrame(parent context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
