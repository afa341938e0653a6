package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/agentruntime"
)

// DispatchInbound drives one user message through the agent runtime and
// feeds agent output back through the streaming controller and broadcaster.
//
// Effects: zero or more streaming broadcasts carrying monotonically growing
// cumulative text, then either a final assistant message followed by
// streaming_end, or (for a hung agent) the inactivity timer ends the
// episode without a final message. A safety flush emits accumulated text as
// the final message when the agent never signaled final.
//
// Dispatches for the same user are NOT serialized against each other; two
// concurrent dispatches interleave their streaming text.
func (r *Relay) DispatchInbound(ctx context.Context, userKey, accountID, text string, images []chatv1.ImageAttachment) {
	if !agentruntime.Configured() {
		r.log.Error("dispatch.runtime.missing", "user_key", userKey)
		return
	}
	rt := agentruntime.Get()

	traceID := ulid.Make().String()
	log := r.log.With("trace_id", traceID, "user_key", userKey)
	metricDispatches.Inc()

	req := agentruntime.RouteRequest{
		Channel:   "pwa-chat",
		AccountID: accountID,
		Peer:      peerPrefix + userKey,
	}

	route, err := rt.ResolveRoute(ctx, req)
	if err != nil {
		log.Error("dispatch.route.fail", "err", err)
		return
	}

	// Best-effort bookkeeping; a failure here must not block the reply.
	if err := rt.RecordSession(ctx, agentruntime.SessionMeta{
		SessionKey: route.SessionKey,
		Channel:    req.Channel,
		AccountID:  accountID,
		Peer:       req.Peer,
	}); err != nil {
		log.Debug("dispatch.session.record.fail", "err", err)
	}

	dc := agentruntime.DispatchContext{
		SessionKey: route.SessionKey,
		AgentID:    route.AgentID,
		AccountID:  accountID,
		Peer:       req.Peer,
		Envelope:   rt.FormatEnvelope(req, text),
		Images:     toRuntimeImages(images),
	}
	rt.FinalizeContext(&dc)

	var (
		mu             sync.Mutex
		accumulated    strings.Builder
		finalDelivered bool
		finalMediaURL  string
	)

	deliver := func(p agentruntime.ReplyPayload, info agentruntime.DeliveryInfo) {
		mu.Lock()
		defer mu.Unlock()

		switch info.Kind {
		case agentruntime.KindBlock:
			if p.Text == "" {
				return
			}
			accumulated.WriteString(p.Text)
			r.SetStreamingText(userKey, accumulated.String())

		case agentruntime.KindFinal:
			accumulated.WriteString(p.Text)
			finalDelivered = true
			if p.MediaURL != "" {
				finalMediaURL = p.MediaURL
			}
			if accumulated.Len() > 0 {
				r.PushOutboundMessage(ctx, userKey, accumulated.String(), finalMediaURL)
				r.EndStreaming(userKey)
			}
		}
	}

	onError := func(err error, info agentruntime.DeliveryInfo) {
		log.Error("dispatch.agent.fail", "kind", string(info.Kind), "err", err)
	}

	if err := rt.Dispatch(ctx, dc, deliver, onError); err != nil {
		log.Error("dispatch.fail", "err", err)
	}

	// Safety flush: the agent streamed text but never signaled final.
	mu.Lock()
	defer mu.Unlock()
	if !finalDelivered && accumulated.Len() > 0 {
		log.Warn("dispatch.flush.safety")
		r.PushOutboundMessage(ctx, userKey, accumulated.String(), "")
		r.EndStreaming(userKey)
	}
}

func toRuntimeImages(images []chatv1.ImageAttachment) []agentruntime.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]agentruntime.Image, 0, len(images))
	for _, img := range images {
		out = append(out, agentruntime.Image{Data: img.Data, MimeType: img.MimeType})
	}
	return out
}
