// Package agentruntime declares the capability surface the relay consumes
// from the host agent process. The relay never constructs a runtime; the
// host injects one at startup via Set.
package agentruntime

import "context"

// DeliveryKind classifies a chunk handed to the deliver callback.
type DeliveryKind string

const (
	// KindBlock is an intermediate chunk of the reply being produced.
	KindBlock DeliveryKind = "block"
	// KindFinal is the terminal chunk; its text may be empty.
	KindFinal DeliveryKind = "final"
)

// DeliveryInfo accompanies every deliver/onError callback invocation.
type DeliveryInfo struct {
	Kind DeliveryKind
}

// ReplyPayload is one unit of agent output.
type ReplyPayload struct {
	Text     string
	MediaURL string
}

// RouteRequest asks the runtime which agent should handle an inbound message.
type RouteRequest struct {
	Channel   string
	AccountID string
	Peer      string
}

// Route identifies the resolved agent and its session key.
type Route struct {
	SessionKey string
	AgentID    string
}

// SessionMeta records inbound session bookkeeping. Failures to record are
// best-effort and swallowed by the caller.
type SessionMeta struct {
	SessionKey string
	Channel    string
	AccountID  string
	Peer       string
}

// Image is an inline attachment forwarded to the agent.
type Image struct {
	Data     string
	MimeType string
}

// DispatchContext is the fully-built inbound context handed to Dispatch.
type DispatchContext struct {
	SessionKey string
	AgentID    string
	AccountID  string
	Peer       string
	Envelope   string
	Images     []Image
}

// DeliverFunc receives agent output as it is produced.
type DeliverFunc func(payload ReplyPayload, info DeliveryInfo)

// ErrorFunc receives dispatch-time errors. The caller logs and continues.
type ErrorFunc func(err error, info DeliveryInfo)

// Runtime is the agent capability set consumed by the relay.
type Runtime interface {
	// StorePath resolves the root directory for relay persistence.
	StorePath() string

	// ResolveRoute picks the agent and session key for an inbound message.
	ResolveRoute(ctx context.Context, req RouteRequest) (Route, error)

	// FormatEnvelope renders the inbound message body the agent consumes.
	FormatEnvelope(req RouteRequest, text string) string

	// FinalizeContext lets the runtime amend the dispatch context before use.
	FinalizeContext(dc *DispatchContext)

	// RecordSession persists inbound session metadata.
	RecordSession(ctx context.Context, meta SessionMeta) error

	// Dispatch drives the agent. deliver is invoked zero or more times with
	// KindBlock and at most once with KindFinal; onError reports dispatch
	// failures. Dispatch returns when the reply is complete or abandoned.
	Dispatch(ctx context.Context, dc DispatchContext, deliver DeliverFunc, onError ErrorFunc) error
}
