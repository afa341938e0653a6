// Package push delivers fire-and-forget Web Push notifications to
// subscribed browsers when no live websocket client is connected.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	subscriptionsFile = "subscriptions.json"
	vapidFile         = "vapid.json"

	defaultTTLSeconds = 60
)

// SubscriptionKeys is the browser-provided encryption material.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one push endpoint registered by a browser.
// Endpoint is unique within a user; re-subscribing replaces the old entry.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

type vapidKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Sink persists push subscriptions per user key and fans notifications out
// to the vendor push service. Server-identity (VAPID) keys are generated
// lazily and persisted alongside the subscriptions.
//
// All store files are serialized by a sink-wide mutex.
type Sink struct {
	log        *slog.Logger
	dir        string
	subscriber string
	httpClient webpush.HTTPClient

	mu   sync.Mutex
	keys *vapidKeys
}

// Option configures a Sink.
type Option func(*Sink)

// WithHTTPClient overrides the HTTP client used for push delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

// WithSubscriber sets the VAPID subscriber contact (mailto: or https: URL).
func WithSubscriber(sub string) Option {
	return func(s *Sink) { s.subscriber = sub }
}

// NewSink constructs a Sink rooted at dir. The directory is created lazily.
func NewSink(log *slog.Logger, dir string, opts ...Option) (*Sink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("push: empty dir")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{
		log:        log,
		dir:        dir,
		subscriber: "https://github.com/junyoung-robin-kim/openclaw-pwa-chat",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ---- subscription store ----

func (s *Sink) loadSubsLocked() map[string][]Subscription {
	out := make(map[string][]Subscription)
	data, err := os.ReadFile(filepath.Join(s.dir, subscriptionsFile))
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return make(map[string][]Subscription)
	}
	return out
}

func (s *Sink) saveSubsLocked(subs map[string][]Subscription) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("push: mkdir: %w", err)
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("push: encode: %w", err)
	}
	dst := filepath.Join(s.dir, subscriptionsFile)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("push: write: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("push: rename: %w", err)
	}
	return nil
}

// Subscribe adds sub for userKey, replacing any earlier subscription with
// the same endpoint.
func (s *Sink) Subscribe(userKey string, sub Subscription) error {
	if strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("push: empty endpoint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.loadSubsLocked()
	list := subs[userKey]
	kept := list[:0]
	for _, existing := range list {
		if existing.Endpoint != sub.Endpoint {
			kept = append(kept, existing)
		}
	}
	subs[userKey] = append(kept, sub)
	return s.saveSubsLocked(subs)
}

// Unsubscribe removes the subscription with the given endpoint and reports
// whether it existed.
func (s *Sink) Unsubscribe(userKey, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.loadSubsLocked()
	list := subs[userKey]
	kept := make([]Subscription, 0, len(list))
	for _, existing := range list {
		if existing.Endpoint != endpoint {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}
	if len(kept) == 0 {
		delete(subs, userKey)
	} else {
		subs[userKey] = kept
	}
	return true, s.saveSubsLocked(subs)
}

// Subscriptions returns the current subscriptions for userKey.
func (s *Sink) Subscriptions(userKey string) []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSubsLocked()[userKey]
}

// ---- server identity ----

// PublicKey returns the VAPID public key, generating and persisting the key
// pair on first use.
func (s *Sink) PublicKey() (string, error) {
	keys, err := s.identity()
	if err != nil {
		return "", err
	}
	return keys.PublicKey, nil
}

func (s *Sink) identity() (vapidKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys != nil {
		return *s.keys, nil
	}

	path := filepath.Join(s.dir, vapidFile)
	if data, err := os.ReadFile(path); err == nil {
		var keys vapidKeys
		if err := json.Unmarshal(data, &keys); err == nil && keys.PublicKey != "" && keys.PrivateKey != "" {
			s.keys = &keys
			return keys, nil
		}
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return vapidKeys{}, fmt.Errorf("push: generate vapid keys: %w", err)
	}
	keys := vapidKeys{PublicKey: pub, PrivateKey: priv}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return vapidKeys{}, fmt.Errorf("push: mkdir: %w", err)
	}
	data, _ := json.Marshal(keys)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return vapidKeys{}, fmt.Errorf("push: persist vapid keys: %w", err)
	}

	s.keys = &keys
	return keys, nil
}

// ---- delivery ----

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// SendPush fans a notification out to every subscription of userKey.
// Endpoints the push service reports as gone (404/410) are pruned after the
// batch settles; other delivery errors are logged and the subscription kept.
func (s *Sink) SendPush(ctx context.Context, userKey, title, body, tag string) error {
	subs := s.Subscriptions(userKey)
	if len(subs) == 0 {
		return nil
	}

	keys, err := s.identity()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(notification{Title: title, Body: body, Tag: tag})
	if err != nil {
		return fmt.Errorf("push: encode payload: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		gone []string
	)

	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()

			resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
				Endpoint: sub.Endpoint,
				Keys: webpush.Keys{
					P256dh: sub.Keys.P256dh,
					Auth:   sub.Keys.Auth,
				},
			}, &webpush.Options{
				HTTPClient:      s.httpClient,
				Subscriber:      s.subscriber,
				TTL:             defaultTTLSeconds,
				VAPIDPublicKey:  keys.PublicKey,
				VAPIDPrivateKey: keys.PrivateKey,
			})
			if err != nil {
				s.log.Warn("push.send.fail", "user_key", userKey, "err", err)
				return
			}
			defer func() { _ = resp.Body.Close() }()

			switch resp.StatusCode {
			case http.StatusNotFound, http.StatusGone:
				mu.Lock()
				gone = append(gone, sub.Endpoint)
				mu.Unlock()
				s.log.Debug("push.send.gone", "user_key", userKey, "status", resp.StatusCode)
			default:
				if resp.StatusCode >= 300 {
					s.log.Warn("push.send.status", "user_key", userKey, "status", resp.StatusCode)
					return
				}
				s.log.Debug("push.send.ok", "user_key", userKey, "status", resp.StatusCode)
			}
		}(sub)
	}
	wg.Wait()

	for _, endpoint := range gone {
		if _, err := s.Unsubscribe(userKey, endpoint); err != nil {
			s.log.Warn("push.prune.fail", "user_key", userKey, "err", err)
		}
	}
	return nil
}
