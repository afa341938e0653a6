package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/history"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/push"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/relay"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gw *relay.Gateway,
	auth *relay.AuthGate,
	sink *push.Sink,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ws", gw.HandleWS)

	registerPushAPI(mux, log, auth, sink)
}

// ---- push subscription API ----

type pushSubscribeRequest struct {
	UserID       string            `json:"userId"`
	SessionID    string            `json:"sessionId"`
	Subscription push.Subscription `json:"subscription"`
}

type pushUnsubscribeRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Endpoint  string `json:"endpoint"`
}

func registerPushAPI(mux *http.ServeMux, log Logger, auth *relay.AuthGate, sink *push.Sink) {
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !auth.Permit(r) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("POST /api/push/subscribe", guard(func(w http.ResponseWriter, r *http.Request) {
		var req pushSubscribeRequest
		if !readJSON(w, r, &req) {
			return
		}
		userKey := pushUserKey(req.UserID, req.SessionID)

		if err := sink.Subscribe(userKey, req.Subscription); err != nil {
			log.Warn("push.subscribe.fail", "user_key", userKey, "err", err)
			writeJSONError(w, http.StatusBadRequest, "invalid subscription")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	mux.HandleFunc("POST /api/push/unsubscribe", guard(func(w http.ResponseWriter, r *http.Request) {
		var req pushUnsubscribeRequest
		if !readJSON(w, r, &req) {
			return
		}
		userKey := pushUserKey(req.UserID, req.SessionID)

		removed, err := sink.Unsubscribe(userKey, req.Endpoint)
		if err != nil {
			log.Warn("push.unsubscribe.fail", "user_key", userKey, "err", err)
			writeJSONError(w, http.StatusInternalServerError, "unsubscribe failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	}))

	mux.HandleFunc("GET /api/push/vapid-public-key", guard(func(w http.ResponseWriter, _ *http.Request) {
		key, err := sink.PublicKey()
		if err != nil {
			log.Error("push.vapid.fail", "err", err)
			writeJSONError(w, http.StatusInternalServerError, "vapid keys unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
	}))
}

func pushUserKey(userID, sessionID string) string {
	if strings.TrimSpace(userID) == "" {
		userID = "default"
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return history.DeriveUserKey(userID, sessionID)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Unknown fields are tolerated; browser PushSubscription JSON carries
	// extras like expirationTime.
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
