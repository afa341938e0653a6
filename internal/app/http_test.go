package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/push"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/relay"
)

func newPushMux(t *testing.T, token string) *http.ServeMux {
	t.Helper()

	sink, err := push.NewSink(slog.New(slog.DiscardHandler), t.TempDir())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	mux := http.NewServeMux()
	registerPushAPI(mux, slog.New(slog.DiscardHandler), relay.NewAuthGate(token), sink)
	return mux
}

func TestPushAPI_SubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	mux := newPushMux(t, "")

	body := `{
		"userId": "alice",
		"sessionId": "default",
		"subscription": {
			"endpoint": "https://push.example/e1",
			"expirationTime": null,
			"keys": {"p256dh": "pk", "auth": "as"}
		}
	}`
	req := httptest.NewRequest("POST", "/api/push/subscribe", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe status=%d body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("POST", "/api/push/unsubscribe",
		strings.NewReader(`{"userId":"alice","endpoint":"https://push.example/e1"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe status=%d", rec.Code)
	}

	var resp struct {
		Removed bool `json:"removed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Removed {
		t.Fatalf("expected removed=true")
	}

	// Second unsubscribe reports removed=false.
	req = httptest.NewRequest("POST", "/api/push/unsubscribe",
		strings.NewReader(`{"userId":"alice","endpoint":"https://push.example/e1"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Removed {
		t.Fatalf("expected removed=false on repeat")
	}
}

func TestPushAPI_SubscribeRejectsBadJSON(t *testing.T) {
	t.Parallel()

	mux := newPushMux(t, "")

	req := httptest.NewRequest("POST", "/api/push/subscribe", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", rec.Code)
	}
}

func TestPushAPI_VAPIDPublicKey(t *testing.T) {
	t.Parallel()

	mux := newPushMux(t, "")

	req := httptest.NewRequest("GET", "/api/push/vapid-public-key", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PublicKey == "" {
		t.Fatalf("empty public key")
	}
}

func TestPushAPI_RequiresAuth(t *testing.T) {
	t.Parallel()

	mux := newPushMux(t, "secret")

	req := httptest.NewRequest("GET", "/api/push/vapid-public-key", nil)
	req.RemoteAddr = "203.0.113.5:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/push/vapid-public-key", nil)
	req.RemoteAddr = "203.0.113.5:40000"
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200 with token", rec.Code)
	}
}
