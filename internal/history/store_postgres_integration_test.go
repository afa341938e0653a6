package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
)

// Integration tests are enabled when OPENCLAW_DATABASE_URL is set.
// This keeps local "go test ./..." fast and deterministic without Postgres.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("OPENCLAW_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: OPENCLAW_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse OPENCLAW_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	return pool
}

func randomHex(t *testing.T) string {
	t.Helper()
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b[:])
}

func mustTestStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()

	schema := "openclaw_it_" + randomHex(t)
	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return store
}

func TestPostgresStore_AppendReadTrim(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	store := mustTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for i := 0; i < MaxMessages+5; i++ {
		err := store.AppendMessage(ctx, "alice", chatv1.StoredMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			Text:      "x",
			Timestamp: int64(i),
			Role:      chatv1.RoleUser,
		})
		if err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
	}

	msgs, err := store.ReadHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(msgs) != MaxMessages {
		t.Fatalf("expected %d messages after trim, got %d", MaxMessages, len(msgs))
	}
	if msgs[0].ID != "msg-5" {
		t.Fatalf("oldest must be evicted, first=%q", msgs[0].ID)
	}
	if msgs[len(msgs)-1].ID != fmt.Sprintf("msg-%d", MaxMessages+4) {
		t.Fatalf("unexpected newest=%q", msgs[len(msgs)-1].ID)
	}
}

func TestPostgresStore_ListAndDeleteSessions(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	store := mustTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	appendAt := func(key string, ts int64) {
		t.Helper()
		if err := store.AppendMessage(ctx, key, chatv1.StoredMessage{ID: "m", Role: chatv1.RoleUser, Timestamp: ts}); err != nil {
			t.Fatalf("AppendMessage(%q): %v", key, err)
		}
	}

	appendAt("alice", 100)
	appendAt("alice:work", 200)
	appendAt("bob", 300)

	sessions, err := store.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", sessions)
	}
	if sessions[0].SessionID != "work" || sessions[1].SessionID != "default" {
		t.Fatalf("unexpected order %+v", sessions)
	}

	removed, err := store.DeleteSession(ctx, "alice", "work")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if !removed {
		t.Fatalf("expected removed=true")
	}

	removed, err = store.DeleteSession(ctx, "alice", "work")
	if err != nil {
		t.Fatalf("DeleteSession repeat: %v", err)
	}
	if removed {
		t.Fatalf("expected removed=false on repeat")
	}
}
