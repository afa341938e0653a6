package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
)

// PostgresStore is a Store backed by PostgreSQL, for deployments that prefer
// a database over per-user JSON files.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Concurrency model:
//   - Uses per-user transactional advisory locks so the append + cap-trim
//     cycle is atomic under concurrent writers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "openclaw").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("history: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("history: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "openclaw",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("history: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the backing schema and table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	table := pgIdent(s.schema, "pwa_chat_messages")

	if _, err := s.pool.Exec(ctx,
		`CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize(),
	); err != nil {
		return fmt.Errorf("history: create schema: %w", err)
	}

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			ord         BIGSERIAL PRIMARY KEY,
			user_key    TEXT   NOT NULL,
			id          TEXT   NOT NULL,
			role        TEXT   NOT NULL,
			body        TEXT   NOT NULL,
			ts          BIGINT NOT NULL,
			media_url   TEXT   NOT NULL DEFAULT '',
			has_images  BOOLEAN NOT NULL DEFAULT FALSE,
			image_count INT    NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS pwa_chat_messages_user_key_ord
			ON `+table+` (user_key, ord);
	`)
	if err != nil {
		return fmt.Errorf("history: create table: %w", err)
	}
	return nil
}

// ReadHistory returns the persisted log for userKey, oldest first.
func (s *PostgresStore) ReadHistory(ctx context.Context, userKey string) ([]chatv1.StoredMessage, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("history: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := pgIdent(s.schema, "pwa_chat_messages")
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, body, ts, media_url, has_images, image_count
		   FROM `+table+`
		  WHERE user_key = $1
		  ORDER BY ord ASC`,
		userKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chatv1.StoredMessage
	for rows.Next() {
		var m chatv1.StoredMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Timestamp, &m.MediaURL, &m.HasImages, &m.ImageCount); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage inserts msg and trims the user's log down to MaxMessages.
func (s *PostgresStore) AppendMessage(ctx context.Context, userKey string, msg chatv1.StoredMessage) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := pgIdent(s.schema, "pwa_chat_messages")

	// Serialize append + trim per user so concurrent writers cannot
	// interleave between the insert and the cap enforcement.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userKey); err != nil {
		return fmt.Errorf("history: advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+table+` (user_key, id, role, body, ts, media_url, has_images, image_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userKey, msg.ID, msg.Role, msg.Text, msg.Timestamp, msg.MediaURL, msg.HasImages, msg.ImageCount,
	); err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+table+`
		  WHERE user_key = $1
		    AND ord NOT IN (
			SELECT ord FROM `+table+`
			 WHERE user_key = $1
			 ORDER BY ord DESC
			 LIMIT $2
		    )`,
		userKey, MaxMessages,
	); err != nil {
		return fmt.Errorf("history: trim: %w", err)
	}

	return tx.Commit(ctx)
}

// ListSessions enumerates stored conversations for baseUserID, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, baseUserID string) ([]SessionInfo, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("history: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := pgIdent(s.schema, "pwa_chat_messages")
	rows, err := s.pool.Query(ctx,
		`SELECT user_key, COUNT(*), MAX(ts)
		   FROM `+table+`
		  WHERE user_key = $1 OR user_key LIKE $2
		  GROUP BY user_key
		  ORDER BY MAX(ts) DESC`,
		baseUserID, baseUserID+":%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			key   string
			count int
			last  int64
		)
		if err := rows.Scan(&key, &count, &last); err != nil {
			return nil, err
		}

		sessionID := "default"
		if rest, ok := strings.CutPrefix(key, baseUserID+":"); ok {
			sessionID = rest
		}
		out = append(out, SessionInfo{SessionID: sessionID, MessageCount: count, LastTimestamp: last})
	}
	return out, rows.Err()
}

// DeleteSession removes the stored log for (baseUserID, sessionID) and
// reports whether any rows existed.
func (s *PostgresStore) DeleteSession(ctx context.Context, baseUserID, sessionID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("history: nil store")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	table := pgIdent(s.schema, "pwa_chat_messages")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE user_key = $1`,
		DeriveUserKey(baseUserID, sessionID),
	)
	if err != nil {
		return false, fmt.Errorf("history: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
