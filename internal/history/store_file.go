package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chatv1 "github.com/junyoung-robin-kim/openclaw-pwa-chat/contracts/chat/v1"
)

// FileStore keeps one JSON array of StoredMessage per sanitized user key.
//
// Concurrency model:
//   - Single-process assumption; no inter-process locking.
//   - A store-wide mutex serializes read-modify-write cycles so that
//     ListSessions/DeleteSession from the HTTP surface cannot interleave
//     with appends from the relay.
//
// Durability model:
//   - Appends write to a temp file and rename into place, so a crash
//     mid-write cannot truncate an existing log.
//   - Reads never fail: missing or corrupt files yield an empty history.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore constructs a FileStore rooted at dir. The directory is
// created lazily on first append.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("history: empty dir")
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op; FileStore holds no open resources between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(userKey string) string {
	return filepath.Join(s.dir, SanitizeKey(userKey)+".json")
}

// ReadHistory returns the persisted log for userKey, oldest first.
// Missing files and malformed contents both yield an empty slice.
func (s *FileStore) ReadHistory(ctx context.Context, userKey string) ([]chatv1.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(userKey), nil
}

func (s *FileStore) readLocked(userKey string) []chatv1.StoredMessage {
	data, err := os.ReadFile(s.path(userKey))
	if err != nil {
		return nil
	}

	var msgs []chatv1.StoredMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Corrupt file: treat as empty rather than failing the connection.
		return nil
	}
	return msgs
}

// AppendMessage appends msg to the user's log, evicting the oldest entries
// once the log exceeds MaxMessages.
func (s *FileStore) AppendMessage(ctx context.Context, userKey string, msg chatv1.StoredMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("history: mkdir: %w", err)
	}

	msgs := append(s.readLocked(userKey), msg)
	if len(msgs) > MaxMessages {
		msgs = msgs[len(msgs)-MaxMessages:]
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	dst := s.path(userKey)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}
	return nil
}

// ListSessions enumerates stored conversations for baseUserID, newest first.
// A file named exactly after the sanitized base id is the "default" session;
// files named "<base>_<rest>" expose <rest> as the (sanitized) session id.
func (s *FileStore) ListSessions(ctx context.Context, baseUserID string) ([]SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: list: %w", err)
	}

	base := SanitizeKey(baseUserID)
	var out []SessionInfo

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem, ok := strings.CutSuffix(name, ".json")
		if !ok {
			continue
		}

		var sessionID string
		switch {
		case stem == base:
			sessionID = "default"
		case strings.HasPrefix(stem, base+"_"):
			sessionID = strings.TrimPrefix(stem, base+"_")
		default:
			continue
		}
		if sessionID == "" {
			continue
		}

		var msgs []chatv1.StoredMessage
		if data, err := os.ReadFile(filepath.Join(s.dir, name)); err == nil {
			_ = json.Unmarshal(data, &msgs)
		}

		info := SessionInfo{SessionID: sessionID, MessageCount: len(msgs)}
		if n := len(msgs); n > 0 {
			info.LastTimestamp = msgs[n-1].Timestamp
		}
		out = append(out, info)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastTimestamp > out[j].LastTimestamp
	})
	return out, nil
}

// DeleteSession removes the stored log for (baseUserID, sessionID) and
// reports whether it existed.
func (s *FileStore) DeleteSession(ctx context.Context, baseUserID, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(DeriveUserKey(baseUserID, sessionID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("history: delete: %w", err)
	}
	return true, nil
}
