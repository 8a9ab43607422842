package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/coop/internal/types"
)

// SessionStore persists one Session snapshot per SessionKey.
type SessionStore interface {
	Get(ctx context.Context, key types.SessionKey) (*types.Session, bool, error)
	Save(ctx context.Context, session *types.Session) error
}

// FileSessionStore persists each Session as its own JSON file under dataDir,
// written atomically via a temp-file-then-rename so a crash mid-write never
// leaves a corrupt snapshot behind.
type FileSessionStore struct {
	mu      sync.Mutex
	dataDir string
}

// NewFileSessionStore returns a store rooted at dataDir. The directory is
// created lazily on first write.
func NewFileSessionStore(dataDir string) *FileSessionStore {
	return &FileSessionStore{dataDir: dataDir}
}

// safeKeyFilename maps a SessionKey to a filesystem-safe filename, since
// keys contain ':' which isn't always a good citizen in path components.
func safeKeyFilename(key types.SessionKey) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, string(key))
	return safe + ".json"
}

func (s *FileSessionStore) path(key types.SessionKey) string {
	return filepath.Join(s.dataDir, safeKeyFilename(key))
}

// Get loads a session snapshot. Returns ok=false if none has been saved yet.
func (s *FileSessionStore) Get(ctx context.Context, key types.SessionKey) (*types.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("turn: read session %s: %w", key, err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, false, fmt.Errorf("turn: decode session %s: %w", key, err)
	}
	return &session, true, nil
}

// Save writes a session snapshot, replacing any prior one for the same key.
func (s *FileSessionStore) Save(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return fmt.Errorf("turn: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("turn: encode session %s: %w", session.Key, err)
	}

	path := s.path(session.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("turn: write session %s: %w", session.Key, err)
	}
	return os.Rename(tmp, path)
}
