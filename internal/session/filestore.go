package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrDialogueExists is returned by Save when a dialogue is already
// persisted under the same key and no override was requested. Callers
// treat it as a no-op success so batch re-runs are safe.
var ErrDialogueExists = errors.New("dialogue already exists")

// FileStore persists completed dialogues as JSON files under
// <root>/dialogues/<config>/<learner>_<concept>.json. Each writer owns a
// disjoint key, so concurrent writers need no locking; duplicate-key
// writes are rejected instead.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates a FileStore rooted at the output directory.
func NewFileStore(root string, logger *zap.Logger) *FileStore {
	return &FileStore{root: root, logger: logger}
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.root, "dialogues", key.Dir(), key.Filename())
}

// Exists reports whether a completed dialogue is already persisted for
// the key.
func (s *FileStore) Exists(key Key) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Load reads a persisted dialogue.
func (s *FileStore) Load(key Key) (*Dialogue, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("read dialogue %s: %w", key, err)
	}
	var d Dialogue
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dialogue %s: %w", key, err)
	}
	return &d, nil
}

// Save writes a completed dialogue. Without force an existing dialogue
// is never overwritten; ErrDialogueExists is returned instead.
func (s *FileStore) Save(key Key, d *Dialogue, force bool) error {
	path := s.path(key)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrDialogueExists, key)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dialogue dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dialogue %s: %w", key, err)
	}
	// Write then rename so a crashed writer never leaves a partial
	// dialogue behind to satisfy a later Exists check.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dialogue %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit dialogue %s: %w", key, err)
	}
	s.logger.Info("dialogue saved", zap.String("key", key.String()), zap.Int("turns", len(d.Turns)))
	return nil
}
