package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/mentora/internal/session"
	"go.uber.org/zap"
)

// ErrResultExists is returned when an evaluation result is already
// persisted for a key. Results are immutable once written.
var ErrResultExists = errors.New("evaluation result already exists")

// FileStore persists evaluation results as JSON under
// <root>/evaluations/<config>/<learner>_<concept>.json, keyed the same
// way as dialogues.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates a FileStore rooted at the output directory.
func NewFileStore(root string, logger *zap.Logger) *FileStore {
	return &FileStore{root: root, logger: logger}
}

func (s *FileStore) path(key session.Key) string {
	return filepath.Join(s.root, "evaluations", key.Dir(), key.Filename())
}

// Exists reports whether a result is already persisted for the key.
func (s *FileStore) Exists(key session.Key) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Load reads a persisted result.
func (s *FileStore) Load(key session.Key) (*Result, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("read evaluation %s: %w", key, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse evaluation %s: %w", key, err)
	}
	return &r, nil
}

// Save writes a result. Existing results are never overwritten without
// force.
func (s *FileStore) Save(key session.Key, r *Result, force bool) error {
	path := s.path(key)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrResultExists, key)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create evaluations dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evaluation %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write evaluation %s: %w", key, err)
	}
	s.logger.Info("evaluation saved", zap.String("key", key.String()),
		zap.Int("trials", len(r.Trials)))
	return nil
}
