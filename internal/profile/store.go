// Package profile provides read-only access to per-learner persona and
// memory items produced by the offline profile generation job. Items and
// their embeddings are parallel arrays on disk, indexed positionally, and
// immutable within a session.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ItemKind distinguishes long-term mastery summaries from event-level
// log entries.
type ItemKind string

const (
	KindPersona ItemKind = "persona"
	KindMemory  ItemKind = "memory"
)

// Item is one persona or memory snippet with its precomputed embedding.
// Position records insertion order and backs deterministic tie-breaking
// and the recency fallback during reranking.
type Item struct {
	ConceptID   int                `json:"concept_id"`
	Concept     string             `json:"concept"`
	Description string             `json:"description"`
	Keywords    []string           `json:"keywords,omitempty"`
	Stats       map[string]float64 `json:"stats,omitempty"`

	Kind      ItemKind  `json:"-"`
	Position  int       `json:"-"`
	Embedding []float32 `json:"-"`
}

// Profile holds one learner's loaded persona and memory items.
type Profile struct {
	LearnerID string
	Persona   []Item
	Memory    []Item
}

// Store loads learner profiles from a directory tree of the form
// <dir>/<learner>/{persona,memory}.json plus parallel
// {persona,memory}_vectors.json files.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a Store rooted at the profiles directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Load reads both item kinds for a learner.
func (s *Store) Load(learnerID string) (*Profile, error) {
	persona, err := s.loadKind(learnerID, KindPersona)
	if err != nil {
		return nil, err
	}
	memory, err := s.loadKind(learnerID, KindMemory)
	if err != nil {
		return nil, err
	}
	return &Profile{LearnerID: learnerID, Persona: persona, Memory: memory}, nil
}

func (s *Store) loadKind(learnerID string, kind ItemKind) ([]Item, error) {
	base := filepath.Join(s.dir, learnerID)

	itemsPath := filepath.Join(base, string(kind)+".json")
	data, err := os.ReadFile(itemsPath)
	if err != nil {
		if os.IsNotExist(err) {
			// A learner without items of one kind is valid; retrieval
			// simply returns fewer results.
			return nil, nil
		}
		return nil, fmt.Errorf("read %s items: %w", kind, err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s items %s: %w", kind, itemsPath, err)
	}

	vectorsPath := filepath.Join(base, string(kind)+"_vectors.json")
	vdata, err := os.ReadFile(vectorsPath)
	if err != nil {
		return nil, fmt.Errorf("read %s vectors: %w", kind, err)
	}
	var vectors [][]float32
	if err := json.Unmarshal(vdata, &vectors); err != nil {
		return nil, fmt.Errorf("parse %s vectors %s: %w", kind, vectorsPath, err)
	}

	if len(vectors) != len(items) {
		return nil, fmt.Errorf("%s store for learner %s: %d items but %d vectors",
			kind, learnerID, len(items), len(vectors))
	}

	for i := range items {
		items[i].Kind = kind
		items[i].Position = i
		items[i].Embedding = vectors[i]
	}
	return items, nil
}
