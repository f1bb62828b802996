package retrieval

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/nidhogg/mentora/internal/embedding"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/vectorstore"
	"go.uber.org/zap"
)

// Indexer mirrors loaded profiles into Qdrant so other services can run
// similarity search over them without loading the JSON files. The
// tutoring pipeline itself scores in memory; the index serves the REST
// search surface.
type Indexer struct {
	store    *vectorstore.Client
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store *vectorstore.Client, embedder embedding.Provider, logger *zap.Logger) *Indexer {
	return &Indexer{store: store, embedder: embedder, logger: logger}
}

// Init ensures the backing collections exist.
func (ix *Indexer) Init(ctx context.Context) error {
	dim := uint64(ix.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	return ix.store.EnsureCollections(ctx, dim)
}

// IndexProfile upserts all of a learner's items. Point ids are derived
// from (learner, kind, position) so re-indexing is idempotent.
func (ix *Indexer) IndexProfile(ctx context.Context, prof *profile.Profile) error {
	for _, item := range prof.Persona {
		if err := ix.upsert(ctx, vectorstore.CollPersona, prof.LearnerID, item); err != nil {
			return err
		}
	}
	for _, item := range prof.Memory {
		if err := ix.upsert(ctx, vectorstore.CollMemory, prof.LearnerID, item); err != nil {
			return err
		}
	}
	ix.logger.Info("profile indexed",
		zap.String("learner", prof.LearnerID),
		zap.Int("persona", len(prof.Persona)),
		zap.Int("memory", len(prof.Memory)))
	return nil
}

func (ix *Indexer) upsert(ctx context.Context, collection, learnerID string, item profile.Item) error {
	id := uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(fmt.Sprintf("%s/%s/%d", learnerID, collection, item.Position))).String()
	payload := map[string]string{
		"learner_id":  learnerID,
		"concept_id":  strconv.Itoa(item.ConceptID),
		"concept":     item.Concept,
		"description": item.Description,
		"position":    strconv.Itoa(item.Position),
	}
	if err := ix.store.Upsert(ctx, collection, id, item.Embedding, payload); err != nil {
		return fmt.Errorf("index %s item %d for %s: %w", collection, item.Position, learnerID, err)
	}
	return nil
}

// Search embeds the query and returns the top-K hits for one learner and
// item kind.
func (ix *Indexer) Search(ctx context.Context, learnerID string, kind profile.ItemKind, query string, topK int) ([]*vectorstore.SearchResult, error) {
	qvec, err := embedding.EmbedOne(ctx, ix.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	collection := vectorstore.CollPersona
	if kind == profile.KindMemory {
		collection = vectorstore.CollMemory
	}
	return ix.store.SearchLearner(ctx, collection, learnerID, qvec, uint64(topK))
}
