// Package retrieval ranks a learner's profile items against a query by
// blending semantic similarity with a forgetting-weighted recency signal.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nidhogg/mentora/internal/embedding"
	"github.com/nidhogg/mentora/internal/profile"
	"go.uber.org/zap"
)

// RecencyFunc maps a profile item to a weight in [0,1] favoring more
// forgetting-relevant or more recently generated items. A nil RecencyFunc
// falls back to positional recency within the item's kind.
type RecencyFunc func(item profile.Item) float64

// ForgettingRecency builds a RecencyFunc from per-concept forgetting
// scores: the more forgotten a concept, the more its items matter now.
func ForgettingRecency(scores map[int]float64) RecencyFunc {
	return func(item profile.Item) float64 {
		return scores[item.ConceptID]
	}
}

// Reranker retrieves the top-K persona and memory items for a query.
// Lambda blends the two signals: 1 is pure semantic retrieval, 0 is pure
// recency ordering.
type Reranker struct {
	embedder embedding.Provider
	lambda   float64
	topK     int
	logger   *zap.Logger
}

// NewReranker creates a Reranker. Lambda is clamped to [0,1].
func NewReranker(embedder embedding.Provider, lambda float64, topK int, logger *zap.Logger) *Reranker {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if topK <= 0 {
		topK = 3
	}
	return &Reranker{embedder: embedder, lambda: lambda, topK: topK, logger: logger}
}

// Retrieve embeds the query once and reranks both item kinds
// independently. Learners with fewer than K items of a kind get all
// available items, in order.
func (r *Reranker) Retrieve(ctx context.Context, prof *profile.Profile, query string, recency RecencyFunc) (persona, memory []profile.Item, err error) {
	qvec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	persona = r.rerank(prof.Persona, qvec, recency)
	memory = r.rerank(prof.Memory, qvec, recency)
	return persona, memory, nil
}

// rerank scores every item and returns the top-K by blended score,
// descending. The sort is stable so ties keep insertion order and
// identical inputs always produce identical rankings.
func (r *Reranker) rerank(items []profile.Item, qvec []float32, recency RecencyFunc) []profile.Item {
	if len(items) == 0 {
		return nil
	}

	n := len(items)
	scored := make([]scoredItem, n)
	for i, item := range items {
		var rec float64
		if recency != nil {
			rec = recency(item)
		} else {
			rec = float64(item.Position+1) / float64(n)
		}
		scored[i] = scoredItem{
			item:  item,
			score: r.lambda*Cosine(qvec, item.Embedding) + (1-r.lambda)*rec,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	k := r.topK
	if k > n {
		k = n
	}
	out := make([]profile.Item, k)
	for i := 0; i < k; i++ {
		out[i] = scored[i].item
	}
	return out
}

type scoredItem struct {
	item  profile.Item
	score float64
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched
// or zero-length input.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
