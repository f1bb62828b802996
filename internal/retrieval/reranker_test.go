package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/nidhogg/mentora/internal/profile"
	"go.uber.org/zap"
)

// axisEmbedder maps known texts to fixed unit vectors.
type axisEmbedder struct {
	vectors map[string][]float32
}

func (a *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := a.vectors[t]
		if !ok {
			v = []float32{0, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func (a *axisEmbedder) Dimension() int { return 3 }

func testProfile() *profile.Profile {
	return &profile.Profile{
		LearnerID: "s1",
		Persona: []profile.Item{
			{ConceptID: 1, Concept: "fractions", Description: "struggles with fractions",
				Kind: profile.KindPersona, Position: 0, Embedding: []float32{1, 0, 0}},
			{ConceptID: 2, Concept: "decimals", Description: "solid on decimals",
				Kind: profile.KindPersona, Position: 1, Embedding: []float32{0, 1, 0}},
			{ConceptID: 3, Concept: "geometry", Description: "new to geometry",
				Kind: profile.KindPersona, Position: 2, Embedding: []float32{0, 0, 1}},
		},
	}
}

func TestPureSimilarityRanking(t *testing.T) {
	emb := &axisEmbedder{vectors: map[string][]float32{"fractions": {1, 0, 0}}}
	r := NewReranker(emb, 1.0, 3, zap.NewNop())

	// Recency says geometry matters most, but lambda=1 ignores it.
	recency := ForgettingRecency(map[int]float64{1: 0.0, 2: 0.5, 3: 1.0})
	persona, _, err := r.Retrieve(context.Background(), testProfile(), "fractions", recency)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if persona[0].ConceptID != 1 {
		t.Errorf("lambda=1 should rank by similarity, got concept %d first", persona[0].ConceptID)
	}
}

func TestPureRecencyRanking(t *testing.T) {
	emb := &axisEmbedder{vectors: map[string][]float32{"fractions": {1, 0, 0}}}
	r := NewReranker(emb, 0.0, 3, zap.NewNop())

	recency := ForgettingRecency(map[int]float64{1: 0.1, 2: 0.5, 3: 0.9})
	persona, _, err := r.Retrieve(context.Background(), testProfile(), "fractions", recency)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if persona[0].ConceptID != 3 {
		t.Errorf("lambda=0 should rank by recency, got concept %d first", persona[0].ConceptID)
	}
	if persona[2].ConceptID != 1 {
		t.Errorf("least forgotten concept should rank last, got %d", persona[2].ConceptID)
	}
}

func TestRerankStableTies(t *testing.T) {
	emb := &axisEmbedder{vectors: map[string][]float32{"q": {0, 0, 0}}}
	r := NewReranker(emb, 0.5, 3, zap.NewNop())

	// Zero query vector and uniform recency: all scores tie, insertion
	// order must be preserved.
	recency := ForgettingRecency(map[int]float64{1: 0.5, 2: 0.5, 3: 0.5})
	persona, _, err := r.Retrieve(context.Background(), testProfile(), "q", recency)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for i, want := range []int{1, 2, 3} {
		if persona[i].ConceptID != want {
			t.Errorf("position %d: got concept %d, want %d", i, persona[i].ConceptID, want)
		}
	}
}

func TestTopKFewerItemsThanK(t *testing.T) {
	emb := &axisEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewReranker(emb, 0.7, 10, zap.NewNop())

	persona, memory, err := r.Retrieve(context.Background(), testProfile(), "q", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(persona) != 3 {
		t.Errorf("got %d persona items, want all 3", len(persona))
	}
	if memory != nil {
		t.Errorf("learner has no memory items, got %v", memory)
	}
}

func TestTopKLimits(t *testing.T) {
	emb := &axisEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewReranker(emb, 1.0, 2, zap.NewNop())

	persona, _, err := r.Retrieve(context.Background(), testProfile(), "q", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(persona) != 2 {
		t.Errorf("got %d persona items, want 2", len(persona))
	}
}

func TestCosine(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1, 0, 0}, 0}, // mismatched length
		{nil, nil, 0},
		{[]float32{0, 0}, []float32{1, 1}, 0}, // zero norm
	}
	for _, c := range cases {
		if got := Cosine(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Cosine(%v, %v) = %f, want %f", c.a, c.b, got, c.want)
		}
	}
}
