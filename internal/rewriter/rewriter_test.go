package rewriter

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"go.uber.org/zap"
)

type scriptedCompleter struct {
	reply string
	err   error
	calls int
}

func (s *scriptedCompleter) Route(_ context.Context, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: s.reply}, nil
}

func items(descriptions ...string) []profile.Item {
	out := make([]profile.Item, len(descriptions))
	for i, d := range descriptions {
		out[i] = profile.Item{ConceptID: 1, Concept: "fractions", Description: d, Position: i}
	}
	return out
}

var testResult = forgetting.Result{
	Retention:    0.4,
	DeltaMinutes: 1440,
	Score:        0.55,
	Level:        forgetting.LevelModerate,
	Estimator:    forgetting.KindHistoricalAccuracy,
}

func TestRewriteItemsPreservesLength(t *testing.T) {
	c := &scriptedCompleter{reply: "now shaky on fractions"}
	r := New(c, "test-model", zap.NewNop())

	persona := items("good at fractions", "knows common denominators")
	memory := items("solved 3 fraction problems")

	gotPersona, gotMemory := r.RewriteItems(context.Background(), persona, memory, "fractions", testResult)
	if len(gotPersona) != len(persona) {
		t.Fatalf("persona length %d, want %d", len(gotPersona), len(persona))
	}
	if len(gotMemory) != len(memory) {
		t.Fatalf("memory length %d, want %d", len(gotMemory), len(memory))
	}
	for i, s := range gotPersona {
		if s != "now shaky on fractions" {
			t.Errorf("persona[%d] = %q, want rewritten text", i, s)
		}
	}
	if c.calls != 3 {
		t.Errorf("completer called %d times, want one per item (3)", c.calls)
	}
}

func TestRewriteFallsBackOnError(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("provider down")}
	r := New(c, "test-model", zap.NewNop())

	persona := items("good at fractions")
	gotPersona, gotMemory := r.RewriteItems(context.Background(), persona, nil, "fractions", testResult)
	if len(gotPersona) != 1 || gotPersona[0] != "good at fractions" {
		t.Errorf("expected original description on failure, got %v", gotPersona)
	}
	if len(gotMemory) != 0 {
		t.Errorf("expected empty memory output, got %v", gotMemory)
	}
}

func TestRewriteFallsBackOnEmptyCompletion(t *testing.T) {
	c := &scriptedCompleter{reply: "   "}
	r := New(c, "test-model", zap.NewNop())

	gotPersona, _ := r.RewriteItems(context.Background(), items("original"), nil, "fractions", testResult)
	if gotPersona[0] != "original" {
		t.Errorf("expected original description on empty completion, got %q", gotPersona[0])
	}
}
