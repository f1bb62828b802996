package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/mentora/internal/config"
	"github.com/nidhogg/mentora/internal/dataset"
	"github.com/nidhogg/mentora/internal/embedding"
	"github.com/nidhogg/mentora/internal/evaluator"
	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"github.com/nidhogg/mentora/internal/session"
	"go.uber.org/zap"
)

// pipelineCompleter serves every role in the pipeline: grading calls get
// a score array, everything else gets fixed text.
type pipelineCompleter struct{}

func (pipelineCompleter) Route(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if strings.Contains(req.Messages[0].Content, "You grade test answers") {
		return &provider.ChatResponse{Content: "[1]"}, nil
	}
	return &provider.ChatResponse{Content: "a fixed reply"}, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 2 }

var _ embedding.Provider = unitEmbedder{}

func writeFixtures(t *testing.T, root string) {
	t.Helper()
	dirs := []string{"records", "profiles/s1", "questions", "output"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	files := map[string]string{
		"records/s1.json": `{
			"student_id": "s1",
			"questions":  [1, 2, 3],
			"concepts":   [7, 7, 7],
			"responses":  [1, 0, 1],
			"timestamps": [0, 600000, 1800000]
		}`,
		"profiles/s1/persona.json": `[
			{"concept_id": 7, "concept": "adding fractions", "description": "weak on adding fractions"}
		]`,
		"profiles/s1/persona_vectors.json": `[[1, 0]]`,
		"profiles/s1/memory.json": `[
			{"concept_id": 7, "concept": "adding fractions", "description": "missed a fractions quiz"}
		]`,
		"profiles/s1/memory_vectors.json": `[[0, 1]]`,
		"questions/concept_7.json": `[
			{"id": 1, "text": "What is 1/2 + 1/4?", "reference": "3/4"}
		]`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testPipeline(t *testing.T, root string) *Pipeline {
	t.Helper()
	cfg := &config.Config{}
	cfg.Data.Dataset = "assist2017"
	cfg.Data.RecordsDir = filepath.Join(root, "records")
	cfg.Data.ProfilesDir = filepath.Join(root, "profiles")
	cfg.Data.QuestionsDir = filepath.Join(root, "questions")
	cfg.Data.OutputDir = filepath.Join(root, "output")
	cfg.Tutoring.BackboneModel = "test-model"
	cfg.Tutoring.NumRounds = 2
	cfg.Tutoring.TopK = 3
	lambda := 0.7
	cfg.Tutoring.Lambda = &lambda
	cfg.Evaluation.Trials = 1

	logger := zap.NewNop()
	variant, _ := session.ParseVariant("full")
	loader := dataset.NewLoader(cfg.Data.RecordsDir, logger)
	profiles := profile.NewStore(cfg.Data.ProfilesDir, logger)
	engine := forgetting.NewEngine(forgetting.HistoricalAccuracyEstimator{}, forgetting.DefaultParams(), nil, logger)
	dialogues := session.NewFileStore(cfg.Data.OutputDir, logger)
	evals := evaluator.NewFileStore(cfg.Data.OutputDir, logger)
	questions := NewQuestionBank(cfg.Data.QuestionsDir)

	return NewPipeline(cfg, variant, loader, profiles, engine, dialogues, evals, questions, nil, logger)
}

func TestRunLearnerEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	p := testPipeline(t, root)
	clients := &Clients{Completer: pipelineCompleter{}, Embedder: unitEmbedder{}}

	if err := p.RunLearner(context.Background(), clients, "s1"); err != nil {
		t.Fatalf("run learner: %v", err)
	}

	key := session.Key{
		Variant: "full", Model: "test-model", Dataset: "assist2017",
		Estimator: "historical_accuracy", LearnerID: "s1", ConceptText: "adding fractions",
	}

	dialogues := session.NewFileStore(filepath.Join(root, "output"), zap.NewNop())
	if !dialogues.Exists(key) {
		t.Fatal("dialogue not persisted")
	}
	d, err := dialogues.Load(key)
	if err != nil {
		t.Fatalf("load dialogue: %v", err)
	}
	if got := len(d.TutorTurns()); got != 2 {
		t.Errorf("got %d tutor turns, want 2", got)
	}

	evals := evaluator.NewFileStore(filepath.Join(root, "output"), zap.NewNop())
	if !evals.Exists(key) {
		t.Fatal("evaluation not persisted")
	}
	res, err := evals.Load(key)
	if err != nil {
		t.Fatalf("load evaluation: %v", err)
	}
	if len(res.Trials) != 1 {
		t.Errorf("got %d trials, want 1", len(res.Trials))
	}

	// Pre-test cached independently of the configuration axes.
	pretest := filepath.Join(root, "output", "pretests", "assist2017", "s1_adding_fractions.json")
	if _, err := os.Stat(pretest); err != nil {
		t.Errorf("pre-test not cached at %s: %v", pretest, err)
	}
}

func TestRunLearnerRerunIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	p := testPipeline(t, root)
	clients := &Clients{Completer: pipelineCompleter{}, Embedder: unitEmbedder{}}

	if err := p.RunLearner(context.Background(), clients, "s1"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	key := session.Key{
		Variant: "full", Model: "test-model", Dataset: "assist2017",
		Estimator: "historical_accuracy", LearnerID: "s1", ConceptText: "adding fractions",
	}
	path := filepath.Join(root, "output", "dialogues", key.Dir(), key.Filename())
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.RunLearner(context.Background(), clients, "s1"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("rerun modified the persisted dialogue")
	}
}

// echoBackCompleter reflects the user message so generated turns carry
// the concept name forward, and answers grading calls with a score array.
type echoBackCompleter struct{}

func (echoBackCompleter) Route(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if strings.Contains(req.Messages[0].Content, "You grade test answers") {
		return &provider.ChatResponse{Content: "[1]"}, nil
	}
	return &provider.ChatResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
}

// decimalsDownEmbedder permanently fails for any text mentioning the
// decimals concept and succeeds for everything else.
type decimalsDownEmbedder struct{}

func (decimalsDownEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, "decimals") {
			return nil, errors.New("embedding service unreachable")
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (decimalsDownEmbedder) Dimension() int { return 2 }

func writeLearnerFixture(t *testing.T, root, learner string, conceptID int, conceptText string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "profiles", learner), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join("records", learner+".json"): fmt.Sprintf(`{
			"student_id": %q,
			"questions":  [1, 2, 3],
			"concepts":   [%d, %d, %d],
			"responses":  [1, 0, 1],
			"timestamps": [0, 600000, 1800000]
		}`, learner, conceptID, conceptID, conceptID),
		filepath.Join("profiles", learner, "persona.json"): fmt.Sprintf(
			`[{"concept_id": %d, "concept": %q, "description": "weak on %s"}]`,
			conceptID, conceptText, conceptText),
		filepath.Join("profiles", learner, "persona_vectors.json"): `[[1, 0]]`,
		filepath.Join("profiles", learner, "memory.json"): fmt.Sprintf(
			`[{"concept_id": %d, "concept": %q, "description": "missed a %s quiz"}]`,
			conceptID, conceptText, conceptText),
		filepath.Join("profiles", learner, "memory_vectors.json"): `[[0, 1]]`,
		filepath.Join("questions", fmt.Sprintf("concept_%d.json", conceptID)): fmt.Sprintf(
			`[{"id": 1, "text": "A question about %s.", "reference": "an answer"}]`, conceptText),
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBatchReportsEmbeddingFailureAsLearnerFailure(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"records", "profiles", "questions", "output"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeLearnerFixture(t, root, "s1", 7, "adding fractions")
	writeLearnerFixture(t, root, "s2", 8, "decimals")
	writeLearnerFixture(t, root, "s3", 7, "adding fractions")

	p := testPipeline(t, root)
	factory := func() (*Clients, error) {
		return &Clients{Completer: echoBackCompleter{}, Embedder: decimalsDownEmbedder{}}, nil
	}
	pool := NewPool(2, factory, zap.NewNop())

	report := pool.Run(context.Background(), []string{"s1", "s2", "s3"}, p.RunLearner)

	if report.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	if _, ok := report.Errors["s2"]; !ok {
		t.Errorf("failing learner not recorded: %v", report.Errors)
	}
}

func TestRunLearnerMissingRecords(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	p := testPipeline(t, root)
	clients := &Clients{Completer: pipelineCompleter{}, Embedder: unitEmbedder{}}

	if err := p.RunLearner(context.Background(), clients, "ghost"); err == nil {
		t.Fatal("expected error for unknown learner")
	}
}

func TestRunLearnerInsufficientHistory(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	// Overwrite the record with a single attempt per concept.
	single := `{
		"student_id": "s1",
		"questions":  [1],
		"concepts":   [7],
		"responses":  [1],
		"timestamps": [0]
	}`
	if err := os.WriteFile(filepath.Join(root, "records", "s1.json"), []byte(single), 0o644); err != nil {
		t.Fatal(err)
	}

	p := testPipeline(t, root)
	clients := &Clients{Completer: pipelineCompleter{}, Embedder: unitEmbedder{}}
	if err := p.RunLearner(context.Background(), clients, "s1"); err == nil {
		t.Fatal("expected error when no concept has enough history")
	}
}
