package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/mentora/internal/config"
	"github.com/nidhogg/mentora/internal/dataset"
	"github.com/nidhogg/mentora/internal/evaluator"
	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/retrieval"
	"github.com/nidhogg/mentora/internal/rewriter"
	"github.com/nidhogg/mentora/internal/session"
	"github.com/nidhogg/mentora/internal/store"
	"go.uber.org/zap"
)

// Pipeline wires the per-learner tutoring run: score forgetting for each
// concept, generate the dialogue, evaluate it, persist both.
type Pipeline struct {
	cfg       *config.Config
	variant   session.Variant
	loader    *dataset.Loader
	profiles  *profile.Store
	engine    *forgetting.Engine
	dialogues *session.FileStore
	evals     *evaluator.FileStore
	questions *QuestionBank
	db        *store.Store // optional Postgres mirror, may be nil
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline from loaded configuration and shared
// stores. The forgetting engine's cache is safe for concurrent workers.
func NewPipeline(cfg *config.Config, variant session.Variant, loader *dataset.Loader, profiles *profile.Store, engine *forgetting.Engine, dialogues *session.FileStore, evals *evaluator.FileStore, questions *QuestionBank, db *store.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		variant:   variant,
		loader:    loader,
		profiles:  profiles,
		engine:    engine,
		dialogues: dialogues,
		evals:     evals,
		questions: questions,
		db:        db,
		logger:    logger,
	}
}

// RunLearner executes the full pipeline for one learner using the
// worker's client bundle. Concept-level failures are soft: they are
// logged and the remaining concepts proceed. The learner fails only when
// nothing could be processed.
func (p *Pipeline) RunLearner(ctx context.Context, clients *Clients, learnerID string) error {
	histories, err := p.loader.Histories(learnerID)
	if err != nil {
		return fmt.Errorf("load histories: %w", err)
	}
	prof, err := p.profiles.Load(learnerID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	// Score every concept first so the reranker's recency weights cover
	// the learner's whole profile.
	results := make(map[int]forgetting.Result)
	recency := make(map[int]float64)
	for _, h := range histories {
		res, err := p.engine.Score(ctx, h)
		if err != nil {
			if errors.Is(err, forgetting.ErrInsufficientHistory) {
				continue
			}
			p.logger.Warn("forgetting score failed",
				zap.String("learner", learnerID),
				zap.Int("concept", h.ConceptID),
				zap.Error(err))
			continue
		}
		results[h.ConceptID] = res
		recency[h.ConceptID] = res.Score
	}
	if len(results) == 0 {
		return fmt.Errorf("no concept of learner %s has enough history", learnerID)
	}

	reranker := retrieval.NewReranker(clients.Embedder, *p.cfg.Tutoring.Lambda, p.cfg.Tutoring.TopK, p.logger)
	rw := rewriter.New(clients.Completer, p.cfg.Tutoring.BackboneModel, p.logger)
	sess := session.New(reranker, rw, clients.Completer, p.dialogues, session.Config{
		Model:     p.cfg.Tutoring.BackboneModel,
		Dataset:   p.cfg.Data.Dataset,
		NumRounds: p.cfg.Tutoring.NumRounds,
		Variant:   p.variant,
		Force:     p.cfg.Tutoring.Force,
	}, p.logger)
	eval := evaluator.New(clients.Completer, evaluator.Config{
		Model:        p.cfg.Tutoring.BackboneModel,
		GradingModel: p.cfg.Evaluation.GradingModel,
		Dataset:      p.cfg.Data.Dataset,
		Trials:       p.cfg.Evaluation.Trials,
	}, p.logger)

	var processed, failed int
	for _, h := range histories {
		fres, ok := results[h.ConceptID]
		if !ok {
			continue
		}
		if err := p.runConcept(ctx, prof, h, fres, recency, sess, eval); err != nil {
			failed++
			p.logger.Warn("concept pipeline failed",
				zap.String("learner", learnerID),
				zap.Int("concept", h.ConceptID),
				zap.Error(err))
			continue
		}
		processed++
	}

	if processed == 0 && failed > 0 {
		return fmt.Errorf("all %d concepts failed for learner %s", failed, learnerID)
	}
	p.logger.Info("learner pipeline done",
		zap.String("learner", learnerID),
		zap.Int("concepts", processed),
		zap.Int("failed", failed))
	return nil
}

func (p *Pipeline) runConcept(ctx context.Context, prof *profile.Profile, h *dataset.ConceptHistory, fres forgetting.Result, recency map[int]float64, sess *session.Session, eval *evaluator.Evaluator) error {
	conceptText := p.conceptText(prof, h.ConceptID)

	dialogue, err := sess.Run(ctx, prof, conceptText, fres, recency)
	if err != nil {
		return fmt.Errorf("tutoring session: %w", err)
	}

	key := session.Key{
		Variant:     p.variant.Name,
		Model:       p.cfg.Tutoring.BackboneModel,
		Dataset:     p.cfg.Data.Dataset,
		Estimator:   string(fres.Estimator),
		LearnerID:   prof.LearnerID,
		ConceptText: conceptText,
	}

	if p.db != nil {
		if err := p.db.SaveDialogue(ctx, key, dialogue); err != nil {
			p.logger.Warn("postgres dialogue mirror failed", zap.Error(err))
		}
	}

	questions, err := p.questions.Load(h.ConceptID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		p.logger.Debug("no test questions for concept, skipping evaluation",
			zap.Int("concept", h.ConceptID))
		return nil
	}

	if p.evals.Exists(key) && !p.cfg.Tutoring.Force {
		return nil
	}

	preAcc, err := p.preTestAccuracy(ctx, prof, conceptText, questions, eval)
	if err != nil {
		return fmt.Errorf("pre-test: %w", err)
	}

	result, err := eval.Evaluate(ctx, prof, conceptText, dialogue, questions, preAcc)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if gain, gErr := evaluator.SelectGain(result.Trials, p.cfg.Evaluation.SelectionPolicy); gErr == nil {
		p.logger.Info("concept evaluated",
			zap.String("learner", prof.LearnerID),
			zap.String("concept", conceptText),
			zap.String("policy", p.cfg.Evaluation.SelectionPolicy),
			zap.Float64("gain", gain))
	}
	if err := p.evals.Save(key, result, p.cfg.Tutoring.Force); err != nil {
		if errors.Is(err, evaluator.ErrResultExists) {
			return nil
		}
		return err
	}
	if p.db != nil {
		if err := p.db.SaveEvaluation(ctx, key, result); err != nil {
			p.logger.Warn("postgres evaluation mirror failed", zap.Error(err))
		}
	}
	return nil
}

// conceptText resolves the natural-language concept name from the
// learner's profile items.
func (p *Pipeline) conceptText(prof *profile.Profile, conceptID int) string {
	for _, item := range prof.Persona {
		if item.ConceptID == conceptID && item.Concept != "" {
			return item.Concept
		}
	}
	for _, item := range prof.Memory {
		if item.ConceptID == conceptID && item.Concept != "" {
			return item.Concept
		}
	}
	return fmt.Sprintf("concept %d", conceptID)
}

// preTestAccuracy administers the pre-test once per (learner, concept)
// and caches it on disk, independent of method variant and estimator.
func (p *Pipeline) preTestAccuracy(ctx context.Context, prof *profile.Profile, conceptText string, questions []evaluator.Question, eval *evaluator.Evaluator) (float64, error) {
	dir := filepath.Join(p.cfg.Data.OutputDir, "pretests", p.cfg.Data.Dataset)
	path := filepath.Join(dir, session.Key{LearnerID: prof.LearnerID, ConceptText: conceptText}.Filename())

	if data, err := os.ReadFile(path); err == nil {
		var cached struct {
			Accuracy float64 `json:"pre_test_accuracy"`
		}
		if json.Unmarshal(data, &cached) == nil {
			return cached.Accuracy, nil
		}
	}

	acc, err := eval.PreTest(ctx, prof, conceptText, questions)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err == nil {
		data, _ := json.Marshal(map[string]float64{"pre_test_accuracy": acc})
		if werr := os.WriteFile(path, data, 0o644); werr != nil {
			p.logger.Warn("pre-test cache write failed", zap.String("path", path), zap.Error(werr))
		}
	}
	return acc, nil
}
