// Package api exposes the tutoring pipeline over REST: trigger batch
// runs, inspect dialogues, evaluations and forgetting scores.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nidhogg/mentora/internal/config"
	"github.com/nidhogg/mentora/internal/dataset"
	"github.com/nidhogg/mentora/internal/evaluator"
	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/runner"
	"github.com/nidhogg/mentora/internal/session"
	"github.com/nidhogg/mentora/internal/vectorstore"
	"go.uber.org/zap"
)

// ProfileIndexer is the vector index surface behind the profile search
// and indexing endpoints. retrieval.Indexer satisfies it.
type ProfileIndexer interface {
	IndexProfile(ctx context.Context, prof *profile.Profile) error
	Search(ctx context.Context, learnerID string, kind profile.ItemKind, query string, topK int) ([]*vectorstore.SearchResult, error)
}

// RunStatus tracks one triggered batch run.
type RunStatus struct {
	ID         string         `json:"id"`
	State      string         `json:"state"` // running | done
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Report     *runner.Report `json:"report,omitempty"`
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cfg       *config.Config
	loader    *dataset.Loader
	profiles  *profile.Store
	engine    *forgetting.Engine
	dialogues *session.FileStore
	evals     *evaluator.FileStore
	pipeline  *runner.Pipeline
	pool      *runner.Pool
	indexer   ProfileIndexer // nil when Qdrant is not configured
	logger    *zap.Logger

	runMu sync.Mutex
	runs  map[string]*RunStatus
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, loader *dataset.Loader, profiles *profile.Store, engine *forgetting.Engine, dialogues *session.FileStore, evals *evaluator.FileStore, pipeline *runner.Pipeline, pool *runner.Pool, indexer ProfileIndexer, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		loader:    loader,
		profiles:  profiles,
		engine:    engine,
		dialogues: dialogues,
		evals:     evals,
		pipeline:  pipeline,
		pool:      pool,
		indexer:   indexer,
		logger:    logger,
		runs:      make(map[string]*RunStatus),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/runs", h.startRun)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/learners", h.listLearners)
		r.Get("/learners/{id}/forgetting", h.getForgetting)
		r.Get("/learners/{id}/search", h.searchProfile)
		r.Post("/learners/{id}/index", h.indexLearner)
		r.Get("/dialogues", h.getDialogue)
		r.Get("/evaluations", h.getEvaluation)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRunRequest struct {
	LearnerIDs []string `json:"learner_ids,omitempty"`
}

// startRun triggers a batch run in the background and returns its id.
func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	learnerIDs := req.LearnerIDs
	if len(learnerIDs) == 0 {
		ids, err := h.loader.ListLearners()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		learnerIDs = ids
	}

	status := &RunStatus{
		ID:        uuid.New().String(),
		State:     "running",
		StartedAt: time.Now(),
	}
	h.runMu.Lock()
	h.runs[status.ID] = status
	h.runMu.Unlock()

	go func() {
		report := h.pool.Run(context.Background(), learnerIDs, h.pipeline.RunLearner)
		done := time.Now()
		h.runMu.Lock()
		status.State = "done"
		status.FinishedAt = &done
		status.Report = &report
		h.runMu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, status)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	h.runMu.Lock()
	status, ok := h.runs[chi.URLParam(r, "id")]
	h.runMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) listLearners(w http.ResponseWriter, r *http.Request) {
	ids, err := h.loader.ListLearners()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"learners": ids})
}

// getForgetting computes the forgetting assessment for every concept of
// a learner that has enough history.
func (h *Handler) getForgetting(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "id")
	histories, err := h.loader.Histories(learnerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	scores := make(map[string]forgetting.Result)
	for _, hist := range histories {
		res, err := h.engine.Score(r.Context(), hist)
		if err != nil {
			if errors.Is(err, forgetting.ErrInsufficientHistory) {
				continue
			}
			h.logger.Warn("forgetting score failed", zap.Error(err))
			continue
		}
		scores[strconv.Itoa(hist.ConceptID)] = res
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"learner_id": learnerID,
		"estimator":  h.engine.Kind(),
		"concepts":   scores,
	})
}

// searchProfile runs similarity search over a learner's indexed items.
func (h *Handler) searchProfile(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("vector index not configured"))
		return
	}
	learnerID := chi.URLParam(r, "id")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing query parameter q"))
		return
	}
	kind := profile.ItemKind(r.URL.Query().Get("kind"))
	if kind != profile.KindMemory {
		kind = profile.KindPersona
	}
	topK := 3
	if k, err := strconv.Atoi(r.URL.Query().Get("k")); err == nil && k > 0 {
		topK = k
	}

	hits, err := h.indexer.Search(r.Context(), learnerID, kind, query, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

// indexLearner loads a learner's profile and upserts its items into the
// vector index.
func (h *Handler) indexLearner(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("vector index not configured"))
		return
	}
	learnerID := chi.URLParam(r, "id")
	prof, err := h.profiles.Load(learnerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := h.indexer.IndexProfile(r.Context(), prof); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"learner_id": learnerID,
		"persona":    len(prof.Persona),
		"memory":     len(prof.Memory),
	})
}

func (h *Handler) keyFromQuery(r *http.Request) session.Key {
	q := r.URL.Query()
	key := session.Key{
		Variant:     q.Get("variant"),
		Model:       q.Get("model"),
		Dataset:     q.Get("dataset"),
		Estimator:   q.Get("estimator"),
		LearnerID:   q.Get("learner"),
		ConceptText: q.Get("concept"),
	}
	// Unspecified axes default to the active configuration.
	if key.Variant == "" {
		key.Variant = h.cfg.Tutoring.Variant
	}
	if key.Model == "" {
		key.Model = h.cfg.Tutoring.BackboneModel
	}
	if key.Dataset == "" {
		key.Dataset = h.cfg.Data.Dataset
	}
	if key.Estimator == "" {
		key.Estimator = h.cfg.Tutoring.Estimator
	}
	return key
}

func (h *Handler) getDialogue(w http.ResponseWriter, r *http.Request) {
	key := h.keyFromQuery(r)
	if !h.dialogues.Exists(key) {
		writeError(w, http.StatusNotFound, errors.New("dialogue not found"))
		return
	}
	d, err := h.dialogues.Load(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) getEvaluation(w http.ResponseWriter, r *http.Request) {
	key := h.keyFromQuery(r)
	if !h.evals.Exists(key) {
		writeError(w, http.StatusNotFound, errors.New("evaluation not found"))
		return
	}
	res, err := h.evals.Load(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	policy := h.cfg.Evaluation.SelectionPolicy
	gain, err := evaluator.SelectGain(res.Trials, policy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":           res,
		"selection_policy": policy,
		"selected_gain":    gain,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
