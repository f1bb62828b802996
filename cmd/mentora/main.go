package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/mentora/internal/api"
	"github.com/nidhogg/mentora/internal/config"
	"github.com/nidhogg/mentora/internal/dataset"
	"github.com/nidhogg/mentora/internal/embedding"
	"github.com/nidhogg/mentora/internal/evaluator"
	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/kt"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"github.com/nidhogg/mentora/internal/retrieval"
	"github.com/nidhogg/mentora/internal/runner"
	"github.com/nidhogg/mentora/internal/session"
	pgstore "github.com/nidhogg/mentora/internal/store"
	"github.com/nidhogg/mentora/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Mentora...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mentora.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	variant, err := session.ParseVariant(cfg.Tutoring.Variant)
	if err != nil {
		logger.Fatal("invalid variant", zap.Error(err))
	}

	// Forgetting result cache: Redis when configured, in-process otherwise.
	var cache forgetting.Cache
	var redisCache *forgetting.RedisCache
	if cfg.Database.Redis.URL != "" {
		rc, rErr := forgetting.NewRedisCache(cfg.Database.Redis.URL, cfg.Data.Dataset, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, using in-memory forgetting cache", zap.Error(rErr))
			cache = forgetting.NewMemoryCache()
		} else {
			redisCache = rc
			cache = rc
		}
	} else {
		cache = forgetting.NewMemoryCache()
	}

	kind, err := forgetting.ParseKind(cfg.Tutoring.Estimator)
	if err != nil {
		logger.Fatal("invalid estimator", zap.Error(err))
	}
	var estimator forgetting.Estimator
	switch kind {
	case forgetting.KindSimpleTime:
		estimator = forgetting.SimpleTimeEstimator{}
	case forgetting.KindHistoricalAccuracy:
		estimator = forgetting.HistoricalAccuracyEstimator{}
	case forgetting.KindModelBased:
		if cfg.KT.Endpoint == "" {
			logger.Fatal("model_based estimator requires a kt endpoint")
		}
		estimator = forgetting.NewModelBasedEstimator(kt.NewClient(cfg.KT.Endpoint, cfg.KT.Model), logger)
	}
	engine := forgetting.NewEngine(estimator, forgetting.Params{
		TauMinutes:   cfg.Tutoring.TauMinutes,
		HalflifeDays: forgetting.DefaultParams().HalflifeDays,
	}, cache, logger)

	loader := dataset.NewLoader(cfg.Data.RecordsDir, logger)
	profiles := profile.NewStore(cfg.Data.ProfilesDir, logger)
	dialogues := session.NewFileStore(cfg.Data.OutputDir, logger)
	evals := evaluator.NewFileStore(cfg.Data.OutputDir, logger)
	questions := runner.NewQuestionBank(cfg.Data.QuestionsDir)

	// Optional Postgres mirror.
	var db *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(context.Background(), cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without mirror", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			db = ps
		}
	}

	// Each worker builds its own client bundle on first use.
	factory := func() (*runner.Clients, error) {
		router := provider.NewRouter(logger)
		for _, pc := range cfg.Providers {
			provCfg := provider.ProviderConfig{
				ID: pc.ID, Type: pc.Type, Name: pc.Name,
				Endpoint: pc.Endpoint, APIKey: pc.APIKey,
				Models: pc.Models, Extra: pc.Extra,
			}
			switch pc.Type {
			case "openai":
				router.Register(provider.NewOpenAIProvider(provCfg, logger))
			case "anthropic":
				router.Register(provider.NewAnthropicProvider(provCfg, logger))
			default:
				logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			}
		}
		if len(router.ListProviders()) == 0 {
			return nil, fmt.Errorf("no usable provider configured")
		}

		embCfg := embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		}
		var embedder embedding.Provider
		if embCfg.Provider == "local" {
			embedder = embedding.NewLocalProvider(embCfg)
		} else {
			embedder = embedding.NewAPIProvider(embCfg)
		}

		return &runner.Clients{
			Completer: provider.NewRetrier(router, 3, logger),
			Embedder:  embedder,
		}, nil
	}

	pipeline := runner.NewPipeline(cfg, variant, loader, profiles, engine, dialogues, evals, questions, db, logger)
	pool := runner.NewPool(cfg.Tutoring.Workers, factory, logger)

	// Optional Qdrant index for the profile search endpoint.
	var indexer *retrieval.Indexer
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, profile search disabled", zap.Error(qErr))
		} else {
			clients, fErr := factory()
			if fErr != nil {
				logger.Warn("no embedder for Qdrant index, profile search disabled", zap.Error(fErr))
			} else {
				indexer = retrieval.NewIndexer(qc, clients.Embedder, logger)
				if iErr := indexer.Init(context.Background()); iErr != nil {
					logger.Warn("Qdrant init failed, profile search disabled", zap.Error(iErr))
					indexer = nil
				}
			}
		}
	}
	if indexer != nil {
		// Backfill the index so the search endpoint has points before the
		// first explicit reindex request.
		go func() {
			ids, err := loader.ListLearners()
			if err != nil {
				logger.Warn("index backfill: list learners failed", zap.Error(err))
				return
			}
			for _, id := range ids {
				prof, err := profiles.Load(id)
				if err != nil {
					logger.Warn("index backfill: profile load failed",
						zap.String("learner", id), zap.Error(err))
					continue
				}
				if err := indexer.IndexProfile(context.Background(), prof); err != nil {
					logger.Warn("index backfill: indexing failed",
						zap.String("learner", id), zap.Error(err))
				}
			}
			logger.Info("profile index backfill done", zap.Int("learners", len(ids)))
		}()
	}

	var profileIndex api.ProfileIndexer
	if indexer != nil {
		profileIndex = indexer
	}
	handler := api.NewHandler(cfg, loader, profiles, engine, dialogues, evals, pipeline, pool, profileIndex, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Mentora listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Mentora...")
	srv.Shutdown(context.Background())
	if redisCache != nil {
		redisCache.Close()
	}
	if db != nil {
		db.Close()
	}
}
