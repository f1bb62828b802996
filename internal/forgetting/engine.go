package forgetting

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/mentora/internal/dataset"
	"go.uber.org/zap"
)

// ErrInsufficientHistory signals fewer than two attempts for a concept.
// Callers skip the (learner, concept) pair.
var ErrInsufficientHistory = errors.New("insufficient history")

// Level buckets a forgetting score into a discrete band. Bucketing is
// monotonic in the score.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
)

// Describe returns the natural-language definition of a level, used when
// rewriting mastery descriptions.
func (l Level) Describe() string {
	switch l {
	case LevelLow:
		return "the learner still remembers this concept well"
	case LevelModerate:
		return "the learner has partially forgotten this concept and needs a refresher"
	case LevelHigh:
		return "the learner has largely forgotten this concept and needs to relearn it"
	}
	return string(l)
}

// Result is the forgetting assessment of one (learner, concept) pair.
// It is derived on demand and cached, never persisted as ground truth.
type Result struct {
	Retention    float64 `json:"retention"`
	DeltaMinutes float64 `json:"delta_t_minutes"`
	Score        float64 `json:"forgetting_score"`
	Level        Level   `json:"level"`
	Estimator    Kind    `json:"estimator"`
	Fallback     bool    `json:"fallback,omitempty"`
}

// ElapsedDays converts the inter-attempt gap to days for prompting.
func (r Result) ElapsedDays() float64 {
	return r.DeltaMinutes / (60 * 24)
}

// Params are the per-dataset policy choices of the engine. TauMinutes is
// the elapsed time at which the time factor reaches 0.5, calibrated once
// per dataset and estimator as the mean of the empirical last-two-attempt
// intervals. HalflifeDays drives the simple_time curve.
type Params struct {
	TauMinutes   float64
	HalflifeDays float64
}

// DefaultParams returns the calibration used when the config is silent.
func DefaultParams() Params {
	return Params{TauMinutes: 60, HalflifeDays: 7}
}

// Engine computes forgetting scores for concept histories using one
// configured estimator. Results are cached per (learner, concept,
// estimator).
type Engine struct {
	estimator Estimator
	params    Params
	cache     Cache
	logger    *zap.Logger
}

// NewEngine creates an Engine. A nil cache disables caching.
func NewEngine(estimator Estimator, params Params, cache Cache, logger *zap.Logger) *Engine {
	if params.TauMinutes <= 0 {
		params.TauMinutes = DefaultParams().TauMinutes
	}
	if params.HalflifeDays <= 0 {
		params.HalflifeDays = DefaultParams().HalflifeDays
	}
	return &Engine{estimator: estimator, params: params, cache: cache, logger: logger}
}

// Kind returns the active estimator kind.
func (e *Engine) Kind() Kind { return e.estimator.Kind() }

// Score computes the forgetting assessment for one concept history.
// Requires at least two attempts; the final attempt is the current one
// and is excluded from retention estimation.
func (e *Engine) Score(ctx context.Context, history *dataset.ConceptHistory) (Result, error) {
	if len(history.Attempts) < 2 {
		return Result{}, fmt.Errorf("%w: learner %s concept %d has %d attempts",
			ErrInsufficientHistory, history.LearnerID, history.ConceptID, len(history.Attempts))
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, cacheKey(history, e.estimator.Kind())); ok {
			return cached, nil
		}
	}

	n := len(history.Attempts)
	deltaMs := history.Attempts[n-1].Timestamp - history.Attempts[n-2].Timestamp
	if deltaMs < 0 {
		deltaMs = 0
	}
	deltaMinutes := float64(deltaMs) / 60000.0

	result := Result{
		DeltaMinutes: deltaMinutes,
		Estimator:    e.estimator.Kind(),
	}

	if e.estimator.Kind() == KindSimpleTime {
		// No correctness signal: a saturating curve of elapsed days only.
		days := deltaMinutes / (60 * 24)
		result.Score = 1 - 1/(1+days/e.params.HalflifeDays)
	} else {
		est, err := e.estimator.Estimate(ctx, history)
		if err != nil {
			return Result{}, fmt.Errorf("estimate retention: %w", err)
		}
		result.Retention = est.Retention
		result.Fallback = est.Fallback

		// Zero elapsed time means nothing is forgotten, regardless of
		// mastery; perfect mastery means nothing to forget, regardless
		// of elapsed time.
		if deltaMinutes <= 0 {
			result.Score = 0
		} else {
			timeFactor := deltaMinutes / (deltaMinutes + e.params.TauMinutes)
			result.Score = (1 - est.Retention) * timeFactor
		}
	}

	result.Level = bucketLevel(result.Score)

	if e.cache != nil {
		e.cache.Put(ctx, cacheKey(history, e.estimator.Kind()), result)
	}

	e.logger.Debug("forgetting score computed",
		zap.String("learner", history.LearnerID),
		zap.Int("concept", history.ConceptID),
		zap.Float64("score", result.Score),
		zap.String("level", string(result.Level)))

	return result, nil
}

// bucketLevel applies fixed cut points at 1/3 and 2/3. The source
// material mixes tertile and fixed calibrations across estimators; one
// policy is applied here uniformly.
func bucketLevel(score float64) Level {
	switch {
	case score < 1.0/3.0:
		return LevelLow
	case score < 2.0/3.0:
		return LevelModerate
	default:
		return LevelHigh
	}
}

func cacheKey(history *dataset.ConceptHistory, kind Kind) string {
	return fmt.Sprintf("%s:%d:%s", history.LearnerID, history.ConceptID, kind)
}
