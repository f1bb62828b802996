package forgetting

import (
	"context"
	"fmt"

	"github.com/nidhogg/mentora/internal/dataset"
	"github.com/nidhogg/mentora/internal/kt"
	"go.uber.org/zap"
)

// Kind names a retention estimation strategy. The active kind is chosen
// by configuration at batch start, never branched on ad hoc at call sites.
type Kind string

const (
	KindSimpleTime         Kind = "simple_time"
	KindHistoricalAccuracy Kind = "historical_accuracy"
	KindModelBased         Kind = "model_based"
)

// ParseKind validates an estimator name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSimpleTime, KindHistoricalAccuracy, KindModelBased:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown estimator kind %q", s)
}

// Estimate is the output of one retention estimation: the probability the
// learner would answer correctly right now, before time decay is applied.
// Fallback is set when the model-based path failed and historical
// accuracy was used instead.
type Estimate struct {
	Retention float64
	Fallback  bool
}

// Estimator produces a retention estimate from a concept history.
// Implementations only look at the past attempts (history minus the
// final, current one).
type Estimator interface {
	Kind() Kind
	Estimate(ctx context.Context, history *dataset.ConceptHistory) (Estimate, error)
}

// SimpleTimeEstimator carries no correctness signal; the engine derives
// the forgetting score from elapsed time alone. Retention is reported as
// zero and unused.
type SimpleTimeEstimator struct{}

func (SimpleTimeEstimator) Kind() Kind { return KindSimpleTime }

func (SimpleTimeEstimator) Estimate(_ context.Context, _ *dataset.ConceptHistory) (Estimate, error) {
	return Estimate{}, nil
}

// HistoricalAccuracyEstimator uses the mean correctness of the past
// attempts as the retention estimate.
type HistoricalAccuracyEstimator struct{}

func (HistoricalAccuracyEstimator) Kind() Kind { return KindHistoricalAccuracy }

func (HistoricalAccuracyEstimator) Estimate(_ context.Context, history *dataset.ConceptHistory) (Estimate, error) {
	return Estimate{Retention: historicalAccuracy(history)}, nil
}

func historicalAccuracy(history *dataset.ConceptHistory) float64 {
	past := history.Past()
	if len(past) == 0 {
		return 0
	}
	var correct int
	for _, a := range past {
		correct += a.Response
	}
	return float64(correct) / float64(len(past))
}

// ModelBasedEstimator asks an external knowledge-tracing model to predict
// the probability of the next attempt being correct. On any failure
// (unreachable service, out-of-vocabulary ids, out-of-range output) it
// falls back to historical accuracy and flags the estimate.
type ModelBasedEstimator struct {
	predictor kt.Predictor
	logger    *zap.Logger
}

// NewModelBasedEstimator creates a ModelBasedEstimator.
func NewModelBasedEstimator(predictor kt.Predictor, logger *zap.Logger) *ModelBasedEstimator {
	return &ModelBasedEstimator{predictor: predictor, logger: logger}
}

func (e *ModelBasedEstimator) Kind() Kind { return KindModelBased }

func (e *ModelBasedEstimator) Estimate(ctx context.Context, history *dataset.ConceptHistory) (Estimate, error) {
	past := history.Past()
	questionIDs := make([]int, len(past))
	conceptIDs := make([]int, len(past))
	responses := make([]int, len(past))
	for i, a := range past {
		questionIDs[i] = a.QuestionID
		conceptIDs[i] = a.ConceptID
		responses[i] = a.Response
	}

	prob, err := e.predictor.PredictNextCorrect(ctx, questionIDs, conceptIDs, responses)
	if err != nil {
		e.logger.Warn("kt prediction failed, falling back to historical accuracy",
			zap.String("learner", history.LearnerID),
			zap.Int("concept", history.ConceptID),
			zap.Error(err))
		return Estimate{Retention: historicalAccuracy(history), Fallback: true}, nil
	}
	return Estimate{Retention: prob}, nil
}
