// Package evaluator measures tutoring effectiveness with a pre/post
// knowledge test run through LLM role-play and a normalized learning
// gain metric.
package evaluator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"github.com/nidhogg/mentora/internal/session"
	"go.uber.org/zap"
)

// Question is one item of the fixed knowledge test set.
type Question struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

// Trial is one post-test administration. Trials are expensive and
// non-deterministic, so everything needed by the selection policies is
// stored with the trial.
type Trial struct {
	TrialID  string  `json:"trial_id"`
	Scores   []int   `json:"scores"`
	Accuracy float64 `json:"post_test_accuracy"`
	Gain     float64 `json:"learning_gain"`
}

// Result is the complete evaluation for one (learner, concept) dialogue.
// Immutable once written.
type Result struct {
	LearnerID   string             `json:"student_id"`
	Dataset     string             `json:"dataset"`
	ConceptText string             `json:"concept_text"`
	PreAccuracy float64            `json:"pre_test_accuracy"`
	Trials      []Trial            `json:"trials"`
	PolicyGains map[string]float64 `json:"policy_gains"`
}

// LearningGain is the single normalized effectiveness metric: improvement
// over the pre-test scaled by the available headroom. A perfect pre-test
// leaves no possible gain, so the metric is defined as exactly zero there.
func LearningGain(pre, post float64) float64 {
	if pre >= 1.0 {
		return 0.0
	}
	return (post - pre) / (1 - pre)
}

// SelectGain computes one selection policy over stored trials without
// re-running any of them.
func SelectGain(trials []Trial, policy string) (float64, error) {
	if len(trials) == 0 {
		return 0, fmt.Errorf("no trials")
	}
	switch policy {
	case "best":
		best := trials[0].Gain
		for _, t := range trials[1:] {
			if t.Gain > best {
				best = t.Gain
			}
		}
		return best, nil
	case "average":
		var sum float64
		for _, t := range trials {
			sum += t.Gain
		}
		return sum / float64(len(trials)), nil
	case "worst":
		worst := trials[0].Gain
		for _, t := range trials[1:] {
			if t.Gain < worst {
				worst = t.Gain
			}
		}
		return worst, nil
	}
	return 0, fmt.Errorf("unknown selection policy %q", policy)
}

// Config carries evaluator settings.
type Config struct {
	Model        string // role-play backbone
	GradingModel string // separate grading call
	Dataset      string
	Trials       int
}

// Evaluator administers and grades knowledge tests.
type Evaluator struct {
	completer provider.Completer
	cfg       Config
	logger    *zap.Logger
}

// New creates an Evaluator.
func New(completer provider.Completer, cfg Config, logger *zap.Logger) *Evaluator {
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	if cfg.GradingModel == "" {
		cfg.GradingModel = cfg.Model
	}
	return &Evaluator{completer: completer, cfg: cfg, logger: logger}
}

// PreTest administers the question set once, before tutoring, with only
// the learner's profile as context. It is independent of method variant.
func (e *Evaluator) PreTest(ctx context.Context, prof *profile.Profile, conceptText string, questions []Question) (float64, error) {
	answers := e.administer(ctx, prof, conceptText, questions, "")
	scores := e.grade(ctx, conceptText, questions, answers)
	return accuracy(scores), nil
}

// Evaluate runs the configured number of post-test trials against a
// finished dialogue and computes the gain for every selection policy.
func (e *Evaluator) Evaluate(ctx context.Context, prof *profile.Profile, conceptText string, d *session.Dialogue, questions []Question, preAccuracy float64) (*Result, error) {
	summary := Summarize(d, 3, 600)

	result := &Result{
		LearnerID:   prof.LearnerID,
		Dataset:     e.cfg.Dataset,
		ConceptText: conceptText,
		PreAccuracy: preAccuracy,
	}

	for i := 0; i < e.cfg.Trials; i++ {
		answers := e.administer(ctx, prof, conceptText, questions, summary)
		scores := e.grade(ctx, conceptText, questions, answers)
		acc := accuracy(scores)
		result.Trials = append(result.Trials, Trial{
			TrialID:  uuid.New().String(),
			Scores:   scores,
			Accuracy: acc,
			Gain:     LearningGain(preAccuracy, acc),
		})
	}

	result.PolicyGains = make(map[string]float64, 3)
	for _, policy := range []string{"best", "average", "worst"} {
		gain, err := SelectGain(result.Trials, policy)
		if err != nil {
			return nil, err
		}
		result.PolicyGains[policy] = gain
	}
	return result, nil
}

// administer role-plays the learner answering each question. A non-empty
// summary is injected as freshly learned material for the post-test.
func (e *Evaluator) administer(ctx context.Context, prof *profile.Profile, conceptText string, questions []Question, summary string) []string {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are role-playing a learner taking a test on %s.\n", conceptText)
	if len(prof.Persona) > 0 {
		sys.WriteString("Your mastery background:\n")
		for i, p := range prof.Persona {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&sys, "- %s\n", p.Description)
		}
	}
	if summary != "" {
		sys.WriteString("\nYou just finished a tutoring session and learned the following:\n")
		sys.WriteString(summary)
		sys.WriteString("\n")
	}
	sys.WriteString("Answer each question as this learner would, briefly and directly.")

	answers := make([]string, len(questions))
	for i, q := range questions {
		answer, err := provider.Complete(ctx, e.completer, e.cfg.Model, []provider.Message{
			provider.System(sys.String()),
			provider.User(q.Text),
		}, 0.7, 256)
		if err != nil || answer == "" {
			e.logger.Warn("test answer generation failed",
				zap.String("learner", prof.LearnerID),
				zap.Int("question", q.ID),
				zap.Error(err))
			answer = ""
		}
		answers[i] = answer
	}
	return answers
}

func accuracy(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var total int
	for _, s := range scores {
		total += s
	}
	return float64(total) / float64(len(scores))
}

// Summarize condenses the first maxTurns tutor turns of a dialogue,
// truncating each to maxChars, for the post-test context injection.
func Summarize(d *session.Dialogue, maxTurns, maxChars int) string {
	var b strings.Builder
	for i, t := range d.TutorTurns() {
		if i >= maxTurns {
			break
		}
		content := t.Content
		if len(content) > maxChars {
			// Back up to a rune boundary so the cut never splits a
			// multi-byte character.
			cut := maxChars
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
