package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/mentora/internal/provider"
	"go.uber.org/zap"
)

const gradingSystem = "You grade test answers. For each question, award 1 if the answer is " +
	"correct and 0 otherwise. No partial credit. Reply with only a JSON array of integers, " +
	"one per question, in order."

// grade scores a batch of answers with a separate grading call. An
// unparseable grading response yields a zero score for the whole batch;
// the anomaly is logged for offline auditing rather than raised.
func (e *Evaluator) grade(ctx context.Context, conceptText string, questions []Question, answers []string) []int {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", conceptText)
	for i, q := range questions {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, q.Text)
		if q.Reference != "" {
			fmt.Fprintf(&b, "Reference answer: %s\n", q.Reference)
		}
		fmt.Fprintf(&b, "Learner answer: %s\n\n", answers[i])
	}

	text, err := provider.Complete(ctx, e.completer, e.cfg.GradingModel, []provider.Message{
		provider.System(gradingSystem),
		provider.User(b.String()),
	}, 0, 128)
	if err != nil {
		e.logger.Warn("grading call failed, scoring batch as zero",
			zap.String("concept", conceptText), zap.Error(err))
		return make([]int, len(questions))
	}

	scores, err := parseScores(text, len(questions))
	if err != nil {
		e.logger.Warn("unparseable grading response, scoring batch as zero",
			zap.String("concept", conceptText),
			zap.String("response", text),
			zap.Error(err))
		return make([]int, len(questions))
	}
	return scores
}

// parseScores extracts the integer score array from the grading reply.
// Graders sometimes wrap the array in prose or code fences, so parsing
// scans for the first bracketed array.
func parseScores(text string, want int) ([]int, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in grading response")
	}

	var scores []int
	if err := json.Unmarshal([]byte(text[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}
	if len(scores) != want {
		return nil, fmt.Errorf("got %d scores, want %d", len(scores), want)
	}
	for i, s := range scores {
		if s != 0 && s != 1 {
			return nil, fmt.Errorf("score %d at position %d is not binary", s, i)
		}
	}
	return scores, nil
}
