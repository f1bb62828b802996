// Package rewriter adjusts retrieved profile snippets to reflect the
// learner's present knowledge state after forgetting.
package rewriter

import (
	"context"
	"fmt"

	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"go.uber.org/zap"
)

const systemPrompt = "You adjust learner mastery descriptions for the passage of time. " +
	"Rewrite the given description to reflect the learner's current state after forgetting. " +
	"Output only the rewritten sentence."

// Rewriter asks the LLM to rewrite each retrieved item, one completion
// per item. Rewriting never fails the pipeline: on completion failure or
// empty content the original description is kept.
type Rewriter struct {
	completer provider.Completer
	model     string
	logger    *zap.Logger
}

// New creates a Rewriter using the given backbone model.
func New(completer provider.Completer, model string, logger *zap.Logger) *Rewriter {
	return &Rewriter{completer: completer, model: model, logger: logger}
}

// RewriteItems rewrites persona and memory items for one concept. Both
// output slices are positionally aligned with their inputs and always
// have the same length.
func (r *Rewriter) RewriteItems(ctx context.Context, persona, memory []profile.Item, conceptText string, result forgetting.Result) (rewrittenPersona, rewrittenMemory []string) {
	rewrittenPersona = r.rewriteAll(ctx, persona, conceptText, result)
	rewrittenMemory = r.rewriteAll(ctx, memory, conceptText, result)
	return rewrittenPersona, rewrittenMemory
}

func (r *Rewriter) rewriteAll(ctx context.Context, items []profile.Item, conceptText string, result forgetting.Result) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = r.rewriteOne(ctx, item, conceptText, result)
	}
	return out
}

func (r *Rewriter) rewriteOne(ctx context.Context, item profile.Item, conceptText string, result forgetting.Result) string {
	prompt := fmt.Sprintf(
		"Original description: %s\n"+
			"Concept: %s\n"+
			"Estimated mastery: %.2f\n"+
			"Days since last attempt: %.1f\n"+
			"Forgetting score: %.2f\n"+
			"Forgetting level: %s (%s)\n\n"+
			"Rewrite the description to reflect the learner's current state.",
		item.Description, conceptText, result.Retention, result.ElapsedDays(),
		result.Score, result.Level, result.Level.Describe())

	text, err := provider.Complete(ctx, r.completer, r.model, []provider.Message{
		provider.System(systemPrompt),
		provider.User(prompt),
	}, 0.2, 256)
	if err != nil || text == "" {
		r.logger.Warn("rewrite failed, keeping original description",
			zap.String("concept", conceptText),
			zap.Int("position", item.Position),
			zap.Error(err))
		return item.Description
	}
	return text
}
