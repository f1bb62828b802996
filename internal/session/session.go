// Package session drives the multi-round tutoring dialogue: retrieve,
// rewrite, generate the tutor turn, simulate the learner turn, repeat.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/mentora/internal/forgetting"
	"github.com/nidhogg/mentora/internal/profile"
	"github.com/nidhogg/mentora/internal/provider"
	"github.com/nidhogg/mentora/internal/retrieval"
	"github.com/nidhogg/mentora/internal/rewriter"
	"go.uber.org/zap"
)

// state is a phase of the tutoring state machine. The machine is linear:
// Start -> FirstQuestion -> ExplainAndAsk* -> Done.
type state int

const (
	stateStart state = iota
	stateFirstQuestion
	stateExplainAndAsk
	stateDone
)

// Variant is a named ablation profile. All variants share the same state
// machine; capability flags control what reaches the prompts.
type Variant struct {
	Name       string
	UsePersona bool
	UseMemory  bool
	Rewrite    bool
}

// ParseVariant resolves a configured variant name.
func ParseVariant(name string) (Variant, error) {
	switch name {
	case "", "full":
		return Variant{Name: "full", UsePersona: true, UseMemory: true, Rewrite: true}, nil
	case "no_persona":
		return Variant{Name: "no_persona", UseMemory: true, Rewrite: true}, nil
	case "no_memory":
		return Variant{Name: "no_memory", UsePersona: true, Rewrite: true}, nil
	case "no_rewrite":
		return Variant{Name: "no_rewrite", UsePersona: true, UseMemory: true}, nil
	}
	return Variant{}, fmt.Errorf("unknown variant %q", name)
}

// Config carries the per-run session settings.
type Config struct {
	Model     string
	Dataset   string
	NumRounds int
	Variant   Variant
	Force     bool
}

// Session orchestrates dialogue generation for (learner, concept) pairs.
type Session struct {
	reranker  *retrieval.Reranker
	rewriter  *rewriter.Rewriter
	completer provider.Completer
	store     *FileStore
	cfg       Config
	logger    *zap.Logger
}

// New creates a Session.
func New(reranker *retrieval.Reranker, rw *rewriter.Rewriter, completer provider.Completer, store *FileStore, cfg Config, logger *zap.Logger) *Session {
	if cfg.NumRounds <= 0 {
		cfg.NumRounds = 10
	}
	return &Session{
		reranker:  reranker,
		rewriter:  rw,
		completer: completer,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run generates (or loads) the dialogue for one learner and concept.
// If a dialogue already exists under the key and Force is unset, the
// persisted dialogue is returned without any generation calls.
func (s *Session) Run(ctx context.Context, prof *profile.Profile, conceptText string, fres forgetting.Result, recencyScores map[int]float64) (*Dialogue, error) {
	key := Key{
		Variant:     s.cfg.Variant.Name,
		Model:       s.cfg.Model,
		Dataset:     s.cfg.Dataset,
		Estimator:   string(fres.Estimator),
		LearnerID:   prof.LearnerID,
		ConceptText: conceptText,
	}

	if !s.cfg.Force && s.store.Exists(key) {
		s.logger.Info("dialogue cached, skipping generation", zap.String("key", key.String()))
		return s.store.Load(key)
	}

	d := &Dialogue{
		LearnerID:   prof.LearnerID,
		Dataset:     s.cfg.Dataset,
		ConceptText: conceptText,
		NumRounds:   s.cfg.NumRounds,
	}

	recency := retrieval.ForgettingRecency(recencyScores)
	tutorTurns := 0
	retrievalFailures := 0

	for st := stateStart; st != stateDone; {
		switch st {
		case stateStart:
			d.Turns = append(d.Turns, Turn{
				Role:    RoleLearner,
				Round:   0,
				Content: fmt.Sprintf("I want to learn about %s", conceptText),
			})
			st = stateFirstQuestion

		case stateFirstQuestion:
			query := d.Turns[0].Content
			turn, retrieved := s.tutorTurn(ctx, prof, conceptText, fres, recency, query, "")
			if !retrieved {
				retrievalFailures++
			}
			turn.Round = len(d.Turns)
			d.Turns = append(d.Turns, turn)
			tutorTurns++
			if tutorTurns >= s.cfg.NumRounds {
				st = stateDone
			} else {
				st = stateExplainAndAsk
			}

		case stateExplainAndAsk:
			answer := s.learnerTurn(ctx, prof, conceptText, d)
			d.Turns = append(d.Turns, Turn{
				Role:    RoleLearner,
				Round:   len(d.Turns),
				Content: answer,
			})

			turn, retrieved := s.tutorTurn(ctx, prof, conceptText, fres, recency, answer, answer)
			if !retrieved {
				retrievalFailures++
			}
			turn.Round = len(d.Turns)
			d.Turns = append(d.Turns, turn)
			tutorTurns++
			if tutorTurns >= s.cfg.NumRounds {
				st = stateDone
			}
		}
	}

	// A transient retrieval failure degrades a single round; retrieval
	// failing on every round means the dialogue was never conditioned on
	// the profile, so the pair fails instead of persisting.
	if retrievalFailures == tutorTurns {
		return nil, fmt.Errorf("retrieval failed in all %d rounds for learner %s concept %q",
			tutorTurns, prof.LearnerID, conceptText)
	}

	if err := s.store.Save(key, d, s.cfg.Force); err != nil {
		if errors.Is(err, ErrDialogueExists) {
			// Another writer got there first; their dialogue wins.
			return s.store.Load(key)
		}
		return nil, err
	}
	return d, nil
}

// tutorTurn runs retrieve -> rewrite -> generate for one tutor round.
// lastAnswer is empty for the opening question; otherwise the turn both
// gives feedback on it and asks the next question, in a single call.
// The second return value reports whether retrieval succeeded.
func (s *Session) tutorTurn(ctx context.Context, prof *profile.Profile, conceptText string, fres forgetting.Result, recency retrieval.RecencyFunc, query, lastAnswer string) (Turn, bool) {
	retrieved := true
	persona, memory, err := s.reranker.Retrieve(ctx, prof, query, recency)
	if err != nil {
		// A failed retrieval degrades the round to an unconditioned
		// generation; the session continues.
		retrieved = false
		s.logger.Warn("retrieval failed for round",
			zap.String("learner", prof.LearnerID),
			zap.String("concept", conceptText),
			zap.Error(err))
	}
	if !s.cfg.Variant.UsePersona {
		persona = nil
	}
	if !s.cfg.Variant.UseMemory {
		memory = nil
	}

	var rewrittenPersona, rewrittenMemory []string
	if s.cfg.Variant.Rewrite {
		rewrittenPersona, rewrittenMemory = s.rewriter.RewriteItems(ctx, persona, memory, conceptText, fres)
	} else {
		rewrittenPersona = descriptions(persona)
		rewrittenMemory = descriptions(memory)
	}

	prompt := s.tutorPrompt(conceptText, rewrittenPersona, rewrittenMemory, lastAnswer)
	content, err := provider.Complete(ctx, s.completer, s.cfg.Model, []provider.Message{
		provider.System("You are a patient personal tutor. Be concise and concrete."),
		provider.User(prompt),
	}, 0.4, 512)
	if err != nil || content == "" {
		s.logger.Warn("tutor generation failed, using fallback question",
			zap.String("learner", prof.LearnerID),
			zap.String("concept", conceptText),
			zap.Error(err))
		content = fmt.Sprintf("Let's keep going with %s. Can you explain it in your own words?", conceptText)
	}

	return Turn{
		Role:             RoleTutor,
		Content:          content,
		RetrievedPersona: descriptions(persona),
		RetrievedMemory:  descriptions(memory),
		RewrittenPersona: rewrittenPersona,
		RewrittenMemory:  rewrittenMemory,
	}, retrieved
}

func (s *Session) tutorPrompt(conceptText string, persona, memory []string, lastAnswer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Concept being tutored: %s\n\n", conceptText)
	if len(persona) > 0 {
		b.WriteString("Learner mastery profile:\n")
		for _, p := range persona {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if len(memory) > 0 {
		b.WriteString("Relevant past learning events:\n")
		for _, m := range memory {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}
	if lastAnswer == "" {
		b.WriteString("Ask the learner one opening practice question about the concept, " +
			"pitched to their profile.")
	} else {
		fmt.Fprintf(&b, "The learner's last answer was:\n%s\n\n", lastAnswer)
		b.WriteString("Give brief feedback on the answer, then ask the next question. " +
			"Respond with both in one message.")
	}
	return b.String()
}

// learnerTurn role-plays the learner answering the latest tutor turn.
// Higher temperature gives natural variance in answers.
func (s *Session) learnerTurn(ctx context.Context, prof *profile.Profile, conceptText string, d *Dialogue) string {
	lastTutor := d.Turns[len(d.Turns)-1].Content

	var b strings.Builder
	fmt.Fprintf(&b, "You are role-playing a real learner studying %s.\n", conceptText)
	if len(prof.Persona) > 0 {
		b.WriteString("Your mastery background:\n")
		for i, p := range prof.Persona {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", p.Description)
		}
	}
	b.WriteString("Answer as this learner would: imperfect knowledge is expected. " +
		"Answer the tutor's question directly, without meta commentary.")

	answer, err := provider.Complete(ctx, s.completer, s.cfg.Model, []provider.Message{
		provider.System(b.String()),
		provider.User(lastTutor),
	}, 0.8, 256)
	if err != nil || answer == "" {
		s.logger.Warn("learner simulation failed, using fallback answer",
			zap.String("learner", prof.LearnerID),
			zap.Error(err))
		return "I'm not sure, can you explain that again?"
	}
	return answer
}

func descriptions(items []profile.Item) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Description
	}
	return out
}
