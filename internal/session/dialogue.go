package session

import (
	"fmt"
	"regexp"
	"strings"
)

// Role identifies which side of the tutoring dialogue produced a turn.
type Role string

const (
	RoleLearner Role = "learner"
	RoleTutor   Role = "tutor"
)

// Turn is one utterance in a dialogue. Tutor turns carry the retrieval
// and rewrite provenance that conditioned them, for auditability.
type Turn struct {
	Role    Role   `json:"role"`
	Round   int    `json:"round"`
	Content string `json:"content"`

	RetrievedPersona []string `json:"retrieved_persona,omitempty"`
	RetrievedMemory  []string `json:"retrieved_memory,omitempty"`
	RewrittenPersona []string `json:"rewritten_persona,omitempty"`
	RewrittenMemory  []string `json:"rewritten_memory,omitempty"`
}

// Dialogue is the complete, append-only transcript for one
// (learner, concept) pair. Turn 0 is always the learner's opening
// request; roles alternate thereafter.
type Dialogue struct {
	LearnerID   string `json:"student_id"`
	Dataset     string `json:"dataset"`
	ConceptText string `json:"concept_text"`
	NumRounds   int    `json:"num_rounds"`
	Turns       []Turn `json:"dialogue"`
}

// TutorTurns returns only the tutor's turns, in order.
func (d *Dialogue) TutorTurns() []Turn {
	var out []Turn
	for _, t := range d.Turns {
		if t.Role == RoleTutor {
			out = append(out, t)
		}
	}
	return out
}

// Key identifies one dialogue. Every field participates in the cache
// key, so two runs differing in any configuration axis never collide.
type Key struct {
	Variant     string
	Model       string
	Dataset     string
	Estimator   string
	LearnerID   string
	ConceptText string
}

var unsafePathRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func slug(s string) string {
	return unsafePathRe.ReplaceAllString(strings.TrimSpace(s), "_")
}

// Dir returns the per-configuration directory of the key.
func (k Key) Dir() string {
	return fmt.Sprintf("%s_%s_%s_%s", slug(k.Variant), slug(k.Model), slug(k.Dataset), slug(k.Estimator))
}

// Filename returns the dialogue file name within Dir.
func (k Key) Filename() string {
	return fmt.Sprintf("%s_%s.json", slug(k.LearnerID), slug(k.ConceptText))
}

func (k Key) String() string {
	return k.Dir() + "/" + k.Filename()
}
