package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrMalformedRecord marks ingestion-level structural corruption, such as
// parallel arrays of different lengths. Malformed records are dropped,
// never silently coerced.
var ErrMalformedRecord = errors.New("malformed learner record")

// padSentinel marks unused slots in the fixed-width ingestion arrays.
const padSentinel = -1

// Interaction is one graded attempt: which question, which concept,
// whether the learner answered correctly, and when (ms epoch).
type Interaction struct {
	QuestionID int   `json:"question_id"`
	ConceptID  int   `json:"concept_id"`
	Response   int   `json:"response"` // 0 or 1
	Timestamp  int64 `json:"timestamp"`
}

// ConceptHistory is the ordered interaction sequence of one
// (learner, concept) pair. The final element is the current attempt;
// historical statistics must only use Past().
type ConceptHistory struct {
	LearnerID string
	ConceptID int
	Attempts  []Interaction
}

// Past returns all attempts except the final (current) one.
func (h *ConceptHistory) Past() []Interaction {
	if len(h.Attempts) == 0 {
		return nil
	}
	return h.Attempts[:len(h.Attempts)-1]
}

// LearnerRecord is the raw per-learner ingestion format: equal-length
// parallel arrays with -1 padding.
type LearnerRecord struct {
	LearnerID  string  `json:"student_id"`
	Questions  []int   `json:"questions"`
	Concepts   []int   `json:"concepts"`
	Responses  []int   `json:"responses"`
	Timestamps []int64 `json:"timestamps"`
}

// Interactions validates the record, strips padding, and returns the
// learner's attempts in log order.
func (r *LearnerRecord) Interactions() ([]Interaction, error) {
	n := len(r.Questions)
	if len(r.Concepts) != n || len(r.Responses) != n || len(r.Timestamps) != n {
		return nil, fmt.Errorf("%w: learner %s has arrays of lengths %d/%d/%d/%d",
			ErrMalformedRecord, r.LearnerID, n, len(r.Concepts), len(r.Responses), len(r.Timestamps))
	}

	out := make([]Interaction, 0, n)
	for i := 0; i < n; i++ {
		if r.Questions[i] == padSentinel || r.Concepts[i] == padSentinel {
			continue
		}
		// An out-of-range response is a malformed individual attempt;
		// drop it and continue.
		if r.Responses[i] != 0 && r.Responses[i] != 1 {
			continue
		}
		out = append(out, Interaction{
			QuestionID: r.Questions[i],
			ConceptID:  r.Concepts[i],
			Response:   r.Responses[i],
			Timestamp:  r.Timestamps[i],
		})
	}
	return out, nil
}

// GroupByConcept splits a learner's attempts into per-concept histories
// ordered by timestamp. Ties keep log order.
func GroupByConcept(learnerID string, attempts []Interaction) []*ConceptHistory {
	byConcept := make(map[int][]Interaction)
	var order []int
	for _, a := range attempts {
		if _, seen := byConcept[a.ConceptID]; !seen {
			order = append(order, a.ConceptID)
		}
		byConcept[a.ConceptID] = append(byConcept[a.ConceptID], a)
	}

	histories := make([]*ConceptHistory, 0, len(order))
	for _, cid := range order {
		seq := byConcept[cid]
		sort.SliceStable(seq, func(i, j int) bool {
			return seq[i].Timestamp < seq[j].Timestamp
		})
		histories = append(histories, &ConceptHistory{
			LearnerID: learnerID,
			ConceptID: cid,
			Attempts:  seq,
		})
	}
	return histories
}

// Loader reads learner record files from a dataset directory.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader creates a Loader rooted at the given records directory.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// Load reads one learner's record file.
func (l *Loader) Load(learnerID string) (*LearnerRecord, error) {
	path := filepath.Join(l.dir, learnerID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	var rec LearnerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedRecord, path, err)
	}
	if rec.LearnerID == "" {
		rec.LearnerID = learnerID
	}
	return &rec, nil
}

// ListLearners returns the learner IDs present in the records directory,
// sorted for deterministic batch ordering.
func (l *Loader) ListLearners() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read records dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Histories loads a learner record and groups it into per-concept
// histories. Malformed records are reported; malformed individual
// attempts are dropped inside Interactions.
func (l *Loader) Histories(learnerID string) ([]*ConceptHistory, error) {
	rec, err := l.Load(learnerID)
	if err != nil {
		return nil, err
	}
	attempts, err := rec.Interactions()
	if err != nil {
		return nil, err
	}
	return GroupByConcept(rec.LearnerID, attempts), nil
}
