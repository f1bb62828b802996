package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/mentora/internal/evaluator"
)

// QuestionBank loads per-concept test question files from disk. The file
// for concept 42 is questions_dir/concept_42.json, a JSON array of
// questions. Missing files mean the concept has no test; evaluation is
// skipped for it.
type QuestionBank struct {
	dir string
}

// NewQuestionBank creates a bank rooted at the questions directory.
func NewQuestionBank(dir string) *QuestionBank {
	return &QuestionBank{dir: dir}
}

// Load returns the question set for a concept, or (nil, nil) when the
// concept has no test file.
func (b *QuestionBank) Load(conceptID int) ([]evaluator.Question, error) {
	path := filepath.Join(b.dir, fmt.Sprintf("concept_%d.json", conceptID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read questions %s: %w", path, err)
	}
	var questions []evaluator.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse questions %s: %w", path, err)
	}
	return questions, nil
}
