package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/mentora/internal/evaluator"
	"github.com/nidhogg/mentora/internal/session"
)

// SaveDialogue upserts a completed dialogue under its configuration key.
// The upsert keeps re-runs with the force flag consistent with the files.
func (s *Store) SaveDialogue(ctx context.Context, key session.Key, d *session.Dialogue) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dialogue: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO dialogues (variant, model, dataset, estimator, learner_id, concept_text, num_rounds, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (variant, model, dataset, estimator, learner_id, concept_text)
		DO UPDATE SET num_rounds = EXCLUDED.num_rounds, body = EXCLUDED.body`,
		key.Variant, key.Model, key.Dataset, key.Estimator, key.LearnerID, key.ConceptText,
		d.NumRounds, body,
	)
	if err != nil {
		return fmt.Errorf("save dialogue: %w", err)
	}
	return nil
}

// SaveEvaluation upserts an evaluation result under its configuration key.
func (s *Store) SaveEvaluation(ctx context.Context, key session.Key, r *evaluator.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO evaluations (variant, model, dataset, estimator, learner_id, concept_text, pre_accuracy, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (variant, model, dataset, estimator, learner_id, concept_text)
		DO UPDATE SET pre_accuracy = EXCLUDED.pre_accuracy, body = EXCLUDED.body`,
		key.Variant, key.Model, key.Dataset, key.Estimator, key.LearnerID, key.ConceptText,
		r.PreAccuracy, body,
	)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	return nil
}

// GetDialogue loads a mirrored dialogue by key.
func (s *Store) GetDialogue(ctx context.Context, key session.Key) (*session.Dialogue, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `
		SELECT body FROM dialogues
		WHERE variant = $1 AND model = $2 AND dataset = $3 AND estimator = $4
		  AND learner_id = $5 AND concept_text = $6`,
		key.Variant, key.Model, key.Dataset, key.Estimator, key.LearnerID, key.ConceptText,
	).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("get dialogue: %w", err)
	}
	var d session.Dialogue
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("parse dialogue body: %w", err)
	}
	return &d, nil
}

// ListEvaluations returns all mirrored evaluation results for a dataset
// and variant, for comparative reporting.
func (s *Store) ListEvaluations(ctx context.Context, dataset, variant string) ([]*evaluator.Result, error) {
	rows, err := s.db.Query(ctx, `
		SELECT body FROM evaluations
		WHERE dataset = $1 AND variant = $2
		ORDER BY learner_id, concept_text`,
		dataset, variant)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var results []*evaluator.Result
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		var r evaluator.Result
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse evaluation body: %w", err)
		}
		results = append(results, &r)
	}
	return results, nil
}
