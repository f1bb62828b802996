// Package kt is a thin client for the external knowledge-tracing
// prediction service. The service is a black box: given a sequence
// prefix it returns the probability that the next attempt is correct.
package kt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Predictor is the prediction surface the forgetting engine depends on.
type Predictor interface {
	PredictNextCorrect(ctx context.Context, questionIDs, conceptIDs, responses []int) (float64, error)
}

// Client calls a knowledge-tracing model server over HTTP.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewClient creates a Client for the given endpoint and model name.
func NewClient(endpoint, model string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type predictRequest struct {
	Model       string `json:"model"`
	QuestionIDs []int  `json:"question_ids"`
	ConceptIDs  []int  `json:"concept_ids"`
	Responses   []int  `json:"responses"`
}

type predictResponse struct {
	Probability float64 `json:"probability"`
}

// PredictNextCorrect sends the sequence prefix and returns the predicted
// probability of the next attempt being correct. The service may reject
// out-of-vocabulary question or concept ids; that surfaces as an error
// and the caller falls back to historical accuracy.
func (c *Client) PredictNextCorrect(ctx context.Context, questionIDs, conceptIDs, responses []int) (float64, error) {
	body, err := json.Marshal(predictRequest{
		Model:       c.model,
		QuestionIDs: questionIDs,
		ConceptIDs:  conceptIDs,
		Responses:   responses,
	})
	if err != nil {
		return 0, fmt.Errorf("kt: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("kt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kt: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("kt: server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("kt: decode response: %w", err)
	}
	if result.Probability < 0 || result.Probability > 1 {
		return 0, fmt.Errorf("kt: probability %f out of range", result.Probability)
	}
	return result.Probability, nil
}
