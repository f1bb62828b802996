package embedding

import (
	"context"
	"fmt"
	"net/http"
)

// APIProvider talks to an OpenAI-compatible /embeddings endpoint. All
// texts of a call go out as one batched request.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	dim      dimCache
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(),
		dim:      dimCache{fallback: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed batches texts into a single request and returns their vectors
// in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result apiResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey,
		apiRequest{Model: p.model, Input: texts}, &result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(result.Data), len(texts))
	}

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vectors[i] = d.Embedding
	}
	p.dim.observe(vectors)
	return vectors, nil
}

// Dimension reports the vector width, preferring what the endpoint
// actually returned over the configured value.
func (p *APIProvider) Dimension() int {
	return p.dim.value()
}
