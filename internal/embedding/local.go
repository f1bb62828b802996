package embedding

import (
	"context"
	"net/http"
)

// LocalProvider talks to an Ollama-compatible model server. The server
// takes one prompt per request, so texts are embedded sequentially.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client
	dim      dimCache
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   newHTTPClient(),
		dim:      dimCache{fallback: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds each text with its own request, in input order. The
// first failing prompt fails the whole call.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result localResponse
		if err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "",
			localRequest{Model: p.model, Prompt: text}, &result); err != nil {
			return nil, err
		}
		vectors = append(vectors, result.Embedding)
	}
	p.dim.observe(vectors)
	return vectors, nil
}

// Dimension reports the vector width, preferring what the server
// actually returned over the configured value.
func (p *LocalProvider) Dimension() int {
	return p.dim.value()
}
