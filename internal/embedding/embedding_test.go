package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderEmbed(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		data := make([]apiEmbeddingData, len(req.Input))
		for i := range req.Input {
			data[i] = apiEmbeddingData{Embedding: []float32{1, 2, 3}}
		}
		json.NewEncoder(w).Encode(apiResponse{Data: data})
	}))
	defer server.Close()

	p := NewAPIProvider(Config{Endpoint: server.URL, Model: "test-embed", Dimension: 1536})

	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if requests != 1 {
		t.Errorf("batch input should use one request, got %d", requests)
	}
	// Dimension is cached from the first result, overriding the config.
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderVectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Data: []apiEmbeddingData{{Embedding: []float32{1}}}})
	}))
	defer server.Close()

	p := NewAPIProvider(Config{Endpoint: server.URL, Model: "test-embed"})
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when the endpoint returns fewer vectors than texts")
	}
}

func TestAPIProviderDimensionFallback(t *testing.T) {
	p := NewAPIProvider(Config{Dimension: 1536})
	if p.Dimension() != 1536 {
		t.Errorf("got dimension %d, want configured 1536", p.Dimension())
	}
}

func TestLocalProviderEmbedsSequentially(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{0.5, 0.5}})
	}))
	defer server.Close()

	p := NewLocalProvider(Config{Endpoint: server.URL, Model: "nomic-embed-text"})

	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if requests != 3 {
		t.Errorf("local endpoint takes one prompt per request, got %d requests", requests)
	}
	if p.Dimension() != 2 {
		t.Errorf("got dimension %d, want 2", p.Dimension())
	}
}

func TestEmbedOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Data: []apiEmbeddingData{{Embedding: []float32{9}}}})
	}))
	defer server.Close()

	p := NewAPIProvider(Config{Endpoint: server.URL})
	vec, err := EmbedOne(context.Background(), p, "hello")
	if err != nil {
		t.Fatalf("embed one: %v", err)
	}
	if len(vec) != 1 || vec[0] != 9 {
		t.Errorf("got %v", vec)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused"})
	vectors, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil for empty input", vectors)
	}
}
