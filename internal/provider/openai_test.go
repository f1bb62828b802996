package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOpenAIChat(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("got model %q", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": req.Model,
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"role": "assistant", "content": "hello"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(ProviderConfig{
		ID: "test", Name: "Test", Endpoint: server.URL, APIKey: "sk-test",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{User("hi")},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got content %q, want hello", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("got %d total tokens, want 7", resp.Usage.TotalTokens)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("got auth header %q", gotAuth)
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "test", Endpoint: server.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestOpenAIChatEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "x", "choices": []interface{}{}})
	}))
	defer server.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "test", Endpoint: server.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}
