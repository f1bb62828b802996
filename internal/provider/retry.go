package provider

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Completer is the minimal chat surface the pipeline components depend on.
// Router and Retrier both satisfy it.
type Completer interface {
	Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Retrier wraps a Completer with bounded exponential backoff. Transient
// provider failures are retried; persistent failure surfaces as an error
// that call sites recover from with their own fallback values.
type Retrier struct {
	inner           Completer
	maxAttempts     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *zap.Logger
}

// NewRetrier creates a Retrier with the given attempt budget.
func NewRetrier(inner Completer, maxAttempts int, logger *zap.Logger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Retrier{
		inner:           inner,
		maxAttempts:     uint64(maxAttempts),
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		logger:          logger,
	}
}

// Route retries the wrapped Route call with exponential backoff.
func (r *Retrier) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = r.maxInterval

	var attempt int
	resp, err := backoff.RetryWithData(func() (*ChatResponse, error) {
		attempt++
		resp, err := r.inner.Route(ctx, req)
		if err != nil {
			r.logger.Warn("chat attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return resp, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Complete is a convenience wrapper returning only the trimmed text
// content. The returned string may be empty even on success; every call
// site must treat an empty completion as a failure of that unit.
func Complete(ctx context.Context, c Completer, model string, messages []Message, temperature float64, maxTokens int) (string, error) {
	resp, err := c.Route(ctx, &ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
