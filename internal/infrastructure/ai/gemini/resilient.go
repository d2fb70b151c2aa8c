package gemini

import (
	"context"
	"time"

	"github.com/audexhq/audex/internal/infrastructure/resilience"
)

// ResilientClient wraps Client calls in the provider retry policy so quota
// hints and the per-call time budget apply to every model invocation.
type ResilientClient struct {
	client *Client
	policy resilience.RetryPolicy
}

func NewResilientClient(client *Client, maxRetries int, budget time.Duration) *ResilientClient {
	policy := resilience.DefaultRetryPolicy(maxRetries, budget)
	policy.Retryable = IsRetryable
	policy.Hint = ExtractRetryDelay
	return &ResilientClient{client: client, policy: policy}
}

func (r *ResilientClient) Model() string { return r.client.Model() }

func (r *ResilientClient) AnalyzeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	var out string
	err := r.policy.Do(ctx, "gemini_analyze_image", func(ctx context.Context) error {
		var callErr error
		out, callErr = r.client.AnalyzeImage(ctx, prompt, mimeType, data)
		return callErr
	})
	return out, err
}

func (r *ResilientClient) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := r.policy.Do(ctx, "gemini_generate", func(ctx context.Context) error {
		var callErr error
		out, callErr = r.client.Generate(ctx, prompt)
		return callErr
	})
	return out, err
}
