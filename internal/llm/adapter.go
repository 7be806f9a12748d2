package llm

import (
	"context"
	"fmt"
)

// CtxClient wraps a model-picking Client behind a context-aware
// GenerateJSON(ctx, prompt) call, matching the shape internal/agent and
// internal/scheduler expect (internal/agent.LLMClient). Client itself has
// no context parameter and no fixed model, so the adapter resolves the
// model once at construction and races the call against ctx's deadline in
// a goroutine.
type CtxClient struct {
	client Client
	model  string
}

// NewCtxClient picks the best available model for client and returns an
// adapter usable wherever a context-based JSON-generation call is needed.
func NewCtxClient(client Client) (*CtxClient, error) {
	model, err := client.PickBestModel()
	if err != nil {
		return nil, fmt.Errorf("pick chat model: %w", err)
	}
	if model == "" {
		return nil, fmt.Errorf("no chat model available")
	}
	return &CtxClient{client: client, model: model}, nil
}

// GenerateJSON issues a JSON-mode generation call, returning early if ctx
// is cancelled before the underlying (non-cancellable) HTTP call finishes.
func (c *CtxClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := c.client.GenerateJSON(c.model, prompt)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}
