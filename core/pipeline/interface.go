package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmbedderClosed = errors.New("embedder is closed")

// EmbedFunc generates the embedding of a text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Cooperative turns a blocking embedding call into an EmbedFunc that returns
// ctx.Err() as soon as ctx is done. The abandoned call finishes in the background.
func Cooperative(embed func(text string) ([]float32, error)) EmbedFunc {
	type result struct {
		embedding []float32
		err       error
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done := make(chan result, 1)
		go func() {
			embedding, err := embed(text)
			done <- result{embedding, err}
		}()
		select {
		case r := <-done:
			return r.embedding, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WithDimension rejects embeddings that don't have dim values.
func WithDimension(embed EmbedFunc, dim int) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		embedding, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(embedding) != dim {
			return nil, fmt.Errorf("expected embedding with %d dimensions, got %d", dim, len(embedding))
		}
		return embedding, nil
	}
}
