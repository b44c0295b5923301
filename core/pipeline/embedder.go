package pipeline

import (
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/knowledge/helper"
)

// DefaultEmbedder creates an embedder backed by a local sentence transformer
// run through hugot. all-MiniLM-L6-v2 produces 384-dimensional embeddings.
// The returned close function destroys the hugot session, embedding after
// close fails.
func DefaultEmbedder(modelName string) (EmbedFunc, func() error, error) {
	modelPath, err := helper.PrepareModel(modelName, "onnx/model.onnx")
	if err != nil {
		return nil, nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "knowledge-embedder",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	// The pipeline isn't safe for concurrent runs.
	var mu sync.Mutex
	closed := false

	closeEmbedder := func() error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		closed = true
		if err := session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy hugot session: %w", err)
		}
		return nil
	}

	embed := Cooperative(func(text string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil, ErrEmbedderClosed
		}

		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}
		return result.Embeddings[0], nil
	})

	return embed, closeEmbedder, nil
}
