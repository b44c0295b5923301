package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/siherrmann/knowledge"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/helper"
	"github.com/spf13/cobra"
)

var noEmbedder bool

func main() {
	rootCmd := &cobra.Command{
		Use:          "knowledge",
		Short:        "Knowledge retrieval service for agents",
		Version:      knowledge.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&noEmbedder, "no-embedder", false, "run without an embedding model, searches use keywords only")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(indexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open reads the environment and connects. A failing embedding model
// degrades the service instead of stopping it.
func open() (*knowledge.Knowledge, *helper.ServerConfiguration, error) {
	config, err := helper.NewServerConfiguration()
	if err != nil {
		return nil, nil, err
	}

	var embed pipeline.EmbedFunc
	var closeEmbedder func() error
	if !noEmbedder {
		embed, closeEmbedder, err = pipeline.DefaultEmbedder(config.EmbeddingModel)
		if err != nil {
			logger := slog.New(helper.NewPrettyHandler(os.Stderr, helper.PrettyHandlerOptions{}))
			logger.Warn("Embedding model unavailable, continuing without embeddings", "model", config.EmbeddingModel, "error", err.Error())
			embed = nil
		} else {
			embed = pipeline.WithDimension(embed, config.EmbeddingDim)
		}
	}

	k, err := knowledge.NewKnowledge(config, embed)
	if err != nil {
		if closeEmbedder != nil {
			_ = closeEmbedder()
		}
		return nil, nil, err
	}
	if closeEmbedder != nil {
		k.OnClose(closeEmbedder)
	}
	return k, config, nil
}
