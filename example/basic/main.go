package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/siherrmann/knowledge"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/core/tools"
	"github.com/siherrmann/knowledge/helper"
)

var sampleEntries = []map[string]any{
	{
		"content":    "Use a connection pool of five connections per service instance, Postgres runs out of backends above that.",
		"role":       "dev",
		"entry_type": "decision",
		"tags":       []string{"postgres", "pooling", "performance"},
	},
	{
		"content":    "Autovacuum must run more aggressively on the events table, it grows by millions of rows a day.",
		"role":       "dev",
		"entry_type": "runbook",
		"tags":       []string{"postgres", "performance", "maintenance"},
	},
	{
		"content":    "Release notes are written by the product manager before the release branch is cut.",
		"role":       "pm",
		"entry_type": "note",
		"tags":       []string{"release", "process"},
	},
}

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create the configuration using the container port
	config := &helper.ServerConfiguration{
		Database: &helper.DatabaseConfiguration{
			Host:     "localhost",
			Port:     dbPort,
			Database: "database",
			Username: "user",
			Password: "password",
			Schema:   "public",
			SSLMode:  "disable",
		},
		PoolSize:        helper.DefaultPoolSize,
		LogLevel:        slog.LevelInfo,
		Role:            "pm",
		ShutdownTimeout: 30 * time.Second,
		EmbeddingModel:  helper.DefaultEmbeddingModel,
		EmbeddingDim:    helper.DefaultEmbeddingDim,
	}

	embed, closeEmbedder, err := pipeline.DefaultEmbedder(config.EmbeddingModel)
	if err != nil {
		log.Fatalf("Failed to load embedding model: %v", err)
	}

	k, err := knowledge.NewKnowledge(config, pipeline.WithDimension(embed, config.EmbeddingDim))
	if err != nil {
		_ = closeEmbedder()
		log.Fatalf("Failed to create knowledge base: %v", err)
	}
	k.OnClose(closeEmbedder)
	defer k.Close()

	ctx := context.Background()

	fmt.Println("Adding entries...")
	var firstID string
	for _, entry := range sampleEntries {
		result := k.CallTool(ctx, tools.NameAdd, entry)
		if result.IsError {
			log.Fatalf("Failed to add entry: %s", result.Content[0].Text)
		}
		fmt.Println(result.Content[0].Text)
		if firstID == "" {
			firstID = entryID(result.Content[0].Text)
		}
	}

	queryText := "How many database connections should a service use?"
	fmt.Printf("\nSearching: %s\n", queryText)
	result := k.CallTool(ctx, tools.NameSearch, map[string]any{"query": queryText, "limit": 3})
	fmt.Println(result.Content[0].Text)

	fmt.Printf("\nEntries related to %s\n", firstID)
	result = k.CallTool(ctx, tools.NameGetRelated, map[string]any{"entry_id": firstID})
	fmt.Println(result.Content[0].Text)

	fmt.Println("\nStatistics")
	result = k.CallTool(ctx, tools.NameStats, nil)
	fmt.Println(result.Content[0].Text)
}

func entryID(text string) string {
	var added tools.AddResult
	if err := json.Unmarshal([]byte(text), &added); err != nil {
		log.Fatalf("Failed to decode added entry: %v", err)
	}
	return added.ID.String()
}
