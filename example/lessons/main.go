package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/siherrmann/knowledge"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/core/tools"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

const lessonsLearned = `<!-- format: v1.0 -->
# Lessons Learned

## KNOW-012 - Search latency (2026-03-02)

### What Went Well
- Fusing keyword and semantic rankings found runbooks that keyword search alone missed.
- Caching the embedding model in ./models cut the cold start from minutes to seconds.

### What Could Be Improved
- Rebuilding embeddings for every entry blocked the database for too long, use batches.

## KNOW-013 - Release testing (2026-03-09)

### Patterns Established
- Run the integration suite against a pgvector container before every release.
`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

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

	// Without an embedder the import still works, search falls back to keywords
	k, err := knowledge.NewKnowledge(config, nil)
	if err != nil {
		log.Fatalf("Failed to create knowledge base: %v", err)
	}
	defer k.Close()

	filePath := filepath.Join(os.TempDir(), "LESSONS-LEARNED.md")
	if err := os.WriteFile(filePath, []byte(lessonsLearned), 0600); err != nil {
		log.Fatalf("Failed to write lessons file: %v", err)
	}
	defer os.Remove(filePath)

	source, err := model.NewImportSourceFromFile(filePath)
	if err != nil {
		log.Fatalf("Failed to read lessons file: %v", err)
	}
	parsed, err := pipeline.LessonsLearnedParser()(source)
	if err != nil {
		log.Fatalf("Failed to parse lessons file: %v", err)
	}
	fmt.Printf("Parsed %d lessons, %d warnings\n", len(parsed.Entries), len(parsed.Warnings))

	ctx := context.Background()
	result := k.CallTool(ctx, tools.NameBulkImport, map[string]any{"entries": parsed.Entries})
	fmt.Println(result.Content[0].Text)

	fmt.Println("\nSearching: embedding batches")
	result = k.CallTool(ctx, tools.NameSearch, map[string]any{"query": "embedding batches", "tags": []string{"source:lessons-learned"}})
	fmt.Println(result.Content[0].Text)

	fmt.Println("\nHealth")
	result = k.CallTool(ctx, tools.NameHealth, nil)
	fmt.Println(result.Content[0].Text)
}
