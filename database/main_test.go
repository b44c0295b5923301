package database

import (
	"context"
	"log"
	"testing"

	"github.com/siherrmann/knowledge/helper"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

const testEmbeddingDim = 3

var dbPort string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

func initDB(t *testing.T) *helper.Database {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	return helper.NewTestDatabase(dbConfig)
}

// initHandler returns a handler on an empty entries table.
func initHandler(t *testing.T) *EntriesDBHandler {
	database := initDB(t)
	t.Cleanup(func() { database.Close() })

	handler, err := NewEntriesDBHandler(database, testEmbeddingDim, false)
	require.NoError(t, err, "Expected NewEntriesDBHandler to not return an error")

	_, err = database.Instance.Exec(`TRUNCATE knowledge_entries;`)
	require.NoError(t, err)

	return handler
}
