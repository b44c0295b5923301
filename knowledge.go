package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/core/pool"
	"github.com/siherrmann/knowledge/core/retrieval"
	"github.com/siherrmann/knowledge/core/tools"
	"github.com/siherrmann/knowledge/database"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/mcp"
	"github.com/siherrmann/knowledge/model"
	loadSql "github.com/siherrmann/knowledge/sql"
)

const (
	Name    = "knowledge"
	Version = "0.4.0"
)

// Knowledge wires the store, the connection pool and the tool dispatcher.
type Knowledge struct {
	DB         *helper.Database
	Entries    *database.EntriesDBHandler
	Audit      *database.AuditDBHandler
	Pool       *pool.Pool
	Engine     *retrieval.Engine
	Dispatcher *dispatch.Dispatcher
	// Role every tool call runs with.
	Role model.Role
	// Logging
	log *slog.Logger
	// closers run after the pool and database are closed.
	closers []func() error
}

// NewKnowledge connects to the database, prepares the entries table and
// registers all tools. embed may be nil, entries are then stored without
// embeddings and searches fall back to keyword ranking.
func NewKnowledge(config *helper.ServerConfiguration, embed pipeline.EmbedFunc) (*Knowledge, error) {
	if config == nil {
		return nil, helper.NewError("server configuration validation", fmt.Errorf("server configuration is nil"))
	}

	// Logger, stdout belongs to the protocol
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: config.LogLevel,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stderr, opts))

	role, err := model.ParseRole(config.Role)
	if err != nil {
		logger.Warn("Falling back to role all", "error", err.Error())
		role = model.RoleAll
	}

	db, err := helper.NewDatabase(Name, config.Database, logger)
	if err != nil {
		return nil, err
	}
	k := &Knowledge{DB: db, Role: role, log: logger}

	err = loadSql.Init(db.Instance)
	if err != nil {
		k.Close()
		return nil, helper.NewError("initialize database extensions", err)
	}

	// force=false to not reload if functions already exist
	k.Entries, err = database.NewEntriesDBHandler(db, config.EmbeddingDim, false)
	if err != nil {
		k.Close()
		return nil, helper.NewError("create entries handler", err)
	}

	k.Audit, err = database.NewAuditDBHandler(db, false)
	if err != nil {
		k.Close()
		return nil, helper.NewError("create audit handler", err)
	}

	k.Pool, err = pool.NewPool(config.PoolSize, pool.FromDB(db.Instance))
	if err != nil {
		k.Close()
		return nil, helper.NewError("create connection pool", err)
	}

	k.Engine, err = retrieval.NewEngine(embed, model.DefaultFusionConfig())
	if err != nil {
		k.Close()
		return nil, helper.NewError("create retrieval engine", err)
	}

	deps := &tools.Deps{
		Store: func(q helper.Querier) tools.EntryStore {
			return k.Entries.With(q)
		},
		Audit: func(q helper.Querier) tools.AuditStore {
			return k.Audit.With(q)
		},
		AuditEnabled: config.AuditEnabled,
		Engine:       k.Engine,
		Embed:        embed,
		PoolStats:    k.Pool.Stats,
		StartTime:    time.Now(),
		Version:      Version,
	}
	if embed != nil {
		deps.EmbeddingModel = config.EmbeddingModel
	}

	k.Dispatcher, err = dispatch.New(dispatch.Options{
		Role:               role,
		Pool:               k.Pool,
		Logger:             logger,
		SlowQueryThreshold: config.SlowQueryThreshold,
		Timeouts:           config.ToolTimeouts,
	}, tools.All(deps)...)
	if err != nil {
		k.Close()
		return nil, helper.NewError("create dispatcher", err)
	}

	logger.Info("Knowledge base ready", "role", string(role), "pool_size", config.PoolSize, "embedder", embed != nil)

	return k, nil
}

// CallTool runs a single tool call. args is marshalled to a JSON object,
// raw JSON is passed through.
func (k *Knowledge) CallTool(ctx context.Context, name string, args any) *dispatch.Result {
	var raw json.RawMessage
	switch v := args.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			k.log.Warn("Invalid tool arguments", "tool", name, "error", err.Error())
			raw = json.RawMessage(`"unencodable arguments"`)
		} else {
			raw = b
		}
	}
	return k.Dispatcher.Dispatch(ctx, name, raw)
}

// Server returns an MCP server exposing every registered tool.
func (k *Knowledge) Server() *mcp.Server {
	return mcp.NewServer(k.Dispatcher, Name, Version, k.log)
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat.
func (k *Knowledge) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return k.Entries.ChangeIndexType(ctx, indexType, params)
}

// Logger returns the logger all components write to.
func (k *Knowledge) Logger() *slog.Logger {
	return k.log
}

// Close stops the pool from handing out connections and closes the
// database, then runs the cleanups registered with OnClose. Running calls
// should have finished before.
func (k *Knowledge) Close() error {
	var errs []error
	if k.Pool != nil {
		k.Pool.Close()
	}
	if k.DB != nil {
		if err := k.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, closeFn := range k.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}

// OnClose registers a cleanup for a resource the knowledge base uses but
// didn't create, for example the embedding model session.
func (k *Knowledge) OnClose(closeFn func() error) {
	k.closers = append(k.closers, closeFn)
}
