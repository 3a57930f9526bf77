// Command backfill rebuilds the similar-failure index from Neo4j. Run it after
// a graph import or when Qdrant has been reset; the API only maintains the
// index incrementally.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/semantic"
	"github.com/WessleyAI/safety-workbench/pkg/config"
	"github.com/WessleyAI/safety-workbench/pkg/ollama"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var errNoQdrant = errors.New("qdrant.addr is not configured")

func main() {
	cfg, err := config.Load(os.Getenv("SAFETY_CONFIG"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Qdrant.Addr == "" {
		return errNoQdrant
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(context.WithoutCancel(ctx))
	store := graph.New(driver, cfg.Neo4j.Database)

	vectors, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, cfg.Qdrant.Dim); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

	index := semantic.NewFailureIndex(vectors, ollama.NewEmbedClient(cfg.Ollama.URL, cfg.Ollama.Model), logger)
	st, err := semantic.Backfill(ctx, index, store, semantic.BackfillOpts{
		PageSize: cfg.GraphCode.BatchSize,
		Workers:  cfg.GraphCode.Workers,
	}, logger)
	logger.Info("backfill done", "indexed", st.Indexed, "failed", st.Failed, "collection", cfg.Qdrant.Collection)
	return err
}
