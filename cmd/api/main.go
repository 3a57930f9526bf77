// Package main implements the safety workbench API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/events"
	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/engine/semantic"
	"github.com/WessleyAI/safety-workbench/pkg/config"
	"github.com/WessleyAI/safety-workbench/pkg/metrics"
	"github.com/WessleyAI/safety-workbench/pkg/mid"
	"github.com/WessleyAI/safety-workbench/pkg/ollama"
	"github.com/WessleyAI/safety-workbench/pkg/tracing"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	cfg, err := config.Load(os.Getenv("SAFETY_CONFIG"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(cfg.Tracing.ServiceName, cfg.Tracing.Enabled, os.Stderr)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(context.Background())

	reg := metrics.New()
	store := graph.New(driver, cfg.Neo4j.Database)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn("neo4j schema", "err", err)
	}

	opts := graphcode.DefaultOptions
	opts.BatchSize = cfg.GraphCode.BatchSize
	opts.Workers = cfg.GraphCode.Workers
	opts.Retry.MaxAttempts = cfg.GraphCode.RetryAttempts
	opts.Strict = cfg.GraphCode.Strict
	code := graphcode.New(store.Opener(), opts, graphcode.WithLogger(logger), graphcode.WithMetrics(reg))

	// --- Change events (optional) ---
	var pub events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Tracing.ServiceName))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		pub = events.NewNATS(nc, cfg.NATS.Subject, logger)
	}

	// --- Similar-failure index (optional) ---
	index, closeIndex, err := newIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIndex.Close()

	srv := newServer(store, code, index, pub, logger)
	handler := mid.Chain(srv.routes(reg),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel(cfg.Tracing.ServiceName),
		mid.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		mid.Metrics(reg),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newIndex connects the similar-failure index when Qdrant is configured.
// An unreachable Qdrant at startup is logged, not fatal.
func newIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (semantic.Index, io.Closer, error) {
	if cfg.Qdrant.Addr == "" {
		logger.Info("similar-failure search disabled")
		return semantic.Disabled{}, nopCloser{}, nil
	}
	vectors, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant connect: %w", err)
	}
	if err := vectors.EnsureCollection(ctx, cfg.Qdrant.Dim); err != nil {
		logger.Warn("qdrant collection", "collection", cfg.Qdrant.Collection, "err", err)
	}
	embed := ollama.NewEmbedClient(cfg.Ollama.URL, cfg.Ollama.Model)
	return semantic.NewFailureIndex(vectors, embed, logger), vectors, nil
}
