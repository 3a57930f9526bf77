// Command graphcode exports the safety graph to files and restores it from
// them.
//
// Examples:
//
//	graphcode export --dir ./safety-graph
//	graphcode verify --archive graph.tar.zst
//	graphcode import --json graph.json --strict --yes
//	graphcode stats
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/pkg/config"
	"github.com/WessleyAI/safety-workbench/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(connect, os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect opens Neo4j and builds the graph-as-code service from cfg.
func connect(ctx context.Context, cfg config.Config) (*backend, error) {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := tracing.Setup(cfg.Tracing.ServiceName, cfg.Tracing.Enabled, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		shutdownTracing(ctx)
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	store := graph.New(driver, cfg.Neo4j.Database)

	opts := graphcode.DefaultOptions
	opts.BatchSize = cfg.GraphCode.BatchSize
	opts.Workers = cfg.GraphCode.Workers
	opts.Retry.MaxAttempts = cfg.GraphCode.RetryAttempts
	opts.Strict = cfg.GraphCode.Strict

	return &backend{
		code:  graphcode.New(store.Opener(), opts, graphcode.WithLogger(logger)),
		stats: store,
		close: func(ctx context.Context) error {
			err := driver.Close(ctx)
			shutdownTracing(ctx)
			return err
		},
	}, nil
}
