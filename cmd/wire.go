// File: cmd/wire.go
// Description: Component wiring shared by the commands. Builds the storage
// backends, the LLM stack and the workflow service from the loaded config.
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/config"
	"github.com/puntini/puntini/internal/extraction"
	"github.com/puntini/puntini/internal/graphstore"
	"github.com/puntini/puntini/internal/llmclient"
	"github.com/puntini/puntini/internal/oplog"
	"github.com/puntini/puntini/internal/runstore"
	"github.com/puntini/puntini/internal/validation"
	"github.com/puntini/puntini/internal/workflow"
)

// backends bundles the storage layer for one backend choice.
type backends struct {
	graph schemas.GraphStore
	runs  schemas.RunStore
	log   schemas.OperationLog
}

// buildBackends constructs the configured storage backend. The cleanup
// function releases backend resources and must be called on shutdown.
func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, func(), error) {
	switch cfg.Graph.Backend {
	case config.GraphBackendMemory:
		return &backends{
			graph: graphstore.NewInMemoryStore(logger),
			runs:  runstore.NewInMemoryRunStore(logger),
			log:   oplog.NewInMemoryLog(logger),
		}, func() {}, nil

	case config.GraphBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}

		graph, err := graphstore.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		runs, err := runstore.NewPostgresRunStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log, err := oplog.NewPostgresLog(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		for _, ensure := range []func(context.Context) error{graph.EnsureSchema, runs.EnsureSchema, log.EnsureSchema} {
			if err := ensure(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return &backends{graph: graph, runs: runs, log: log}, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
}

// buildService wires the full workflow stack.
func buildService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*workflow.Service, func(), error) {
	stores, cleanup, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry := workflow.NewRegistry(logger)
	extractor := extraction.NewPatchExtractor(llm, logger)
	tool := workflow.NewExtractorTool("patch_extractor", extraction.CapabilityName, extractor)
	if err := registry.Register(tool); err != nil {
		cleanup()
		return nil, nil, err
	}

	planner := workflow.NewLLMPlanner(llm, logger)
	pipeline := validation.New(stores.graph, logger)

	engine, err := workflow.NewEngine(cfg.Workflow, planner, registry, pipeline, stores.graph, stores.runs, stores.log, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	service, err := workflow.NewService(cfg.Workflow, engine, stores.runs, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return service, cleanup, nil
}
