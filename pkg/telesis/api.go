// Package telesis is the embedding surface of the evolution control plane:
// it wires the checkpoint store, fitness scorer, evolution engine, adaptation
// analyzer and migration scheduler behind one client.
package telesis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"telesis/internal/adaptation"
	"telesis/internal/engine"
	"telesis/internal/fitness"
	"telesis/internal/migration"
	"telesis/internal/model"
	"telesis/internal/storage"
)

const defaultDBPath = "telesis.db"

type Options struct {
	// StoreKind selects the checkpoint backend: memory, sqlite or file.
	StoreKind string
	// StorePath is the sqlite database path or file-store directory.
	StorePath string
	// Fitness overrides the canonical scoring policy when non-zero.
	Fitness fitness.Config
	Logger  *zap.Logger
}

type Client struct {
	store    storage.Store
	scorer   *fitness.Scorer
	analyzer *adaptation.Analyzer
	logger   *zap.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	path := opts.StorePath
	if path == "" && opts.StoreKind == "sqlite" {
		path = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	cfg := opts.Fitness
	if len(cfg.Weights) == 0 {
		cfg = fitness.DefaultConfig()
	}
	scorer, err := fitness.NewScorer(cfg)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		store:    store,
		scorer:   scorer,
		analyzer: adaptation.NewAnalyzer(),
		logger:   logger,
	}, nil
}

type RunRequest struct {
	RunID                string
	PopulationSize       int
	MaxGenerations       int
	MemoryLimitKB        float64
	InstantiationLimitUS float64
	CheckpointInterval   int
	AutonomyTarget       float64
	TargetFitness        float64
	Seed                 int64
	Workers              int
	Evaluator            engine.Evaluator
}

type RunSummary struct {
	RunID               string
	Status              string
	GenerationsExecuted int
	BestFitness         float64
	History             []model.EvolutionMetrics
}

// RunEvolution initializes a fresh population and runs the generational loop
// to completion.
func (c *Client) RunEvolution(ctx context.Context, req RunRequest) (RunSummary, error) {
	eng, err := engine.New(engine.Config{
		RunID:                req.RunID,
		MaxGenerations:       req.MaxGenerations,
		PopulationSize:       req.PopulationSize,
		MemoryLimitKB:        req.MemoryLimitKB,
		InstantiationLimitUS: req.InstantiationLimitUS,
		CheckpointInterval:   req.CheckpointInterval,
		AutonomyTarget:       req.AutonomyTarget,
		Seed:                 req.Seed,
		Workers:              req.Workers,
	}, c.store, c.scorer, req.Evaluator, c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	if err := eng.Initialize(ctx); err != nil {
		return RunSummary{}, err
	}
	if err := eng.StartEvolution(ctx, req.TargetFitness); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:               req.RunID,
		Status:              string(eng.Status()),
		GenerationsExecuted: eng.CurrentGeneration(),
		History:             eng.History(),
	}
	if best, ok := eng.BestGenome(); ok {
		summary.BestFitness = best.Fitness
	}
	return summary, nil
}

type MigrateRequest struct {
	Tasks         []migration.TaskDescriptor
	MaxConcurrent int
	RetryAttempts int
	Executor      migration.Executor
	Verifier      migration.TargetVerifier
}

type MigrateSummary struct {
	Batches       [][]string
	Unschedulable []string
	Progress      migration.Progress
}

// RunMigration enqueues the given tasks, plans and executes every batch.
// Unschedulable tasks are reported in the summary rather than failing the
// whole run.
func (c *Client) RunMigration(ctx context.Context, req MigrateRequest) (MigrateSummary, error) {
	scheduler, err := migration.NewScheduler(migration.Config{
		MaxConcurrentMigrations: req.MaxConcurrent,
		RetryAttempts:           req.RetryAttempts,
	}, req.Executor, req.Verifier, c.logger)
	if err != nil {
		return MigrateSummary{}, err
	}
	for _, task := range req.Tasks {
		if err := scheduler.AddTask(task); err != nil {
			return MigrateSummary{}, err
		}
	}

	batches, planErr := scheduler.CreateExecutionPlan()
	summary := MigrateSummary{Batches: batches}
	if planErr != nil {
		var schedErr *model.SchedulingError
		if !errors.As(planErr, &schedErr) {
			return MigrateSummary{}, planErr
		}
		summary.Unschedulable = schedErr.TaskIDs
	}

	for _, batch := range batches {
		if err := scheduler.ExecuteBatch(ctx, batch); err != nil {
			return MigrateSummary{}, err
		}
	}
	summary.Progress = scheduler.Progress()
	return summary, nil
}

// Analyze runs the adaptation analyzer for one agent.
func (c *Client) Analyze(agentID string, state map[string]float64, environment string) model.AdaptationResult {
	return c.analyzer.Analyze(agentID, state, environment)
}

// Checkpoints lists stored checkpoints in write order.
func (c *Client) Checkpoints(ctx context.Context) ([]model.Checkpoint, error) {
	return c.store.ListCheckpoints(ctx)
}

// LatestCheckpoint returns the most recently written checkpoint.
func (c *Client) LatestCheckpoint(ctx context.Context) (model.Checkpoint, bool, error) {
	return c.store.LatestCheckpoint(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}
