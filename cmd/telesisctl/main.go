package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"go.uber.org/zap"

	"telesis/internal/engine"
	"telesis/internal/migration"
	"telesis/internal/model"
	"telesis/pkg/telesis"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runEvolution(ctx, args[1:])
	case "migrate":
		return runMigration(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: telesisctl <run|migrate|checkpoints|analyze> [flags]", msg)
}

func runEvolution(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "run configuration file (yaml or json)")
	store := fs.String("store", "memory", "checkpoint store backend: memory|sqlite|file")
	storePath := fs.String("store-path", "", "sqlite path or file-store directory")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := defaultRunRequest()
	if *configPath != "" {
		loaded, err := loadRunRequest(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}

	logger, err := buildLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := telesis.New(ctx, telesis.Options{
		StoreKind: *store,
		StorePath: *storePath,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	// The control plane never embeds evaluation logic; this demo evaluator
	// stands in for the real agent pipeline.
	req.Evaluator = demoEvaluator(req.Seed)

	summary, err := client.RunEvolution(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runMigration(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	tasksPath := fs.String("tasks", "", "task descriptor file (yaml or json)")
	concurrency := fs.Int("concurrency", 2, "max concurrent migrations")
	retries := fs.Int("retries", 3, "retry attempts per task")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tasksPath == "" {
		return fmt.Errorf("-tasks is required")
	}

	tasks, err := loadTaskDescriptors(*tasksPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := telesis.New(ctx, telesis.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	summary, err := client.RunMigration(ctx, telesis.MigrateRequest{
		Tasks:         tasks,
		MaxConcurrent: *concurrency,
		RetryAttempts: *retries,
		Executor:      demoExecutor(),
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	store := fs.String("store", "sqlite", "checkpoint store backend: memory|sqlite|file")
	storePath := fs.String("store-path", "", "sqlite path or file-store directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := telesis.New(ctx, telesis.Options{StoreKind: *store, StorePath: *storePath})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	checkpoints, err := client.Checkpoints(ctx)
	if err != nil {
		return err
	}
	type item struct {
		ID         string `json:"id"`
		Generation int    `json:"generation"`
		Kind       string `json:"kind"`
		Population int    `json:"population"`
		Timestamp  string `json:"timestamp"`
	}
	items := make([]item, 0, len(checkpoints))
	for _, cp := range checkpoints {
		items = append(items, item{
			ID:         cp.ID,
			Generation: cp.Generation,
			Kind:       string(cp.Kind),
			Population: len(cp.Population),
			Timestamp:  cp.Timestamp.Format("2006-01-02T15:04:05Z"),
		})
	}
	return printJSON(items)
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id")
	environment := fs.String("env", "stable", "environment tag")
	statePath := fs.String("state", "", "agent state file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("-agent is required")
	}

	state := map[string]float64{}
	if *statePath != "" {
		loaded, err := loadAgentState(*statePath)
		if err != nil {
			return err
		}
		state = loaded
	}

	client, err := telesis.New(context.Background(), telesis.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return printJSON(client.Analyze(*agentID, state, *environment))
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// demoEvaluator simulates a monotonically improving, constraint-respecting
// agent pipeline so runs terminate without external collaborators. The engine
// calls it from its worker pool, so the shared rng and call counter sit
// behind a mutex.
func demoEvaluator(seed int64) engine.Evaluator {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	calls := 0
	return engine.EvaluatorFunc(func(_ context.Context, _ model.Genome) (map[string]float64, error) {
		mu.Lock()
		defer mu.Unlock()

		calls++
		progress := float64(calls) / 50.0
		if progress > 1 {
			progress = 1
		}
		return map[string]float64{
			"speed":            40 + 50*progress + rng.Float64()*10,
			"accuracy":         50 + 40*progress + rng.Float64()*10,
			"test_coverage":    60 + 30*progress,
			"error_rate":       10 * (1 - progress),
			"uptime":           90 + 9*progress,
			"memory_kb":        4 + rng.Float64()*2,
			"instantiation_us": 1 + rng.Float64()*1.5,
		}, nil
	})
}

// demoExecutor succeeds unconditionally; replace with a real migration
// executor when embedding.
func demoExecutor() migration.Executor {
	return migration.ExecutorFunc(func(_ context.Context, _ model.MigrationTask) error {
		return nil
	})
}
