package telesis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telesis/internal/engine"
	"telesis/internal/migration"
	"telesis/internal/model"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunEvolutionEndToEnd(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	evaluator := engine.EvaluatorFunc(func(_ context.Context, _ model.Genome) (map[string]float64, error) {
		return map[string]float64{
			"speed":            90,
			"accuracy":         90,
			"test_coverage":    90,
			"uptime":           99,
			"error_rate":       1,
			"memory_kb":        50,
			"instantiation_us": 100,
		}, nil
	})

	summary, err := client.RunEvolution(ctx, RunRequest{
		RunID:                "run:e2e",
		PopulationSize:       4,
		MaxGenerations:       3,
		MemoryLimitKB:        1024,
		InstantiationLimitUS: 500,
		CheckpointInterval:   1,
		AutonomyTarget:       0.5,
		TargetFitness:        80,
		Seed:                 1,
		Workers:              2,
		Evaluator:            evaluator,
	})
	require.NoError(t, err)

	assert.Equal(t, "run:e2e", summary.RunID)
	assert.Equal(t, string(engine.StatusCompleted), summary.Status)
	assert.Equal(t, 1, summary.GenerationsExecuted)
	assert.GreaterOrEqual(t, summary.BestFitness, 80.0)
	require.Len(t, summary.History, 1)

	// Interval 1 means the terminating generation checkpointed.
	checkpoints, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)

	latest, ok, err := client.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, checkpoints[0].ID, latest.ID)
	assert.Equal(t, model.CheckpointPeriodic, latest.Kind)
}

func TestRunEvolutionRejectsBadRequest(t *testing.T) {
	client := newTestClient(t)
	_, err := client.RunEvolution(context.Background(), RunRequest{})
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestRunMigrationReportsUnschedulableTasks(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.RunMigration(context.Background(), MigrateRequest{
		Tasks: []migration.TaskDescriptor{
			{ID: "a"},
			{ID: "b", Dependencies: []string{"a"}},
			{ID: "loop1", Dependencies: []string{"loop2"}},
			{ID: "loop2", Dependencies: []string{"loop1"}},
		},
		MaxConcurrent: 2,
		RetryAttempts: 0,
		Executor: migration.ExecutorFunc(func(_ context.Context, _ model.MigrationTask) error {
			return nil
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b"}}, summary.Batches)
	assert.Equal(t, []string{"loop1", "loop2"}, summary.Unschedulable)
	assert.Equal(t, 2, summary.Progress.Completed)
	assert.Equal(t, 2, summary.Progress.Pending)
}

func TestAnalyzeSmoke(t *testing.T) {
	client := newTestClient(t)
	result := client.Analyze("agent-1", map[string]float64{"complexity": 90, "test_coverage": 10}, "stable")

	assert.Equal(t, "agent-1", result.AgentID)
	assert.Equal(t, model.RiskHigh, result.Risk)
	assert.NotEmpty(t, result.RecommendedMutations)
}
