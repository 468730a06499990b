package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"telesis/internal/model"
)

// Executor is the injected migration-executor capability.
type Executor interface {
	Execute(ctx context.Context, task model.MigrationTask) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task model.MigrationTask) error

func (f ExecutorFunc) Execute(ctx context.Context, task model.MigrationTask) error {
	return f(ctx, task)
}

// RollbackExecutor is implemented by executors that can restore a migrated
// target from its backup reference.
type RollbackExecutor interface {
	Rollback(ctx context.Context, task model.MigrationTask) error
}

// TargetVerifier reports whether a migration source target exists. When nil,
// target verification is skipped.
type TargetVerifier func(target string) bool

type Config struct {
	MaxConcurrentMigrations int
	RetryAttempts           int
}

func (c *Config) validate() error {
	if c.MaxConcurrentMigrations <= 0 {
		return &model.ConfigurationError{Field: "max_concurrent_migrations", Reason: "must be > 0"}
	}
	if c.RetryAttempts < 0 {
		return &model.ConfigurationError{Field: "retry_attempts", Reason: "must be >= 0"}
	}
	return nil
}

// TaskDescriptor is the caller-supplied shape of a migration task.
type TaskDescriptor struct {
	ID                       string   `json:"id" mapstructure:"id"`
	Target                   string   `json:"target" mapstructure:"target"`
	Priority                 int      `json:"priority" mapstructure:"priority"`
	Dependencies             []string `json:"dependencies,omitempty" mapstructure:"dependencies"`
	EstimatedMemoryKB        float64  `json:"estimated_memory_kb" mapstructure:"estimated_memory_kb"`
	EstimatedDurationMinutes float64  `json:"estimated_duration_minutes" mapstructure:"estimated_duration_minutes"`
}

// Scheduler owns the migration task list and every status transition on it.
// Tasks are never mutated externally and become immutable once terminal.
type Scheduler struct {
	cfg      Config
	executor Executor
	verifier TargetVerifier
	logger   *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*model.MigrationTask
	order []string
}

func NewScheduler(cfg Config, executor Executor, verifier TargetVerifier, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, &model.ConfigurationError{Field: "executor", Reason: "migration executor is required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		executor: executor,
		verifier: verifier,
		logger:   logger,
		tasks:    make(map[string]*model.MigrationTask),
	}, nil
}

// AddTask enqueues a task in PENDING state.
func (s *Scheduler) AddTask(desc TaskDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("task id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[desc.ID]; exists {
		return fmt.Errorf("task already enqueued: %s", desc.ID)
	}
	s.tasks[desc.ID] = &model.MigrationTask{
		ID:                       desc.ID,
		Target:                   desc.Target,
		Priority:                 desc.Priority,
		Dependencies:             append([]string(nil), desc.Dependencies...),
		Status:                   model.TaskPending,
		EstimatedMemoryKB:        desc.EstimatedMemoryKB,
		EstimatedDurationMinutes: desc.EstimatedDurationMinutes,
		CreatedAt:                time.Now().UTC(),
	}
	s.order = append(s.order, desc.ID)
	return nil
}

// ValidateTask rejects tasks whose declared dependency ids are unknown or
// whose source target is verified absent.
func (s *Scheduler) ValidateTask(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	for _, dep := range task.Dependencies {
		if _, known := s.tasks[dep]; !known {
			return &model.SchedulingError{TaskIDs: []string{id}, Reason: fmt.Sprintf("unknown dependency %s", dep)}
		}
	}
	if s.verifier != nil && !s.verifier(task.Target) {
		return fmt.Errorf("%w: task %s: target not found: %s", model.ErrTaskExecution, id, task.Target)
	}
	return nil
}

// Task returns a copy of the task with the given id.
func (s *Scheduler) Task(id string) (model.MigrationTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return model.MigrationTask{}, false
	}
	return *task, true
}

// Tasks returns copies of all tasks in enqueue order.
func (s *Scheduler) Tasks() []model.MigrationTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MigrationTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// CancelTask moves a PENDING task to CANCELLED.
func (s *Scheduler) CancelTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if task.Status != model.TaskPending {
		return fmt.Errorf("task %s is %s; only pending tasks can be cancelled", id, task.Status)
	}
	task.Status = model.TaskCancelled
	now := time.Now().UTC()
	task.CompletedAt = &now
	return nil
}

// RollbackTask restores a terminal task from its backup reference.
func (s *Scheduler) RollbackTask(ctx context.Context, id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task: %s", id)
	}
	if !task.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("task %s is %s; only terminal tasks can be rolled back", id, task.Status)
	}
	snapshot := *task
	s.mu.Unlock()

	if rollbacker, ok := s.executor.(RollbackExecutor); ok && snapshot.BackupRef != "" {
		if err := rollbacker.Rollback(ctx, snapshot); err != nil {
			return fmt.Errorf("rollback task %s: %w", id, err)
		}
	}

	s.mu.Lock()
	task.Status = model.TaskRolledBack
	s.mu.Unlock()

	s.logger.Info("task rolled back",
		zap.String("task_id", id),
		zap.String("backup_ref", snapshot.BackupRef))
	return nil
}

// ExecutePlan runs every batch of the current execution plan in order. Batch
// k+1 never starts until every task in batch k is terminal.
func (s *Scheduler) ExecutePlan(ctx context.Context) error {
	batches, planErr := s.CreateExecutionPlan()
	for _, batch := range batches {
		if err := s.ExecuteBatch(ctx, batch); err != nil {
			return err
		}
	}
	return planErr
}

// ExecuteBatch runs one batch with concurrency capped at
// MaxConcurrentMigrations. Per-task failures are retried and then contained;
// only infrastructure errors (context cancellation) surface.
func (s *Scheduler) ExecuteBatch(ctx context.Context, batch []string) error {
	runnable := make([]string, 0, len(batch))
	for _, id := range batch {
		if s.markInProgress(id) {
			runnable = append(runnable, id)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxConcurrentMigrations)
	for _, id := range runnable {
		id := id
		group.Go(func() error {
			s.runTask(groupCtx, id)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// markInProgress transitions a task to IN_PROGRESS if it is PENDING and all
// of its dependencies completed. A task with an unresolved dependency never
// reaches IN_PROGRESS.
func (s *Scheduler) markInProgress(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != model.TaskPending {
		return false
	}
	for _, dep := range task.Dependencies {
		depTask, known := s.tasks[dep]
		if !known || depTask.Status != model.TaskCompleted {
			return false
		}
	}
	task.Status = model.TaskInProgress
	now := time.Now().UTC()
	task.StartedAt = &now
	task.BackupRef = "backup:" + uuid.NewString()
	return true
}

func (s *Scheduler) runTask(ctx context.Context, id string) {
	s.mu.RLock()
	snapshot := *s.tasks[id]
	s.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		snapshot.RetryCount = attempt
		lastErr = s.executor.Execute(ctx, snapshot)
		if lastErr == nil {
			break
		}
		s.logger.Warn("migration attempt failed",
			zap.String("task_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	s.mu.Lock()
	task := s.tasks[id]
	task.RetryCount = snapshot.RetryCount
	now := time.Now().UTC()
	task.CompletedAt = &now
	if lastErr == nil {
		task.Status = model.TaskCompleted
	} else {
		task.Status = model.TaskFailed
		task.Error = fmt.Errorf("%w: %v", model.ErrTaskExecution, lastErr).Error()
	}
	status := task.Status
	s.mu.Unlock()

	s.logger.Info("migration task finished",
		zap.String("task_id", id),
		zap.String("status", string(status)),
		zap.Int("retry_count", snapshot.RetryCount))
}
