package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telesis/internal/fitness"
	"telesis/internal/model"
	"telesis/internal/storage"
)

type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusRunning    Status = "RUNNING"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Evaluator is the injected genome-evaluator capability. The engine never
// embeds domain-specific evaluation logic.
type Evaluator interface {
	Evaluate(ctx context.Context, genome model.Genome) (map[string]float64, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, genome model.Genome) (map[string]float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, genome model.Genome) (map[string]float64, error) {
	return f(ctx, genome)
}

type Config struct {
	RunID                string
	MaxGenerations       int
	PopulationSize       int
	MemoryLimitKB        float64
	InstantiationLimitUS float64
	CheckpointInterval   int
	AutonomyTarget       float64
	Seed                 int64
	Workers              int
	MutationRate         float64
	CrossoverRate        float64
	Bounds               model.GeneBounds
}

func (c *Config) validate() error {
	if c.MaxGenerations <= 0 {
		return &model.ConfigurationError{Field: "max_generations", Reason: "must be > 0"}
	}
	if c.PopulationSize < 2 {
		return &model.ConfigurationError{Field: "population_size", Reason: "must be >= 2"}
	}
	if c.MemoryLimitKB <= 0 {
		return &model.ConfigurationError{Field: "memory_limit_kb", Reason: "must be > 0"}
	}
	if c.InstantiationLimitUS <= 0 {
		return &model.ConfigurationError{Field: "instantiation_limit_us", Reason: "must be > 0"}
	}
	if c.CheckpointInterval <= 0 {
		return &model.ConfigurationError{Field: "checkpoint_interval", Reason: "must be > 0"}
	}
	if c.AutonomyTarget <= 0 {
		return &model.ConfigurationError{Field: "autonomy_target", Reason: "must be > 0"}
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 0.1
	}
	if c.CrossoverRate <= 0 {
		c.CrossoverRate = 0.9
	}
	if len(c.Bounds.Activations) == 0 {
		c.Bounds = model.DefaultGeneBounds()
	}
	if err := c.Bounds.Validate(); err != nil {
		return &model.ConfigurationError{Field: "gene_bounds", Reason: err.Error()}
	}
	if c.RunID == "" {
		c.RunID = fmt.Sprintf("run:%d", c.Seed)
	}
	return nil
}

// Engine owns the generational loop over one population. It is an explicit
// object owned by the caller; each run carries its own seedable random source
// so offspring composition is reproducible under a fixed seed.
type Engine struct {
	cfg       Config
	store     storage.Store
	scorer    *fitness.Scorer
	evaluator Evaluator
	logger    *zap.Logger

	mu         sync.RWMutex
	cond       *sync.Cond
	rng        *rand.Rand
	status     Status
	population []model.Genome
	generation int
	best       *model.Genome
	history    []model.EvolutionMetrics

	stopRequested  bool
	pauseRequested bool
}

func New(cfg Config, store storage.Store, scorer *fitness.Scorer, evaluator Evaluator, logger *zap.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &model.ConfigurationError{Field: "store", Reason: "checkpoint store is required"}
	}
	if scorer == nil {
		return nil, &model.ConfigurationError{Field: "scorer", Reason: "fitness scorer is required"}
	}
	if evaluator == nil {
		return nil, &model.ConfigurationError{Field: "evaluator", Reason: "genome evaluator is required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		scorer:    scorer,
		evaluator: evaluator,
		logger:    logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		status:    StatusIdle,
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// Initialize builds exactly PopulationSize genomes with genes sampled within
// the configured bounds and transitions the engine to IDLE.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning || e.status == StatusPaused {
		return fmt.Errorf("engine is running; stop it before reinitializing")
	}

	population := make([]model.Genome, 0, e.cfg.PopulationSize)
	for i := 0; i < e.cfg.PopulationSize; i++ {
		population = append(population, model.Genome{
			VersionedRecord: storage.Stamp(),
			ID:              uuid.NewString(),
			Genes:           randomGenes(e.rng, e.cfg.Bounds),
		})
	}

	e.population = population
	e.generation = 0
	e.best = nil
	e.history = nil
	e.status = StatusIdle
	e.stopRequested = false
	e.pauseRequested = false

	e.logger.Info("population initialized",
		zap.String("run_id", e.cfg.RunID),
		zap.Int("population_size", len(population)))
	return nil
}

// StartEvolution runs up to MaxGenerations rounds of evaluate, select,
// crossover and mutate, terminating early once the best safe fitness reaches
// targetFitness. Isolated per-genome evaluation failures never abort a round.
func (e *Engine) StartEvolution(ctx context.Context, targetFitness float64) error {
	e.mu.Lock()
	if e.status == StatusRunning || e.status == StatusPaused {
		e.mu.Unlock()
		return fmt.Errorf("evolution already in progress")
	}
	if len(e.population) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("population is empty; call Initialize first")
	}
	e.status = StatusRunning
	startGeneration := e.generation
	e.mu.Unlock()

	// Wake a paused boundary wait when the context dies; otherwise a paused
	// run with a cancelled context would block until Resume or EmergencyStop.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			e.cond.Broadcast()
		case <-watcherDone:
		}
	}()

	for round := 0; round < e.cfg.MaxGenerations; round++ {
		if stopped, err := e.generationBoundary(ctx); stopped || err != nil {
			return err
		}

		e.mu.RLock()
		population := append([]model.Genome(nil), e.population...)
		generation := e.generation
		history := append([]model.EvolutionMetrics(nil), e.history...)
		e.mu.RUnlock()

		scored := e.evaluatePopulation(ctx, population, generation, history)

		// Full barrier: selection and crossover only run once every
		// evaluation in this generation has finished.
		if stopped, err := e.generationBoundary(ctx); stopped || err != nil {
			return err
		}

		bestSafe := e.promoteBest(scored)
		nextGeneration := generation + 1

		e.mu.Lock()
		for i := range scored {
			e.population[i] = scored[i].genome
		}
		e.generation = nextGeneration
		entry := model.EvolutionMetrics{
			Generation:    nextGeneration,
			BestFitness:   bestSafe,
			AutonomyLevel: clamp01(bestSafe / 100),
			Timestamp:     time.Now().UTC(),
		}
		e.history = append(e.history, entry)
		historySnapshot := append([]model.EvolutionMetrics(nil), e.history...)
		e.mu.Unlock()

		if err := e.store.SaveMetricsHistory(ctx, e.cfg.RunID, historySnapshot); err != nil {
			e.logger.Warn("metrics history persist failed", zap.Error(err))
		}

		if nextGeneration%e.cfg.CheckpointInterval == 0 {
			if err := e.writeCheckpoint(ctx, model.CheckpointPeriodic); err != nil {
				e.logger.Warn("periodic checkpoint failed", zap.Error(err))
			}
		}

		e.logger.Info("generation complete",
			zap.String("run_id", e.cfg.RunID),
			zap.Int("generation", nextGeneration),
			zap.Float64("best_fitness", bestSafe),
			zap.Float64("autonomy_level", entry.AutonomyLevel))

		if bestSafe >= targetFitness {
			e.setStatus(StatusCompleted)
			e.logger.Info("target fitness reached",
				zap.Float64("target", targetFitness),
				zap.Float64("best_fitness", bestSafe))
			return nil
		}
		if round == e.cfg.MaxGenerations-1 {
			break
		}

		next, err := e.breedNextGeneration(scored, nextGeneration)
		if err != nil {
			e.setStatus(StatusFailed)
			return fmt.Errorf("%w: generation %d: %v", model.ErrEngineFatal, nextGeneration, err)
		}

		e.mu.Lock()
		e.population = next
		e.mu.Unlock()
	}

	e.setStatus(StatusCompleted)
	e.logger.Info("evolution completed",
		zap.Int("generations_executed", e.CurrentGeneration()-startGeneration))
	return nil
}

// EmergencyStop halts the run before the next generation step. It is safe to
// call concurrently with an in-flight generation: it acts as a cancellation
// point at the generation boundary rather than forced preemption. When no run
// is in flight the emergency checkpoint is written immediately.
func (e *Engine) EmergencyStop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning || e.status == StatusPaused {
		e.stopRequested = true
		e.cond.Broadcast()
		return nil
	}
	return e.performEmergencyStopLocked(context.Background())
}

// Pause suspends the run at the next generation boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		e.pauseRequested = true
	}
}

// Resume releases a paused run.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = false
	if e.status == StatusPaused {
		e.status = StatusRunning
	}
	e.cond.Broadcast()
}

// Rollback restores the generation counter and population from the most
// recent checkpoint. It is callable regardless of current status.
func (e *Engine) Rollback(ctx context.Context) error {
	checkpoint, ok, err := e.store.LatestCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load latest checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("no checkpoint available for rollback")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation = checkpoint.Generation
	e.population = make([]model.Genome, len(checkpoint.Population))
	for i, genome := range checkpoint.Population {
		e.population[i] = genome.Clone(genome.ID)
	}
	e.best = nil
	if checkpoint.BestGenome != nil {
		best := checkpoint.BestGenome.Clone(checkpoint.BestGenome.ID)
		e.best = &best
	}
	e.status = StatusRolledBack

	e.logger.Info("rolled back to checkpoint",
		zap.String("checkpoint_id", checkpoint.ID),
		zap.Int("generation", checkpoint.Generation),
		zap.Int("population_size", len(e.population)))
	return nil
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) CurrentGeneration() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// BestGenome returns the best safety-compliant genome observed so far.
func (e *Engine) BestGenome() (model.Genome, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.best == nil {
		return model.Genome{}, false
	}
	return e.best.Clone(e.best.ID), true
}

func (e *Engine) History() []model.EvolutionMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.EvolutionMetrics(nil), e.history...)
}

// Population returns a snapshot of the live population.
func (e *Engine) Population() []model.Genome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Genome, len(e.population))
	for i, genome := range e.population {
		out[i] = genome.Clone(genome.ID)
	}
	return out
}

// generationBoundary is the cooperative suspension point between generation
// steps: it honors pause, emergency stop and context cancellation. The
// returned bool reports that the run ended here.
func (e *Engine) generationBoundary(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.pauseRequested && !e.stopRequested && ctx.Err() == nil {
		e.status = StatusPaused
		e.cond.Wait()
	}
	if e.status == StatusPaused {
		e.status = StatusRunning
	}

	if e.stopRequested {
		if err := e.performEmergencyStopLocked(ctx); err != nil {
			return true, err
		}
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		e.status = StatusFailed
		return true, err
	}
	return false, nil
}

func (e *Engine) performEmergencyStopLocked(ctx context.Context) error {
	checkpoint := e.buildCheckpointLocked(model.CheckpointEmergency)
	if err := e.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		e.status = StatusFailed
		e.stopRequested = false
		return fmt.Errorf("emergency checkpoint: %w", err)
	}
	e.population = nil
	e.status = StatusRolledBack
	e.stopRequested = false
	e.pauseRequested = false
	e.logger.Warn("emergency stop executed",
		zap.String("checkpoint_id", checkpoint.ID),
		zap.Int("generation", checkpoint.Generation))
	return nil
}

func (e *Engine) writeCheckpoint(ctx context.Context, kind model.CheckpointKind) error {
	e.mu.RLock()
	checkpoint := e.buildCheckpointLocked(kind)
	e.mu.RUnlock()
	return e.store.SaveCheckpoint(ctx, checkpoint)
}

func (e *Engine) buildCheckpointLocked(kind model.CheckpointKind) model.Checkpoint {
	population := make([]model.Genome, len(e.population))
	for i, genome := range e.population {
		population[i] = genome.Clone(genome.ID)
	}
	var best *model.Genome
	if e.best != nil {
		cloned := e.best.Clone(e.best.ID)
		best = &cloned
	}
	return model.Checkpoint{
		VersionedRecord: storage.Stamp(),
		ID:              uuid.NewString(),
		Generation:      e.generation,
		Population:      population,
		BestGenome:      best,
		Kind:            kind,
		Timestamp:       time.Now().UTC(),
	}
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
