package model

import (
	"fmt"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genes holds the structured parameters of one candidate agent configuration.
type Genes struct {
	LayerSizes   []int   `json:"layer_sizes"`
	Activation   string  `json:"activation"`
	LearningRate float64 `json:"learning_rate"`
	Dropout      float64 `json:"dropout"`
	Optimizer    string  `json:"optimizer"`
}

// Genome is a candidate configuration plus its evaluated fitness and runtime
// metrics. Metrics are populated only after evaluation; a persisted genome is
// never mutated.
type Genome struct {
	VersionedRecord
	ID         string             `json:"id"`
	Genes      Genes              `json:"genes"`
	Fitness    float64            `json:"fitness"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Generation int                `json:"generation"`
}

// Clone returns a deep copy with a fresh identifier.
func (g Genome) Clone(id string) Genome {
	out := g
	out.ID = id
	out.Genes.LayerSizes = append([]int(nil), g.Genes.LayerSizes...)
	if g.Metrics != nil {
		out.Metrics = make(map[string]float64, len(g.Metrics))
		for k, v := range g.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

// GeneBounds declares the valid range for every gene.
type GeneBounds struct {
	MinLayers       int      `json:"min_layers"`
	MaxLayers       int      `json:"max_layers"`
	MinLayerWidth   int      `json:"min_layer_width"`
	MaxLayerWidth   int      `json:"max_layer_width"`
	Activations     []string `json:"activations"`
	Optimizers      []string `json:"optimizers"`
	MinLearningRate float64  `json:"min_learning_rate"`
	MaxLearningRate float64  `json:"max_learning_rate"`
	MinDropout      float64  `json:"min_dropout"`
	MaxDropout      float64  `json:"max_dropout"`
}

func DefaultGeneBounds() GeneBounds {
	return GeneBounds{
		MinLayers:       1,
		MaxLayers:       5,
		MinLayerWidth:   4,
		MaxLayerWidth:   256,
		Activations:     []string{"relu", "tanh", "sigmoid", "gelu"},
		Optimizers:      []string{"sgd", "adam", "rmsprop"},
		MinLearningRate: 1e-5,
		MaxLearningRate: 1e-1,
		MinDropout:      0.0,
		MaxDropout:      0.5,
	}
}

func (b GeneBounds) Validate() error {
	if b.MinLayers < 1 || b.MaxLayers < b.MinLayers {
		return fmt.Errorf("invalid layer count bounds: [%d, %d]", b.MinLayers, b.MaxLayers)
	}
	if b.MinLayerWidth < 1 || b.MaxLayerWidth < b.MinLayerWidth {
		return fmt.Errorf("invalid layer width bounds: [%d, %d]", b.MinLayerWidth, b.MaxLayerWidth)
	}
	if len(b.Activations) == 0 {
		return fmt.Errorf("at least one activation kind is required")
	}
	if len(b.Optimizers) == 0 {
		return fmt.Errorf("at least one optimizer kind is required")
	}
	if b.MinLearningRate <= 0 || b.MaxLearningRate < b.MinLearningRate {
		return fmt.Errorf("invalid learning rate bounds: [%g, %g]", b.MinLearningRate, b.MaxLearningRate)
	}
	if b.MinDropout < 0 || b.MaxDropout < b.MinDropout || b.MaxDropout >= 1 {
		return fmt.Errorf("invalid dropout bounds: [%g, %g]", b.MinDropout, b.MaxDropout)
	}
	return nil
}

// Within reports whether every gene lies inside the declared bounds.
func (g Genes) Within(b GeneBounds) bool {
	if len(g.LayerSizes) < b.MinLayers || len(g.LayerSizes) > b.MaxLayers {
		return false
	}
	for _, width := range g.LayerSizes {
		if width < b.MinLayerWidth || width > b.MaxLayerWidth {
			return false
		}
	}
	if !containsString(b.Activations, g.Activation) {
		return false
	}
	if !containsString(b.Optimizers, g.Optimizer) {
		return false
	}
	if g.LearningRate < b.MinLearningRate || g.LearningRate > b.MaxLearningRate {
		return false
	}
	if g.Dropout < b.MinDropout || g.Dropout > b.MaxDropout {
		return false
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

// EvolutionMetrics is one append-only history entry per generation.
type EvolutionMetrics struct {
	Generation    int       `json:"generation"`
	BestFitness   float64   `json:"best_fitness"`
	AutonomyLevel float64   `json:"autonomy_level"`
	Timestamp     time.Time `json:"timestamp"`
}

type CheckpointKind string

const (
	CheckpointPeriodic  CheckpointKind = "periodic"
	CheckpointEmergency CheckpointKind = "emergency"
)

// Checkpoint is a write-once snapshot of engine state. Rollback reads the
// latest (or a chosen) checkpoint; checkpoints are never mutated in place.
type Checkpoint struct {
	VersionedRecord
	ID         string         `json:"id"`
	Generation int            `json:"generation"`
	Population []Genome       `json:"population"`
	BestGenome *Genome        `json:"best_genome,omitempty"`
	Kind       CheckpointKind `json:"kind"`
	Timestamp  time.Time      `json:"timestamp"`
}

type FitnessClass string

const (
	ClassElite     FitnessClass = "elite"
	ClassBreeder   FitnessClass = "breeder"
	ClassMutable   FitnessClass = "mutable"
	ClassEliminate FitnessClass = "eliminate"
)

// FitnessResult is created per evaluation call and never mutated after return.
type FitnessResult struct {
	AgentID         string             `json:"agent_id"`
	ComponentScores map[string]float64 `json:"component_scores"`
	TotalFitness    float64            `json:"total_fitness"`
	Class           FitnessClass       `json:"class"`
	Strengths       []string           `json:"strengths,omitempty"`
	Weaknesses      []string           `json:"weaknesses,omitempty"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyIncremental  Strategy = "incremental"
	StrategyConservative Strategy = "conservative"
	StrategyAdaptive     Strategy = "adaptive"
)

type MutationRecommendation struct {
	Type                string    `json:"type"`
	Priority            int       `json:"priority"`
	RiskLevel           RiskLevel `json:"risk_level"`
	ExpectedImprovement float64   `json:"expected_improvement"`
}

type AdaptationResult struct {
	AgentID              string                   `json:"agent_id"`
	Environment          string                   `json:"environment"`
	AdaptationScore      float64                  `json:"adaptation_score"`
	RecommendedMutations []MutationRecommendation `json:"recommended_mutations"`
	Risk                 RiskLevel                `json:"risk"`
	Strategy             Strategy                 `json:"strategy"`
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
	TaskRolledBack TaskStatus = "ROLLED_BACK"
)

// Terminal reports whether no further transition is possible for a task in
// this status, short of an explicit rollback.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskRolledBack:
		return true
	default:
		return false
	}
}

// MigrationTask is created by the caller; status is owned exclusively by the
// scheduler and the task becomes immutable once terminal.
type MigrationTask struct {
	ID                       string     `json:"id"`
	Target                   string     `json:"target"`
	Priority                 int        `json:"priority"`
	Dependencies             []string   `json:"dependencies,omitempty"`
	Status                   TaskStatus `json:"status"`
	RetryCount               int        `json:"retry_count"`
	EstimatedMemoryKB        float64    `json:"estimated_memory_kb"`
	EstimatedDurationMinutes float64    `json:"estimated_duration_minutes"`
	CreatedAt                time.Time  `json:"created_at"`
	StartedAt                *time.Time `json:"started_at,omitempty"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	BackupRef                string     `json:"backup_ref,omitempty"`
	Error                    string     `json:"error,omitempty"`
}
