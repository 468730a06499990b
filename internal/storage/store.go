package storage

import (
	"context"
	"errors"

	"telesis/internal/model"
)

// ErrCheckpointExists enforces the write-once checkpoint contract: a stored
// checkpoint is immutable and may never be overwritten in place.
var ErrCheckpointExists = errors.New("checkpoint already exists")

// Store defines persistence operations for checkpoints and per-run metrics
// history. Checkpoint artifacts have a single writer and are immutable once
// written, so rollback is safe under concurrent readers.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context) (model.Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
	SaveMetricsHistory(ctx context.Context, runID string, history []model.EvolutionMetrics) error
	GetMetricsHistory(ctx context.Context, runID string) ([]model.EvolutionMetrics, bool, error)
}

// Resetter is implemented by backends that can drop all stored state.
type Resetter interface {
	Reset(ctx context.Context) error
}
