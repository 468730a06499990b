package storage

import (
	"context"
	"sync"

	"telesis/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]model.Checkpoint
	order       []string
	history     map[string][]model.EvolutionMetrics
}

// NewMemoryStore returns a store that is usable immediately; Init and Reset
// clear it.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]model.Checkpoint),
		history:     make(map[string][]model.EvolutionMetrics),
	}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints = make(map[string]model.Checkpoint)
	s.order = nil
	s.history = make(map[string][]model.EvolutionMetrics)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[checkpoint.ID]; exists {
		return ErrCheckpointExists
	}
	s.checkpoints[checkpoint.ID] = copyCheckpoint(checkpoint)
	s.order = append(s.order, checkpoint.ID)
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return copyCheckpoint(checkpoint), true, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return model.Checkpoint{}, false, nil
	}
	latest := s.checkpoints[s.order[len(s.order)-1]]
	return copyCheckpoint(latest), true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Checkpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyCheckpoint(s.checkpoints[id]))
	}
	return out, nil
}

func (s *MemoryStore) SaveMetricsHistory(_ context.Context, runID string, history []model.EvolutionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.EvolutionMetrics, len(history))
	copy(copied, history)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetMetricsHistory(_ context.Context, runID string) ([]model.EvolutionMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EvolutionMetrics, len(history))
	copy(copied, history)
	return copied, true, nil
}

func copyCheckpoint(c model.Checkpoint) model.Checkpoint {
	out := c
	out.Population = make([]model.Genome, len(c.Population))
	for i, genome := range c.Population {
		out.Population[i] = genome.Clone(genome.ID)
	}
	if c.BestGenome != nil {
		best := c.BestGenome.Clone(c.BestGenome.ID)
		out.BestGenome = &best
	}
	return out
}
