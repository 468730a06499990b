package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"telesis/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "checkpoints.db")
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(t.TempDir()),
		"sqlite": NewSQLiteStore(sqlitePath),
	}
	for name, store := range stores {
		if err := store.Init(context.Background()); err != nil {
			t.Fatalf("init %s store: %v", name, err)
		}
	}
	t.Cleanup(func() {
		for _, store := range stores {
			_ = CloseIfSupported(store)
		}
	})
	return stores
}

func makeCheckpoint(id string, generation int, kind model.CheckpointKind) model.Checkpoint {
	return model.Checkpoint{
		VersionedRecord: Stamp(),
		ID:              id,
		Generation:      generation,
		Kind:            kind,
		Population: []model.Genome{
			{
				VersionedRecord: Stamp(),
				ID:              id + ":g0",
				Genes:           model.Genes{LayerSizes: []int{16}, Activation: "relu", Optimizer: "adam", LearningRate: 0.01},
				Fitness:         61.5,
			},
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			saved := makeCheckpoint("cp1", 3, model.CheckpointPeriodic)
			if err := store.SaveCheckpoint(ctx, saved); err != nil {
				t.Fatalf("save checkpoint: %v", err)
			}

			loaded, ok, err := store.GetCheckpoint(ctx, "cp1")
			if err != nil {
				t.Fatalf("get checkpoint: %v", err)
			}
			if !ok {
				t.Fatal("checkpoint not found after save")
			}
			if loaded.Generation != 3 || loaded.Kind != model.CheckpointPeriodic {
				t.Fatalf("loaded checkpoint mismatch: gen=%d kind=%s", loaded.Generation, loaded.Kind)
			}
			if len(loaded.Population) != 1 || loaded.Population[0].Fitness != 61.5 {
				t.Fatalf("population did not survive the round trip: %+v", loaded.Population)
			}
		})
	}
}

func TestCheckpointsAreWriteOnce(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 1, model.CheckpointPeriodic)); err != nil {
				t.Fatalf("first save: %v", err)
			}
			err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 9, model.CheckpointEmergency))
			if !errors.Is(err, ErrCheckpointExists) {
				t.Fatalf("second save with same id: got %v, want ErrCheckpointExists", err)
			}

			loaded, _, err := store.GetCheckpoint(ctx, "cp1")
			if err != nil {
				t.Fatalf("get checkpoint: %v", err)
			}
			if loaded.Generation != 1 {
				t.Fatalf("original checkpoint was overwritten: gen=%d", loaded.Generation)
			}
		})
	}
}

func TestLatestCheckpointFollowsWriteOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := store.LatestCheckpoint(ctx); err != nil || ok {
				t.Fatalf("empty store latest: ok=%v err=%v", ok, err)
			}

			if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 5, model.CheckpointPeriodic)); err != nil {
				t.Fatalf("save cp1: %v", err)
			}
			// An emergency checkpoint at the same generation must win.
			if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp2", 5, model.CheckpointEmergency)); err != nil {
				t.Fatalf("save cp2: %v", err)
			}

			latest, ok, err := store.LatestCheckpoint(ctx)
			if err != nil || !ok {
				t.Fatalf("latest: ok=%v err=%v", ok, err)
			}
			if latest.ID != "cp2" || latest.Kind != model.CheckpointEmergency {
				t.Fatalf("latest = %s (%s), want cp2 (emergency)", latest.ID, latest.Kind)
			}

			all, err := store.ListCheckpoints(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 2 || all[0].ID != "cp1" || all[1].ID != "cp2" {
				t.Fatalf("list order wrong: %+v", all)
			}
		})
	}
}

func TestGetCheckpointMissing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.GetCheckpoint(context.Background(), "nope")
			if err != nil {
				t.Fatalf("missing checkpoint should not error: %v", err)
			}
			if ok {
				t.Fatal("missing checkpoint reported found")
			}
		})
	}
}

func TestMetricsHistoryRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := store.GetMetricsHistory(ctx, "run:1"); err != nil || ok {
				t.Fatalf("missing history: ok=%v err=%v", ok, err)
			}

			history := []model.EvolutionMetrics{
				{Generation: 1, BestFitness: 55.5, AutonomyLevel: 0.555, Timestamp: time.Now().UTC()},
				{Generation: 2, BestFitness: 61.0, AutonomyLevel: 0.61, Timestamp: time.Now().UTC()},
			}
			if err := store.SaveMetricsHistory(ctx, "run:1", history); err != nil {
				t.Fatalf("save history: %v", err)
			}
			// Histories are append-and-replace, not write-once.
			history = append(history, model.EvolutionMetrics{Generation: 3, BestFitness: 70})
			if err := store.SaveMetricsHistory(ctx, "run:1", history); err != nil {
				t.Fatalf("resave history: %v", err)
			}

			loaded, ok, err := store.GetMetricsHistory(ctx, "run:1")
			if err != nil || !ok {
				t.Fatalf("get history: ok=%v err=%v", ok, err)
			}
			if len(loaded) != 3 || loaded[2].BestFitness != 70 {
				t.Fatalf("history mismatch: %+v", loaded)
			}
		})
	}
}

func TestResetClearsStore(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 1, model.CheckpointPeriodic)); err != nil {
				t.Fatalf("save: %v", err)
			}

			resetter, ok := store.(Resetter)
			if !ok {
				t.Fatalf("%s store does not support reset", name)
			}
			if err := resetter.Reset(ctx); err != nil {
				t.Fatalf("reset: %v", err)
			}

			all, err := store.ListCheckpoints(ctx)
			if err != nil {
				t.Fatalf("list after reset: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("store not empty after reset: %d checkpoints", len(all))
			}
		})
	}
}

func TestMemoryStoreUsableWithoutInit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 1, model.CheckpointPeriodic)); err != nil {
		t.Fatalf("save on fresh store: %v", err)
	}
	if err := store.SaveMetricsHistory(ctx, "run:1", []model.EvolutionMetrics{{Generation: 1}}); err != nil {
		t.Fatalf("save history on fresh store: %v", err)
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "cp1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Generation != 1 {
		t.Fatalf("generation = %d, want 1", loaded.Generation)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, makeCheckpoint("cp1", 1, model.CheckpointPeriodic)); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, _, err := store.GetCheckpoint(ctx, "cp1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.Population[0].Fitness = -1

	second, _, err := store.GetCheckpoint(ctx, "cp1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if second.Population[0].Fitness != 61.5 {
		t.Fatal("mutating a returned checkpoint leaked into the store")
	}
}

func TestNewStoreFactory(t *testing.T) {
	if _, err := NewStore("", ""); err != nil {
		t.Fatalf("empty kind should default to memory: %v", err)
	}
	if _, err := NewStore("memory", ""); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := NewStore("sqlite", filepath.Join(t.TempDir(), "x.db")); err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, err := NewStore("file", t.TempDir()); err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, err := NewStore("etcd", ""); err == nil {
		t.Fatal("unsupported backend should error")
	}
}
