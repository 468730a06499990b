package engine

import (
	"math/rand"
	"testing"

	"telesis/internal/model"
)

func TestRandomGenesStayWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bounds := model.DefaultGeneBounds()
	for i := 0; i < 200; i++ {
		genes := randomGenes(rng, bounds)
		if !genes.Within(bounds) {
			t.Fatalf("iteration %d produced out-of-bounds genes: %+v", i, genes)
		}
	}
}

func TestMutateGenesStaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bounds := model.DefaultGeneBounds()
	genes := randomGenes(rng, bounds)
	// Mutation rate 1 forces every gene to mutate each round.
	for i := 0; i < 200; i++ {
		genes = mutateGenes(rng, genes, bounds, 1.0)
		if !genes.Within(bounds) {
			t.Fatalf("iteration %d mutated out of bounds: %+v", i, genes)
		}
	}
}

func TestMutateGenesDoesNotAliasInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bounds := model.DefaultGeneBounds()
	original := model.Genes{
		LayerSizes:   []int{16, 32, 64},
		Activation:   "relu",
		Optimizer:    "adam",
		LearningRate: 0.001,
		Dropout:      0.1,
	}
	snapshot := append([]int(nil), original.LayerSizes...)

	_ = mutateGenes(rng, original, bounds, 1.0)
	for i, width := range original.LayerSizes {
		if width != snapshot[i] {
			t.Fatal("mutateGenes mutated its input")
		}
	}
}

func TestCrossoverGenesRecombinesFromParents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := model.Genes{LayerSizes: []int{10, 10}, Activation: "relu", Optimizer: "adam", LearningRate: 0.01, Dropout: 0.1}
	b := model.Genes{LayerSizes: []int{20, 20, 20}, Activation: "tanh", Optimizer: "sgd", LearningRate: 0.001, Dropout: 0.3}

	for i := 0; i < 100; i++ {
		childA, childB := crossoverGenes(rng, a, b)

		// Layer counts are inherited, widths mix position-wise.
		if len(childA.LayerSizes) != 2 || len(childB.LayerSizes) != 3 {
			t.Fatalf("layer counts changed: %d, %d", len(childA.LayerSizes), len(childB.LayerSizes))
		}
		for _, child := range []model.Genes{childA, childB} {
			for _, width := range child.LayerSizes {
				if width != 10 && width != 20 {
					t.Fatalf("layer width %d came from neither parent", width)
				}
			}
			if child.Activation != "relu" && child.Activation != "tanh" {
				t.Fatalf("activation %q came from neither parent", child.Activation)
			}
			if child.LearningRate != 0.01 && child.LearningRate != 0.001 {
				t.Fatalf("learning rate %v came from neither parent", child.LearningRate)
			}
		}
		// Scalar swaps are symmetric: between the two children both parent
		// values survive.
		if childA.Optimizer == childB.Optimizer {
			t.Fatalf("optimizer collapsed to %q", childA.Optimizer)
		}
	}
}

func TestCrossoverGenesDoesNotAliasParents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := model.Genes{LayerSizes: []int{10, 10}, Activation: "relu", Optimizer: "adam", LearningRate: 0.01}
	b := model.Genes{LayerSizes: []int{20, 20}, Activation: "tanh", Optimizer: "sgd", LearningRate: 0.001}

	childA, _ := crossoverGenes(rng, a, b)
	childA.LayerSizes[0] = 999
	if a.LayerSizes[0] != 10 || b.LayerSizes[0] != 20 {
		t.Fatal("crossover children alias parent layer slices")
	}
}

func TestSelectParentsKeepsPopulationSize(t *testing.T) {
	eng := newTestEngine(t, testConfig(), initializedStore(t), strongEvaluator())

	scored := []scoredGenome{
		{genome: model.Genome{ID: "a", Fitness: 90}, safe: true},
		{genome: model.Genome{ID: "b", Fitness: 10}, safe: true},
		{genome: model.Genome{ID: "c", Fitness: 0}, safe: false},
	}
	parents, err := eng.selectParents(scored)
	if err != nil {
		t.Fatalf("select parents: %v", err)
	}
	if len(parents) != eng.cfg.PopulationSize {
		t.Fatalf("parent count = %d, want %d", len(parents), eng.cfg.PopulationSize)
	}

	if _, err := eng.selectParents(nil); err == nil {
		t.Fatal("empty population must not be selectable")
	}
}

func TestSelectParentsFavorsFitterGenomes(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 100
	eng := newTestEngine(t, cfg, initializedStore(t), strongEvaluator())

	scored := []scoredGenome{
		{genome: model.Genome{ID: "strong", Fitness: 95}, safe: true},
		{genome: model.Genome{ID: "weak", Fitness: 5}, safe: true},
	}
	parents, err := eng.selectParents(scored)
	if err != nil {
		t.Fatalf("select parents: %v", err)
	}
	strong := 0
	for _, parent := range parents {
		if parent.ID == "strong" {
			strong++
		}
	}
	if strong <= len(parents)/2 {
		t.Fatalf("roulette selection picked the stronger genome only %d/%d times", strong, len(parents))
	}
}

func TestBreedNextGenerationProducesExactPopulation(t *testing.T) {
	eng := newTestEngine(t, testConfig(), initializedStore(t), strongEvaluator())

	scored := make([]scoredGenome, 0, eng.cfg.PopulationSize)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < eng.cfg.PopulationSize; i++ {
		scored = append(scored, scoredGenome{
			genome: model.Genome{ID: string(rune('a' + i)), Genes: randomGenes(rng, eng.cfg.Bounds), Fitness: float64(40 + i)},
			safe:   true,
		})
	}

	next, err := eng.breedNextGeneration(scored, 3)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if len(next) != eng.cfg.PopulationSize {
		t.Fatalf("bred population = %d, want %d", len(next), eng.cfg.PopulationSize)
	}
	for _, child := range next {
		if child.Generation != 3 {
			t.Fatalf("child generation = %d, want 3", child.Generation)
		}
		if !child.Genes.Within(eng.cfg.Bounds) {
			t.Fatalf("child genes out of bounds: %+v", child.Genes)
		}
		if child.ID == "" {
			t.Fatal("child is missing an id")
		}
	}
}
