package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telesis/internal/model"
	"telesis/internal/storage"
)

// Raw metric names the safety check inspects. A genome that exceeds either
// ceiling stays in the population but is never promoted to best.
const (
	MetricMemoryKB        = "memory_kb"
	MetricInstantiationUS = "instantiation_us"
)

type scoredGenome struct {
	genome model.Genome
	safe   bool
	failed bool
}

// evaluatePopulation scores every genome through the injected evaluator with
// a bounded worker pool. A failed evaluation is isolated: the genome gets
// minimal fitness and the round continues.
func (e *Engine) evaluatePopulation(ctx context.Context, population []model.Genome, generation int, history []model.EvolutionMetrics) []scoredGenome {
	type job struct {
		idx    int
		genome model.Genome
	}
	type result struct {
		idx    int
		scored scoredGenome
	}

	jobs := make(chan job)
	results := make(chan result, len(population))

	workerCount := e.cfg.Workers
	if workerCount > len(population) {
		workerCount = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- result{idx: j.idx, scored: e.evaluateGenome(ctx, j.genome, generation, history)}
			}
		}()
	}

	for i := range population {
		jobs <- job{idx: i, genome: population[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]scoredGenome, len(population))
	for res := range results {
		scored[res.idx] = res.scored
	}
	return scored
}

func (e *Engine) evaluateGenome(ctx context.Context, genome model.Genome, generation int, history []model.EvolutionMetrics) scoredGenome {
	metrics, err := e.evaluator.Evaluate(ctx, genome)
	if err != nil {
		e.logger.Warn("genome evaluation failed",
			zap.String("genome_id", genome.ID),
			zap.Error(fmt.Errorf("%w: %v", model.ErrEvaluation, err)))
		genome.Fitness = 0
		genome.Metrics = nil
		return scoredGenome{genome: genome, safe: false, failed: true}
	}

	result := e.scorer.CalculateFitness(genome.ID, metrics, generation, history)
	genome.Fitness = result.TotalFitness
	genome.Metrics = metrics
	return scoredGenome{genome: genome, safe: e.safetyCheck(genome) == nil}
}

// safetyCheck verifies the hard resource ceilings. Metrics the evaluator did
// not report are not held against the genome.
func (e *Engine) safetyCheck(genome model.Genome) error {
	if memory, ok := genome.Metrics[MetricMemoryKB]; ok && memory > e.cfg.MemoryLimitKB {
		return &model.SafetyViolation{
			GenomeID:   genome.ID,
			Constraint: MetricMemoryKB,
			Value:      memory,
			Limit:      e.cfg.MemoryLimitKB,
		}
	}
	if latency, ok := genome.Metrics[MetricInstantiationUS]; ok && latency > e.cfg.InstantiationLimitUS {
		return &model.SafetyViolation{
			GenomeID:   genome.ID,
			Constraint: MetricInstantiationUS,
			Value:      latency,
			Limit:      e.cfg.InstantiationLimitUS,
		}
	}
	return nil
}

// promoteBest updates the best-ever genome from the safety-compliant subset
// and returns the best safe fitness of this generation.
func (e *Engine) promoteBest(scored []scoredGenome) float64 {
	bestSafe := 0.0
	var candidate *model.Genome
	for i := range scored {
		if !scored[i].safe {
			continue
		}
		if candidate == nil || scored[i].genome.Fitness > candidate.Fitness {
			candidate = &scored[i].genome
		}
	}
	if candidate != nil {
		bestSafe = candidate.Fitness
		e.mu.Lock()
		if e.best == nil || candidate.Fitness > e.best.Fitness {
			best := candidate.Clone(candidate.ID)
			e.best = &best
		}
		e.mu.Unlock()
	}
	return bestSafe
}

// breedNextGeneration applies fitness-proportionate selection, gene-wise
// crossover and bounded per-gene mutation. The returned population is always
// exactly PopulationSize genomes.
func (e *Engine) breedNextGeneration(scored []scoredGenome, nextGeneration int) ([]model.Genome, error) {
	parents, err := e.selectParents(scored)
	if err != nil {
		return nil, err
	}
	if len(parents) < len(scored) {
		return nil, fmt.Errorf("selection shrank the population: got=%d want=%d", len(parents), len(scored))
	}

	offspring := e.crossover(parents)
	if len(offspring) < len(parents) {
		return nil, fmt.Errorf("crossover lost offspring: got=%d want>=%d", len(offspring), len(parents))
	}

	next := make([]model.Genome, 0, e.cfg.PopulationSize)
	for _, child := range offspring {
		if len(next) == e.cfg.PopulationSize {
			break
		}
		mutated := e.mutate(child)
		next = append(next, model.Genome{
			VersionedRecord: storage.Stamp(),
			ID:              uuid.NewString(),
			Genes:           mutated,
			Generation:      nextGeneration,
		})
	}
	if len(next) != e.cfg.PopulationSize {
		return nil, fmt.Errorf("bred population has wrong size: got=%d want=%d", len(next), e.cfg.PopulationSize)
	}
	return next, nil
}

// selectParents draws PopulationSize parents by roulette over shifted fitness
// so the population never shrinks. Zero-spread fitness degrades to uniform.
func (e *Engine) selectParents(scored []scoredGenome) ([]model.Genome, error) {
	if len(scored) == 0 {
		return nil, fmt.Errorf("cannot select from an empty population")
	}

	minFitness := scored[0].genome.Fitness
	for _, item := range scored {
		if item.genome.Fitness < minFitness {
			minFitness = item.genome.Fitness
		}
	}
	shift := 0.0
	if minFitness <= 0 {
		shift = -minFitness + 1e-9
	}
	total := 0.0
	for _, item := range scored {
		total += item.genome.Fitness + shift
	}

	parents := make([]model.Genome, 0, len(scored))
	for i := 0; i < e.cfg.PopulationSize; i++ {
		if total <= 0 {
			parents = append(parents, scored[e.rng.Intn(len(scored))].genome)
			continue
		}
		pick := e.rng.Float64() * total
		acc := 0.0
		chosen := scored[len(scored)-1].genome
		for _, item := range scored {
			acc += item.genome.Fitness + shift
			if pick <= acc {
				chosen = item.genome
				break
			}
		}
		parents = append(parents, chosen)
	}
	return parents, nil
}

// crossover pairs consecutive parents and produces two gene-wise recombined
// children per pair, so offspring count is never below parent count.
func (e *Engine) crossover(parents []model.Genome) []model.Genes {
	offspring := make([]model.Genes, 0, len(parents)+1)
	for i := 0; i+1 < len(parents); i += 2 {
		a, b := parents[i].Genes, parents[i+1].Genes
		if e.rng.Float64() < e.cfg.CrossoverRate {
			childA, childB := crossoverGenes(e.rng, a, b)
			offspring = append(offspring, childA, childB)
		} else {
			offspring = append(offspring, cloneGenes(a), cloneGenes(b))
		}
	}
	if len(parents)%2 == 1 {
		offspring = append(offspring, cloneGenes(parents[len(parents)-1].Genes))
	}
	return offspring
}

func (e *Engine) mutate(genes model.Genes) model.Genes {
	return mutateGenes(e.rng, genes, e.cfg.Bounds, e.cfg.MutationRate)
}

func randomGenes(rng *rand.Rand, bounds model.GeneBounds) model.Genes {
	layerCount := bounds.MinLayers + rng.Intn(bounds.MaxLayers-bounds.MinLayers+1)
	layers := make([]int, layerCount)
	for i := range layers {
		layers[i] = bounds.MinLayerWidth + rng.Intn(bounds.MaxLayerWidth-bounds.MinLayerWidth+1)
	}
	return model.Genes{
		LayerSizes:   layers,
		Activation:   bounds.Activations[rng.Intn(len(bounds.Activations))],
		Optimizer:    bounds.Optimizers[rng.Intn(len(bounds.Optimizers))],
		LearningRate: sampleLogUniform(rng, bounds.MinLearningRate, bounds.MaxLearningRate),
		Dropout:      bounds.MinDropout + rng.Float64()*(bounds.MaxDropout-bounds.MinDropout),
	}
}

// crossoverGenes recombines two parents gene by gene: scalar genes swap with
// probability 1/2, layer sizes mix position-wise.
func crossoverGenes(rng *rand.Rand, a, b model.Genes) (model.Genes, model.Genes) {
	childA, childB := cloneGenes(a), cloneGenes(b)

	if rng.Intn(2) == 0 {
		childA.Activation, childB.Activation = childB.Activation, childA.Activation
	}
	if rng.Intn(2) == 0 {
		childA.Optimizer, childB.Optimizer = childB.Optimizer, childA.Optimizer
	}
	if rng.Intn(2) == 0 {
		childA.LearningRate, childB.LearningRate = childB.LearningRate, childA.LearningRate
	}
	if rng.Intn(2) == 0 {
		childA.Dropout, childB.Dropout = childB.Dropout, childA.Dropout
	}

	shared := len(childA.LayerSizes)
	if len(childB.LayerSizes) < shared {
		shared = len(childB.LayerSizes)
	}
	for i := 0; i < shared; i++ {
		if rng.Intn(2) == 0 {
			childA.LayerSizes[i], childB.LayerSizes[i] = childB.LayerSizes[i], childA.LayerSizes[i]
		}
	}
	return childA, childB
}

// mutateGenes perturbs each gene independently with probability rate. Every
// mutated value is clamped back into the declared bounds.
func mutateGenes(rng *rand.Rand, genes model.Genes, bounds model.GeneBounds, rate float64) model.Genes {
	out := cloneGenes(genes)

	for i := range out.LayerSizes {
		if rng.Float64() >= rate {
			continue
		}
		delta := int(math.Round(float64(out.LayerSizes[i]) * (rng.Float64()*0.4 - 0.2)))
		if delta == 0 {
			delta = 1 - 2*rng.Intn(2)
		}
		out.LayerSizes[i] = clampInt(out.LayerSizes[i]+delta, bounds.MinLayerWidth, bounds.MaxLayerWidth)
	}
	if rng.Float64() < rate && len(out.LayerSizes) < bounds.MaxLayers {
		width := bounds.MinLayerWidth + rng.Intn(bounds.MaxLayerWidth-bounds.MinLayerWidth+1)
		out.LayerSizes = append(out.LayerSizes, width)
	}
	if rng.Float64() < rate && len(out.LayerSizes) > bounds.MinLayers {
		out.LayerSizes = out.LayerSizes[:len(out.LayerSizes)-1]
	}

	if rng.Float64() < rate {
		out.Activation = bounds.Activations[rng.Intn(len(bounds.Activations))]
	}
	if rng.Float64() < rate {
		out.Optimizer = bounds.Optimizers[rng.Intn(len(bounds.Optimizers))]
	}
	if rng.Float64() < rate {
		factor := math.Pow(10, rng.Float64()*0.6-0.3)
		out.LearningRate = clampFloat(out.LearningRate*factor, bounds.MinLearningRate, bounds.MaxLearningRate)
	}
	if rng.Float64() < rate {
		out.Dropout = clampFloat(out.Dropout+rng.Float64()*0.1-0.05, bounds.MinDropout, bounds.MaxDropout)
	}
	return out
}

func cloneGenes(g model.Genes) model.Genes {
	out := g
	out.LayerSizes = append([]int(nil), g.LayerSizes...)
	return out
}

func sampleLogUniform(rng *rand.Rand, lo, hi float64) float64 {
	logLo, logHi := math.Log10(lo), math.Log10(hi)
	return math.Pow(10, logLo+rng.Float64()*(logHi-logLo))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
