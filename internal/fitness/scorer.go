package fitness

import (
	"fmt"
	"math"
	"sort"

	"telesis/internal/model"
)

// Component groups. Every named raw metric normalizes into exactly one group;
// unknown metric names are ignored rather than failing the evaluation.
const (
	ComponentPerformance = "performance"
	ComponentQuality     = "quality"
	ComponentBusiness    = "business"
	ComponentEvolution   = "evolution"
	ComponentReliability = "reliability"
)

// metricSpec binds a raw metric name to its component group. Inverted metrics
// are cost-like: lower raw values score higher.
type metricSpec struct {
	component string
	inverted  bool
}

var metricCatalog = map[string]metricSpec{
	"speed":            {ComponentPerformance, false},
	"throughput":       {ComponentPerformance, false},
	"memory":           {ComponentPerformance, true},
	"memory_kb":        {ComponentPerformance, true},
	"latency":          {ComponentPerformance, true},
	"instantiation_us": {ComponentPerformance, true},

	"test_coverage":   {ComponentQuality, false},
	"documentation":   {ComponentQuality, false},
	"maintainability": {ComponentQuality, false},
	"complexity":      {ComponentQuality, true},

	"user_value":      {ComponentBusiness, false},
	"roi":             {ComponentBusiness, false},
	"cost":            {ComponentBusiness, true},
	"time_to_market":  {ComponentBusiness, true},

	"accuracy":         {ComponentEvolution, false},
	"adaptability":     {ComponentEvolution, false},
	"mutation_success": {ComponentEvolution, false},

	"uptime":        {ComponentReliability, false},
	"error_rate":    {ComponentReliability, true},
	"recovery_time": {ComponentReliability, true},
}

// Components lists the component groups in deterministic order.
func Components() []string {
	return []string{
		ComponentPerformance,
		ComponentQuality,
		ComponentBusiness,
		ComponentEvolution,
		ComponentReliability,
	}
}

// Config holds the canonical, documented weighting policy. The source system
// carried several inconsistent weight tables; this single table replaces them
// and is the one place to tune scoring policy.
type Config struct {
	// Weights per component group. Must be positive; normalized before use.
	Weights map[string]float64
	// Neutral is the score assumed for components with no observed metrics.
	Neutral float64
	// StrengthThreshold and WeaknessThreshold bound the reported component
	// lists on a FitnessResult.
	StrengthThreshold float64
	WeaknessThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			ComponentPerformance: 0.30,
			ComponentQuality:     0.25,
			ComponentBusiness:    0.15,
			ComponentEvolution:   0.15,
			ComponentReliability: 0.15,
		},
		Neutral:           50,
		StrengthThreshold: 70,
		WeaknessThreshold: 40,
	}
}

// Scorer converts raw metrics into component and total fitness scores. All
// scoring is deterministic for identical inputs; the scorer holds no hidden
// randomness.
type Scorer struct {
	cfg         Config
	totalWeight float64
}

func NewScorer(cfg Config) (*Scorer, error) {
	if len(cfg.Weights) == 0 {
		cfg = DefaultConfig()
	}
	total := 0.0
	for _, component := range Components() {
		weight, ok := cfg.Weights[component]
		if !ok {
			return nil, fmt.Errorf("missing weight for component %s", component)
		}
		if weight <= 0 {
			return nil, fmt.Errorf("weight for component %s must be > 0", component)
		}
		total += weight
	}
	if cfg.Neutral < 0 || cfg.Neutral > 100 {
		return nil, fmt.Errorf("neutral score must be in [0, 100]")
	}
	if cfg.StrengthThreshold <= 0 {
		cfg.StrengthThreshold = 70
	}
	if cfg.WeaknessThreshold <= 0 {
		cfg.WeaknessThreshold = 40
	}
	return &Scorer{cfg: cfg, totalWeight: total}, nil
}

// CalculateFitness normalizes named metrics into the fixed component groups
// and combines them into a total in [0, 100]. Missing metric keys fall back
// to the neutral default and never produce an error.
func (s *Scorer) CalculateFitness(agentID string, metrics map[string]float64, generation int, history []model.EvolutionMetrics) model.FitnessResult {
	componentScores := make(map[string]float64, 5)
	counts := make(map[string]int, 5)
	sums := make(map[string]float64, 5)

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, ok := metricCatalog[name]
		if !ok {
			continue
		}
		sums[spec.component] += normalizeMetric(metrics[name], spec.inverted)
		counts[spec.component]++
	}

	for _, component := range Components() {
		if counts[component] == 0 {
			componentScores[component] = s.cfg.Neutral
			continue
		}
		componentScores[component] = sums[component] / float64(counts[component])
	}

	// The evolution component blends the observed metrics with the fitness
	// trend across stored generations, when any history exists.
	if trend, ok := historyTrend(history); ok {
		componentScores[ComponentEvolution] = (componentScores[ComponentEvolution] + trend) / 2
	}

	total := 0.0
	for _, component := range Components() {
		total += componentScores[component] * s.cfg.Weights[component]
	}
	total = clamp(total/s.totalWeight, 0, 100)

	var strengths, weaknesses []string
	for _, component := range Components() {
		score := componentScores[component]
		if score >= s.cfg.StrengthThreshold {
			strengths = append(strengths, component)
		}
		if score < s.cfg.WeaknessThreshold {
			weaknesses = append(weaknesses, component)
		}
	}

	return model.FitnessResult{
		AgentID:         agentID,
		ComponentScores: componentScores,
		TotalFitness:    total,
		Class:           Classify(total),
		Strengths:       strengths,
		Weaknesses:      weaknesses,
	}
}

// Classify maps a total fitness to its class. The thresholds form a strict
// total ordering: the class never decreases unless total fitness decreases.
func Classify(total float64) model.FitnessClass {
	switch {
	case total >= 80:
		return model.ClassElite
	case total >= 60:
		return model.ClassBreeder
	case total >= 40:
		return model.ClassMutable
	default:
		return model.ClassEliminate
	}
}

// SelectParents draws up to count parents from the elite and breeder classes,
// ordered by total fitness and, on ties, by lower cross-component variance so
// balanced genomes are preferred.
func (s *Scorer) SelectParents(results []model.FitnessResult, count int) []model.FitnessResult {
	if count <= 0 {
		return nil
	}

	eligible := make([]model.FitnessResult, 0, len(results))
	for _, result := range results {
		if result.Class == model.ClassElite || result.Class == model.ClassBreeder {
			eligible = append(eligible, result)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].TotalFitness != eligible[j].TotalFitness {
			return eligible[i].TotalFitness > eligible[j].TotalFitness
		}
		vi := componentVariance(eligible[i].ComponentScores)
		vj := componentVariance(eligible[j].ComponentScores)
		if vi != vj {
			return vi < vj
		}
		return eligible[i].AgentID < eligible[j].AgentID
	})
	if count > len(eligible) {
		count = len(eligible)
	}
	return eligible[:count]
}

// CalculateOffspringPotential is the parent-average fitness plus a bounded
// synergy bonus when the parents' component profiles are complementary.
func (s *Scorer) CalculateOffspringPotential(a, b model.FitnessResult) float64 {
	base := (a.TotalFitness + b.TotalFitness) / 2

	diff := 0.0
	n := 0
	for _, component := range Components() {
		sa, oka := a.ComponentScores[component]
		sb, okb := b.ComponentScores[component]
		if !oka || !okb {
			continue
		}
		diff += math.Abs(sa - sb)
		n++
	}
	bonus := 0.0
	if n > 0 {
		bonus = math.Min(10, diff/float64(n)/10)
	}
	return clamp(base+bonus, 0, 100)
}

// PredictFutureFitness extrapolates best fitness linearly over the stored
// history, clamped to [0, 100].
func (s *Scorer) PredictFutureFitness(history []model.EvolutionMetrics, generationsAhead int) float64 {
	if len(history) == 0 {
		return s.cfg.Neutral
	}
	if len(history) == 1 || generationsAhead <= 0 {
		return clamp(history[len(history)-1].BestFitness, 0, 100)
	}

	// Least-squares fit over (index, best fitness).
	n := float64(len(history))
	var sumX, sumY, sumXY, sumXX float64
	for i, entry := range history {
		x := float64(i)
		sumX += x
		sumY += entry.BestFitness
		sumXY += x * entry.BestFitness
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return clamp(history[len(history)-1].BestFitness, 0, 100)
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	predicted := intercept + slope*(n-1+float64(generationsAhead))
	return clamp(predicted, 0, 100)
}

func historyTrend(history []model.EvolutionMetrics) (float64, bool) {
	if len(history) < 2 {
		return 0, false
	}
	delta := history[len(history)-1].BestFitness - history[0].BestFitness
	return clamp(50+delta, 0, 100), true
}

func normalizeMetric(value float64, inverted bool) float64 {
	score := clamp(value, 0, 100)
	if inverted {
		score = 100 - score
	}
	return score
}

func componentVariance(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := 0.0
	for _, score := range scores {
		mean += score
	}
	mean /= float64(len(scores))
	variance := 0.0
	for _, score := range scores {
		variance += (score - mean) * (score - mean)
	}
	return variance / float64(len(scores))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
