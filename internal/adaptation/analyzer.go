package adaptation

import (
	"sort"
	"sync"

	"telesis/internal/model"
)

// Structural signal names expected in the agent state map. Higher is better
// for all of them except complexity.
const (
	SignalModularity    = "modularity"
	SignalTestCoverage  = "test_coverage"
	SignalDocumentation = "documentation"
	SignalComplexity    = "complexity"
)

const neutralSignal = 50.0

// Analyzer produces per-agent adaptation assessments and keeps a record of
// adaptation outcomes for success prediction.
type Analyzer struct {
	mu       sync.RWMutex
	outcomes map[string][]bool
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{outcomes: make(map[string][]bool)}
}

// Analyze combines structural signals with an environment modifier into an
// adaptation score, a prioritized mutation list, a risk assessment and a
// strategy. It never returns an error; missing signals read as neutral.
func (a *Analyzer) Analyze(agentID string, state map[string]float64, environment string) model.AdaptationResult {
	modularity := signal(state, SignalModularity)
	coverage := signal(state, SignalTestCoverage)
	documentation := signal(state, SignalDocumentation)
	complexity := signal(state, SignalComplexity)
	efficiency := 100 - complexity

	base := (modularity + coverage + documentation + efficiency) / 4
	risk := assessRisk(complexity, coverage)

	score := base
	switch environment {
	case "high_load":
		score = 0.8*base + 0.2*efficiency
	case "stable":
		score = 0.8*base + 0.2*(100-riskScore(risk))
	}
	score = clamp(score, 0, 100)

	return model.AdaptationResult{
		AgentID:              agentID,
		Environment:          environment,
		AdaptationScore:      score,
		RecommendedMutations: recommend(complexity, coverage, documentation),
		Risk:                 risk,
		Strategy:             ChooseStrategy(score, risk),
	}
}

// ChooseStrategy is a pure function of (adaptation score, risk).
func ChooseStrategy(score float64, risk model.RiskLevel) model.Strategy {
	switch {
	case score >= 70 && risk == model.RiskLow:
		return model.StrategyAggressive
	case score >= 70 && risk == model.RiskHigh:
		return model.StrategyAdaptive
	case score < 40 || risk == model.RiskHigh:
		return model.StrategyConservative
	default:
		return model.StrategyIncremental
	}
}

// RecordOutcome appends one adaptation outcome to the agent's history.
func (a *Analyzer) RecordOutcome(agentID string, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[agentID] = append(a.outcomes[agentID], success)
}

// PredictAdaptationSuccess returns a probability in [0, 1] from the agent's
// own history, falling back to a population-level prior when the agent has
// none recorded.
func (a *Analyzer) PredictAdaptationSuccess(agentID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if history, ok := a.outcomes[agentID]; ok && len(history) > 0 {
		return successRate(history, 0)
	}

	total := 0
	successes := 0
	for _, history := range a.outcomes {
		for _, success := range history {
			total++
			if success {
				successes++
			}
		}
	}
	if total == 0 {
		return 0.5
	}
	// Laplace-smoothed population prior.
	return (float64(successes) + 1) / (float64(total) + 2)
}

func recommend(complexity, coverage, documentation float64) []model.MutationRecommendation {
	recs := make([]model.MutationRecommendation, 0, 3)
	if complexity > 70 {
		recs = append(recs, model.MutationRecommendation{
			Type:                "reduce_complexity",
			RiskLevel:           model.RiskHigh,
			ExpectedImprovement: (complexity - 70) * 0.5,
		})
	}
	if coverage < 40 {
		recs = append(recs, model.MutationRecommendation{
			Type:                "increase_test_coverage",
			RiskLevel:           model.RiskMedium,
			ExpectedImprovement: (40 - coverage) * 0.4,
		})
	}
	if documentation < 30 {
		recs = append(recs, model.MutationRecommendation{
			Type:                "improve_documentation",
			RiskLevel:           model.RiskLow,
			ExpectedImprovement: (30 - documentation) * 0.3,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ExpectedImprovement > recs[j].ExpectedImprovement
	})
	for i := range recs {
		recs[i].Priority = i + 1
	}
	return recs
}

func assessRisk(complexity, coverage float64) model.RiskLevel {
	switch {
	case complexity > 70 || coverage < 30:
		return model.RiskHigh
	case complexity < 40 && coverage > 70:
		return model.RiskLow
	default:
		return model.RiskMedium
	}
}

func riskScore(risk model.RiskLevel) float64 {
	switch risk {
	case model.RiskLow:
		return 10
	case model.RiskHigh:
		return 90
	default:
		return 50
	}
}

func successRate(history []bool, prior float64) float64 {
	if len(history) == 0 {
		return prior
	}
	successes := 0
	for _, success := range history {
		if success {
			successes++
		}
	}
	return float64(successes) / float64(len(history))
}

func signal(state map[string]float64, name string) float64 {
	value, ok := state[name]
	if !ok {
		return neutralSignal
	}
	return clamp(value, 0, 100)
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
