package adaptation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telesis/internal/model"
)

func TestAnalyzeHealthyAgent(t *testing.T) {
	analyzer := NewAnalyzer()
	result := analyzer.Analyze("agent-1", map[string]float64{
		SignalModularity:    80,
		SignalTestCoverage:  80,
		SignalDocumentation: 80,
		SignalComplexity:    20,
	}, "")

	assert.Equal(t, "agent-1", result.AgentID)
	assert.InDelta(t, 80, result.AdaptationScore, 1e-9)
	assert.Equal(t, model.RiskLow, result.Risk)
	assert.Equal(t, model.StrategyAggressive, result.Strategy)
	assert.Empty(t, result.RecommendedMutations)
}

func TestAnalyzeStrugglingAgent(t *testing.T) {
	analyzer := NewAnalyzer()
	result := analyzer.Analyze("agent-2", map[string]float64{
		SignalModularity:    50,
		SignalTestCoverage:  20,
		SignalDocumentation: 10,
		SignalComplexity:    90,
	}, "")

	assert.Equal(t, model.RiskHigh, result.Risk)
	assert.Equal(t, model.StrategyConservative, result.Strategy)

	recs := result.RecommendedMutations
	require.Len(t, recs, 3)
	// Ordered by expected improvement, priorities reassigned to match.
	assert.Equal(t, "reduce_complexity", recs[0].Type)
	assert.Equal(t, "increase_test_coverage", recs[1].Type)
	assert.Equal(t, "improve_documentation", recs[2].Type)
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.Priority)
	}
	assert.Equal(t, model.RiskHigh, recs[0].RiskLevel)
	assert.Equal(t, model.RiskMedium, recs[1].RiskLevel)
	assert.Equal(t, model.RiskLow, recs[2].RiskLevel)
	assert.InDelta(t, 10, recs[0].ExpectedImprovement, 1e-9)
}

func TestAnalyzeMissingSignalsReadNeutral(t *testing.T) {
	analyzer := NewAnalyzer()
	result := analyzer.Analyze("agent-3", nil, "")

	assert.InDelta(t, 50, result.AdaptationScore, 1e-9)
	assert.Equal(t, model.RiskMedium, result.Risk)
	assert.Equal(t, model.StrategyIncremental, result.Strategy)
}

func TestAnalyzeEnvironmentModifiers(t *testing.T) {
	analyzer := NewAnalyzer()
	state := map[string]float64{
		SignalModularity:    60,
		SignalTestCoverage:  60,
		SignalDocumentation: 60,
		SignalComplexity:    40,
	}

	base := analyzer.Analyze("agent-4", state, "").AdaptationScore
	assert.InDelta(t, 60, base, 1e-9)

	// high_load blends in efficiency (100-complexity), stable blends in the
	// inverse of the risk score.
	highLoad := analyzer.Analyze("agent-4", state, "high_load").AdaptationScore
	assert.InDelta(t, 0.8*60+0.2*60, highLoad, 1e-9)

	stable := analyzer.Analyze("agent-4", state, "stable").AdaptationScore
	assert.InDelta(t, 0.8*60+0.2*50, stable, 1e-9)
}

func TestChooseStrategyMatrix(t *testing.T) {
	cases := []struct {
		score float64
		risk  model.RiskLevel
		want  model.Strategy
	}{
		{85, model.RiskLow, model.StrategyAggressive},
		{85, model.RiskHigh, model.StrategyAdaptive},
		{85, model.RiskMedium, model.StrategyIncremental},
		{55, model.RiskHigh, model.StrategyConservative},
		{55, model.RiskMedium, model.StrategyIncremental},
		{55, model.RiskLow, model.StrategyIncremental},
		{30, model.RiskLow, model.StrategyConservative},
		{30, model.RiskHigh, model.StrategyConservative},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ChooseStrategy(tc.score, tc.risk), "score=%v risk=%s", tc.score, tc.risk)
	}
}

func TestPredictAdaptationSuccess(t *testing.T) {
	analyzer := NewAnalyzer()

	// No history anywhere: uninformed prior.
	assert.InDelta(t, 0.5, analyzer.PredictAdaptationSuccess("agent-1"), 1e-9)

	analyzer.RecordOutcome("agent-1", true)
	analyzer.RecordOutcome("agent-1", true)
	analyzer.RecordOutcome("agent-1", false)
	analyzer.RecordOutcome("agent-1", true)
	assert.InDelta(t, 0.75, analyzer.PredictAdaptationSuccess("agent-1"), 1e-9)

	// Unknown agents fall back to the Laplace-smoothed population prior.
	assert.InDelta(t, (3.0+1)/(4.0+2), analyzer.PredictAdaptationSuccess("agent-unknown"), 1e-9)
}
