package mutation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s, err := NewScheduler(cfg, nil)
	require.NoError(t, err)
	return s
}

func assertDistribution(t *testing.T, probs map[string]float64) {
	t.Helper()
	sum := 0.0
	for key, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0, "negative probability for %s", key)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "probabilities must renormalize to 1.0")
}

func TestSchedulerConstructionFailsFast(t *testing.T) {
	tests := []struct {
		name      string
		cfg       SchedulerConfig
		operators []string
	}{
		{
			"sum out of tolerance",
			SchedulerConfig{
				EarlyDistribution: map[string]float64{"tier1.config_adjust": 0.5, "tier3.ast_rewrite": 0.3},
			},
			nil,
		},
		{
			"negative probability",
			SchedulerConfig{
				EarlyDistribution: map[string]float64{"tier1.config_adjust": 1.2, "tier3.ast_rewrite": -0.2},
			},
			nil,
		},
		{
			"unknown operator",
			SchedulerConfig{},
			[]string{"tier1.config_adjust"},
		},
		{
			"malformed key",
			SchedulerConfig{
				EarlyDistribution: map[string]float64{"tier3": 1.0},
			},
			nil,
		},
		{
			"unparseable tier",
			SchedulerConfig{
				EarlyDistribution: map[string]float64{"tier9.ast_rewrite": 1.0},
			},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.cfg, tt.operators)
			assert.Error(t, err)
		})
	}
}

func TestSchedulerAcceptsMatchingOperatorSet(t *testing.T) {
	keys := []string{
		"tier1.config_adjust",
		"tier2.add_factor",
		"tier2.remove_factor",
		"tier2.replace_factor",
		"tier2.mutate_parameters",
		"tier3.ast_rewrite",
	}
	_, err := NewScheduler(SchedulerConfig{}, keys)
	assert.NoError(t, err)
}

func TestSchedulerProbabilitiesAlwaysNormalized(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 1})

	states := []SelectState{
		{},
		{Generation: 1, MaxGenerations: 100},
		{Generation: 99, MaxGenerations: 100},
		{Generation: 50, MaxGenerations: 100, Diversity: 0.05},
		{Generation: 50, MaxGenerations: 100, Stagnation: 12},
		{Generation: 80, MaxGenerations: 100, Diversity: 0.01, Stagnation: 30},
	}
	rates := []map[string]float64{
		nil,
		{"tier3.ast_rewrite": 1.0},
		{"tier3.ast_rewrite": 0.0, "tier2.add_factor": 1.0},
	}
	for _, state := range states {
		for _, r := range rates {
			assertDistribution(t, s.OperatorProbabilities(state, r))
		}
	}
}

func TestSchedulerPhaseShiftsTowardFineTuning(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 2})

	early := s.OperatorProbabilities(SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9}, nil)
	late := s.OperatorProbabilities(SelectState{Generation: 90, MaxGenerations: 100, Diversity: 0.9}, nil)

	assert.Greater(t, late["tier2.mutate_parameters"], early["tier2.mutate_parameters"],
		"late phase favors parameter fine-tuning")
	assert.Greater(t, early["tier3.ast_rewrite"], late["tier3.ast_rewrite"],
		"early phase favors structural exploration")
}

func TestSchedulerDiversityBoostRaisesStructuralOperators(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 3})
	base := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9}
	low := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.05}

	pBase := s.OperatorProbabilities(base, nil)
	pLow := s.OperatorProbabilities(low, nil)

	assert.Greater(t, pLow["tier2.add_factor"], pBase["tier2.add_factor"])
	assert.Greater(t, pLow["tier3.ast_rewrite"], pBase["tier3.ast_rewrite"])
	assert.Less(t, pLow["tier1.config_adjust"], pBase["tier1.config_adjust"],
		"non-structural operators shrink after renormalization")
}

func TestSchedulerStagnationBoostRaisesStructuralOperators(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 4, StagnationWindow: 5})
	calm := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9, Stagnation: 0}
	stuck := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9, Stagnation: 5}

	pCalm := s.OperatorProbabilities(calm, nil)
	pStuck := s.OperatorProbabilities(stuck, nil)

	assert.Greater(t, pStuck["tier2.add_factor"], pCalm["tier2.add_factor"])
	assert.Greater(t, pStuck["tier3.ast_rewrite"], pCalm["tier3.ast_rewrite"])
}

func TestSchedulerSuccessRateAdaptation(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 5})
	state := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9}

	neutral := s.OperatorProbabilities(state, map[string]float64{})
	boosted := s.OperatorProbabilities(state, map[string]float64{"tier3.ast_rewrite": 1.0})
	punished := s.OperatorProbabilities(state, map[string]float64{"tier3.ast_rewrite": 0.0})

	assert.Greater(t, boosted["tier3.ast_rewrite"], neutral["tier3.ast_rewrite"])
	assert.Less(t, punished["tier3.ast_rewrite"], neutral["tier3.ast_rewrite"])
}

func TestSchedulerMinProbabilityFloorHolds(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 6, MinProbability: 0.05})
	state := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9}

	// Zero success everywhere pushes every adjusted probability down, the
	// floor keeps each operator selectable.
	rates := map[string]float64{}
	for _, key := range s.Operators() {
		rates[key] = 0.0
	}
	probs := s.OperatorProbabilities(state, rates)
	assertDistribution(t, probs)
	for key, p := range probs {
		assert.Greater(t, p, 0.0, "operator %s must stay selectable", key)
	}
}

func TestSchedulerReportFeedsAdaptiveCache(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 7})
	state := SelectState{Generation: 10, MaxGenerations: 100, Diversity: 0.9}

	before := s.OperatorProbabilities(state, nil)
	for i := 0; i < 30; i++ {
		s.Report(Tier3, MutationASTRewrite, false)
	}
	after := s.OperatorProbabilities(state, nil)

	assert.Less(t, after["tier3.ast_rewrite"], before["tier3.ast_rewrite"],
		"repeated failures must lower the operator's probability")
}

func TestSchedulerSelectTierDeterministicAndValid(t *testing.T) {
	a := newScheduler(t, SchedulerConfig{Seed: 42})
	b := newScheduler(t, SchedulerConfig{Seed: 42})
	state := SelectState{Generation: 5, MaxGenerations: 100, Diversity: 0.5}

	for i := 0; i < 50; i++ {
		pa := a.SelectTier(state)
		pb := b.SelectTier(state)
		assert.Equal(t, pa.Tier, pb.Tier)
		assert.Equal(t, pa.MutationType, pb.MutationType)

		require.Contains(t, AllTiers, pa.Tier)
		assert.Equal(t, tierRiskScores[pa.Tier], pa.RiskScore)
		assert.NotEmpty(t, pa.Rationale)
	}
}

func TestSchedulerSelectTierCoversTable(t *testing.T) {
	s := newScheduler(t, SchedulerConfig{Seed: 9})
	state := SelectState{Generation: 5, MaxGenerations: 100, Diversity: 0.5}

	seen := map[Tier]bool{}
	for i := 0; i < 400; i++ {
		plan := s.SelectTier(state)
		seen[plan.Tier] = true
	}
	for _, tier := range AllTiers {
		assert.True(t, seen[tier], "%s never selected in 400 draws", tier)
	}
}

func TestSplitOperatorKey(t *testing.T) {
	tier, op, err := splitOperatorKey("tier2.add_factor")
	require.NoError(t, err)
	assert.Equal(t, Tier2, tier)
	assert.Equal(t, MutationAddFactor, op)

	for _, bad := range []string{"", "tier2", ".add_factor", "tier2.", "nope.add"} {
		_, _, err := splitOperatorKey(bad)
		assert.Error(t, err, "key %q must be rejected", bad)
	}
}

func TestSchedulerDefaultTablesAreConsistent(t *testing.T) {
	for name, table := range map[string]map[string]float64{
		"early": defaultEarlyDistribution,
		"late":  defaultLateDistribution,
	} {
		sum := 0.0
		for key, p := range table {
			_, _, err := splitOperatorKey(key)
			require.NoError(t, err, "%s table key %q", name, key)
			sum += p
		}
		assert.True(t, math.Abs(sum-1.0) <= probabilitySumTolerance, "%s table sums to %v", name, sum)
	}
}
