package mutation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// SelectState is the evolution-loop snapshot the scheduler selects from.
type SelectState struct {
	// Generation is the current generation index, 0-based.
	Generation int `json:"generation"`
	// MaxGenerations bounds the run, <=0 means unknown and keeps the run
	// in the early phase.
	MaxGenerations int `json:"max_generations"`
	// Diversity is the measured population diversity in [0,1].
	Diversity float64 `json:"diversity"`
	// Stagnation counts generations since the best score improved.
	Stagnation int `json:"stagnation"`
}

// SchedulerConfig holds the single authoritative operator-probability
// table. Every probability in this engine flows from here; the one
// exception is the dispatcher's exit-vs-tier split, which happens before
// tier scheduling starts.
type SchedulerConfig struct {
	// EarlyDistribution and LateDistribution map operator keys
	// ("tier2.add_factor") to base probabilities. Each must sum to
	// 1.0 +- 0.05. Empty selects the defaults below.
	EarlyDistribution map[string]float64 `yaml:"early_distribution"`
	LateDistribution  map[string]float64 `yaml:"late_distribution"`
	// PhaseSplit is the progress fraction where the late table takes
	// over, 0 selects 0.5.
	PhaseSplit float64 `yaml:"phase_split"`
	// DiversityThreshold triggers the structural boost when measured
	// diversity falls below it, 0 selects 0.3.
	DiversityThreshold float64 `yaml:"diversity_threshold"`
	// DiversityBoost is added to each structural operator on low
	// diversity, 0 selects 0.15.
	DiversityBoost float64 `yaml:"diversity_boost"`
	// StagnationWindow is the stagnation length that triggers the boost,
	// 0 selects 5.
	StagnationWindow int `yaml:"stagnation_window"`
	// StagnationBoost is added to each structural operator on
	// stagnation, 0 selects 0.15.
	StagnationBoost float64 `yaml:"stagnation_boost"`
	// AdaptationWeight scales the success-rate adjustment, 0 selects 0.2.
	AdaptationWeight float64 `yaml:"adaptation_weight"`
	// MinProbability floors every operator before renormalization,
	// 0 selects 0.05.
	MinProbability float64 `yaml:"min_probability"`
	// DecayInterval halves the adaptive counters every N reports so old
	// outcomes age out, 0 selects 200.
	DecayInterval int `yaml:"decay_interval"`
	// Seed makes tier selection reproducible, 0 selects a time-based seed.
	Seed int64 `yaml:"seed"`
}

// Default base tables. Early generations push structure (new factors,
// tree rewrites), late generations push fine-tuning.
var (
	defaultEarlyDistribution = map[string]float64{
		"tier1.config_adjust":     0.10,
		"tier2.add_factor":        0.25,
		"tier2.remove_factor":     0.05,
		"tier2.replace_factor":    0.15,
		"tier2.mutate_parameters": 0.15,
		"tier3.ast_rewrite":       0.30,
	}
	defaultLateDistribution = map[string]float64{
		"tier1.config_adjust":     0.20,
		"tier2.add_factor":        0.05,
		"tier2.remove_factor":     0.05,
		"tier2.replace_factor":    0.10,
		"tier2.mutate_parameters": 0.40,
		"tier3.ast_rewrite":       0.20,
	}

	// structuralOperators receive the diversity and stagnation boosts.
	structuralOperators = map[string]bool{
		"tier2.add_factor":     true,
		"tier2.replace_factor": true,
		"tier3.ast_rewrite":    true,
	}

	tierRiskScores = map[Tier]float64{Tier1: 0.1, Tier2: 0.5, Tier3: 0.9}
)

const probabilitySumTolerance = 0.05

// Scheduler owns tier and operator selection. It blends the phase base
// table with diversity/stagnation boosts and per-operator success-rate
// adjustments, then samples a MutationPlan. Safe for concurrent use.
type Scheduler struct {
	early      map[string]float64
	late       map[string]float64
	keys       []string
	phaseSplit float64
	divThresh  float64
	divBoost   float64
	stagWindow int
	stagBoost  float64
	weight     float64
	minProb    float64
	decayEvery int

	mu      sync.Mutex
	counts  map[string]*adaptiveCount
	reports int

	rng *rng
}

type adaptiveCount struct {
	attempts  float64
	successes float64
}

// NewScheduler validates the configuration eagerly: both tables must sum
// to 1.0 within tolerance and must only name operators from the supplied
// set. Violations are construction errors.
func NewScheduler(cfg SchedulerConfig, operators []string) (*Scheduler, error) {
	early := cfg.EarlyDistribution
	if len(early) == 0 {
		early = defaultEarlyDistribution
	}
	late := cfg.LateDistribution
	if len(late) == 0 {
		late = defaultLateDistribution
	}
	known := make(map[string]bool, len(operators))
	for _, op := range operators {
		known[op] = true
	}
	for name, table := range map[string]map[string]float64{"early": early, "late": late} {
		if err := validateDistribution(name, table, known); err != nil {
			return nil, err
		}
	}

	s := &Scheduler{
		early:      copyTable(early),
		late:       copyTable(late),
		phaseSplit: defaulted(cfg.PhaseSplit, 0.5),
		divThresh:  defaulted(cfg.DiversityThreshold, 0.3),
		divBoost:   defaulted(cfg.DiversityBoost, 0.15),
		stagWindow: defaultedInt(cfg.StagnationWindow, 5),
		stagBoost:  defaulted(cfg.StagnationBoost, 0.15),
		weight:     defaulted(cfg.AdaptationWeight, 0.2),
		minProb:    defaulted(cfg.MinProbability, 0.05),
		decayEvery: defaultedInt(cfg.DecayInterval, 200),
		counts:     make(map[string]*adaptiveCount),
		rng:        newRNG(cfg.Seed),
	}
	if s.phaseSplit <= 0 || s.phaseSplit >= 1 {
		return nil, fmt.Errorf("phase split out of range (0,1): %v", s.phaseSplit)
	}
	if s.minProb < 0 || s.minProb*float64(len(s.early)) >= 1 {
		return nil, fmt.Errorf("min probability %v leaves no room for %d operators", s.minProb, len(s.early))
	}
	for key := range s.early {
		s.keys = append(s.keys, key)
	}
	sort.Strings(s.keys)
	return s, nil
}

func validateDistribution(name string, table map[string]float64, known map[string]bool) error {
	if len(table) == 0 {
		return fmt.Errorf("%s distribution is empty", name)
	}
	sum := 0.0
	for key, p := range table {
		if p < 0 {
			return fmt.Errorf("%s distribution: negative probability %v for %q", name, p, key)
		}
		if len(known) > 0 && !known[key] {
			return fmt.Errorf("%s distribution names unknown operator %q", name, key)
		}
		if _, _, err := splitOperatorKey(key); err != nil {
			return fmt.Errorf("%s distribution: %w", name, err)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > probabilitySumTolerance {
		return fmt.Errorf("%s distribution sums to %.4f, want 1.0 +- %.2f", name, sum, probabilitySumTolerance)
	}
	return nil
}

// splitOperatorKey parses "tier2.add_factor" into its parts.
func splitOperatorKey(key string) (Tier, MutationType, error) {
	idx := strings.Index(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return 0, "", fmt.Errorf("malformed operator key %q", key)
	}
	tier, err := ParseTier(key[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("operator key %q: %w", key, err)
	}
	return tier, MutationType(key[idx+1:]), nil
}

func copyTable(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func defaultedInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Report feeds one attempt outcome into the adaptive counters. Counters
// decay periodically so stale outcomes lose influence.
func (s *Scheduler) Report(tier Tier, op MutationType, success bool) {
	key := OperatorKey(tier, op)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[key]
	if !ok {
		c = &adaptiveCount{}
		s.counts[key] = c
	}
	c.attempts++
	if success {
		c.successes++
	}
	s.reports++
	if s.reports%s.decayEvery == 0 {
		for _, c := range s.counts {
			c.attempts /= 2
			c.successes /= 2
		}
	}
}

// successRatesLocked snapshots the adaptive cache. Operators with no
// observations are absent; callers treat them as the neutral 0.5.
func (s *Scheduler) successRatesLocked() map[string]float64 {
	out := make(map[string]float64, len(s.counts))
	for key, c := range s.counts {
		if c.attempts > 0 {
			out[key] = c.successes / c.attempts
		}
	}
	return out
}

// OperatorProbabilities computes the effective distribution for a state.
// Passing nil rates uses the scheduler's own adaptive cache; explicit
// rates (from a tracker) override it.
func (s *Scheduler) OperatorProbabilities(state SelectState, rates map[string]float64) map[string]float64 {
	if rates == nil {
		s.mu.Lock()
		rates = s.successRatesLocked()
		s.mu.Unlock()
	}

	base := s.early
	if s.phase(state) == "late" {
		base = s.late
	}
	probs := copyTable(base)

	// Diversity <= 0 means unmeasured, only a measured low value boosts.
	if state.Diversity > 0 && state.Diversity < s.divThresh {
		boostStructural(probs, s.divBoost)
	}
	if state.Stagnation >= s.stagWindow {
		boostStructural(probs, s.stagBoost)
	}

	for key := range probs {
		rate, ok := rates[key]
		if !ok {
			continue
		}
		probs[key] += s.weight * (rate - 0.5)
		if probs[key] < 0 {
			probs[key] = 0
		}
	}

	for key := range probs {
		if probs[key] < s.minProb {
			probs[key] = s.minProb
		}
	}
	normalize(probs)
	return probs
}

func (s *Scheduler) phase(state SelectState) string {
	if state.MaxGenerations <= 0 {
		return "early"
	}
	progress := float64(state.Generation) / float64(state.MaxGenerations)
	if progress >= s.phaseSplit {
		return "late"
	}
	return "early"
}

func boostStructural(probs map[string]float64, boost float64) {
	for key := range probs {
		if structuralOperators[key] {
			probs[key] = clampFloat64(probs[key]+boost, 0, 1)
		}
	}
}

func normalize(probs map[string]float64) {
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if sum <= 0 {
		uniform := 1.0 / float64(len(probs))
		for key := range probs {
			probs[key] = uniform
		}
		return
	}
	for key := range probs {
		probs[key] /= sum
	}
}

// SelectTier samples one operator from the effective distribution and
// wraps it in a MutationPlan.
func (s *Scheduler) SelectTier(state SelectState) MutationPlan {
	probs := s.OperatorProbabilities(state, nil)

	// Iterate in sorted key order so equal seeds select equal plans.
	r := s.rng.Float64()
	cum := 0.0
	chosen := s.keys[len(s.keys)-1]
	for _, key := range s.keys {
		cum += probs[key]
		if r < cum {
			chosen = key
			break
		}
	}

	tier, op, _ := splitOperatorKey(chosen)
	return MutationPlan{
		Tier:         tier,
		MutationType: op,
		RiskScore:    tierRiskScores[tier],
		Rationale: fmt.Sprintf("phase=%s diversity=%.2f stagnation=%d p(%s)=%.3f",
			s.phase(state), state.Diversity, state.Stagnation, chosen, probs[chosen]),
	}
}

// Operators lists the keys of the authoritative table in sorted order.
func (s *Scheduler) Operators() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}
