package mutation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// DefaultSigma is the relative perturbation strength: the new value is
// old * (1 + N(0, sigma)).
const DefaultSigma = 0.15

// ExitMutatorConfig configures the exit parameter mutator.
type ExitMutatorConfig struct {
	// Sigma is the standard deviation of the relative perturbation,
	// 0 selects DefaultSigma.
	Sigma float64 `yaml:"sigma"`
	// Seed makes the mutator reproducible, 0 selects a time-based seed.
	Seed int64 `yaml:"seed"`
	// Bounds overrides the default exit parameter table.
	Bounds []ParameterBounds `yaml:"bounds"`
}

// ExitParameterMutator perturbs one bounded exit parameter in place. The
// snippet text around the rewritten literal is preserved byte for byte.
type ExitParameterMutator struct {
	sigma    float64
	bounds   map[string]ParameterBounds
	order    []string
	patterns map[string]*regexp.Regexp
	rng      *rng
}

// NewExitParameterMutator validates the config eagerly and builds the
// per-parameter assignment patterns.
func NewExitParameterMutator(cfg ExitMutatorConfig) (*ExitParameterMutator, error) {
	sigma := cfg.Sigma
	if sigma == 0 {
		sigma = DefaultSigma
	}
	if sigma < 0 {
		return nil, fmt.Errorf("sigma must be positive, got %v", sigma)
	}
	bounds := cfg.Bounds
	if len(bounds) == 0 {
		bounds = DefaultExitBounds()
	}
	if err := ValidateBounds(bounds); err != nil {
		return nil, fmt.Errorf("invalid exit parameter bounds: %w", err)
	}

	m := &ExitParameterMutator{
		sigma:    sigma,
		bounds:   make(map[string]ParameterBounds, len(bounds)),
		order:    make([]string, 0, len(bounds)),
		patterns: make(map[string]*regexp.Regexp, len(bounds)),
		rng:      newRNG(cfg.Seed),
	}
	for _, b := range bounds {
		m.bounds[b.Name] = b
		m.order = append(m.order, b.Name)
		m.patterns[b.Name] = assignPattern(b.Name)
	}
	return m, nil
}

// assignPattern matches the first `name = <number>` assignment of a line.
func assignPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(name) +
		`[ \t]*=[ \t]*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?)`)
}

// Parameters lists the configured parameter names in table order.
func (m *ExitParameterMutator) Parameters() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Bounds returns the bounds table entry for a parameter.
func (m *ExitParameterMutator) Bounds(param string) (ParameterBounds, bool) {
	b, ok := m.bounds[param]
	return b, ok
}

// MutateParam perturbs the first assignment of param inside code. Any
// failure returns the original snippet unchanged with Success false.
func (m *ExitParameterMutator) MutateParam(code, param string) MutationResult {
	meta := Metadata{MutationType: MutationExitParameter, Parameter: param}

	bounds, ok := m.bounds[param]
	if !ok {
		return failure(code, meta, fmt.Errorf("unknown exit parameter %q", param))
	}
	loc := m.patterns[param].FindStringSubmatchIndex(code)
	if loc == nil {
		return failure(code, meta, fmt.Errorf("parameter %q not found in snippet", param))
	}
	valStart, valEnd := loc[2], loc[3]
	oldValue, err := strconv.ParseFloat(code[valStart:valEnd], 64)
	if err != nil {
		return failure(code, meta, fmt.Errorf("failed to parse current value of %q: %w", param, err))
	}

	newValue := oldValue * (1 + m.sigma*m.rng.NormFloat64())
	if newValue < 0 {
		newValue = math.Abs(newValue)
	}
	if bounds.IsInteger {
		newValue = math.Round(newValue)
	}
	newValue, clamped := bounds.Clamp(newValue)

	mutated := code[:valStart] + dsl.FormatNumber(newValue, bounds.IsInteger) + code[valEnd:]
	if _, err := dsl.Parse(mutated); err != nil {
		return failure(code, meta, fmt.Errorf("mutated snippet failed syntax check: %w", err))
	}

	meta.OldValue = oldValue
	meta.NewValue = newValue
	meta.Clamped = clamped
	return MutationResult{MutatedCode: mutated, Success: true, Metadata: meta}
}

// MutateAny perturbs one parameter chosen uniformly from the whole table.
// Snippets without exit logic fail with "not found", the expected dominant
// failure mode.
func (m *ExitParameterMutator) MutateAny(code string) MutationResult {
	return m.MutateParam(code, m.order[m.rng.Intn(len(m.order))])
}

// Name implements Mutator.
func (m *ExitParameterMutator) Name() string { return "exit" }

// Mutate implements Mutator. The candidate's Parameter metadata stays
// TierExit so exit attempts are distinguishable in the statistics.
func (m *ExitParameterMutator) Mutate(ctx context.Context, candidate *Candidate) MutationResult {
	if err := ctx.Err(); err != nil {
		return failure(candidate.Code, Metadata{MutationType: MutationExitParameter}, err)
	}
	return m.MutateAny(candidate.Code)
}
