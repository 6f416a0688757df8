package mutation

import (
	"context"
	"fmt"
	"math"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// Tier1Config configures the config-level mutator.
type Tier1Config struct {
	// Sigma is the relative perturbation strength, 0 selects 0.05.
	Sigma float64 `yaml:"sigma"`
	// Seed makes the mutator reproducible, 0 selects a time-based seed.
	Seed int64 `yaml:"seed"`
	// Bounds for parameters with a known safe range.
	Bounds []ParameterBounds `yaml:"bounds"`
}

const defaultTier1Sigma = 0.05

// Tier1Mutator performs the safest mutations: it treats the snippet's
// module-level numeric assignments as a structured configuration table and
// perturbs exactly one entry, leaving code structure untouched.
type Tier1Mutator struct {
	sigma  float64
	bounds map[string]ParameterBounds
	rng    *rng
}

// NewTier1Mutator validates the config eagerly.
func NewTier1Mutator(cfg Tier1Config) (*Tier1Mutator, error) {
	sigma := cfg.Sigma
	if sigma == 0 {
		sigma = defaultTier1Sigma
	}
	if sigma < 0 {
		return nil, fmt.Errorf("sigma must be positive, got %v", sigma)
	}
	bounds := cfg.Bounds
	if len(bounds) == 0 {
		bounds = DefaultExitBounds()
	}
	if err := ValidateBounds(bounds); err != nil {
		return nil, fmt.Errorf("invalid tier1 bounds: %w", err)
	}
	m := &Tier1Mutator{
		sigma:  sigma,
		bounds: make(map[string]ParameterBounds, len(bounds)),
		rng:    newRNG(cfg.Seed),
	}
	for _, b := range bounds {
		m.bounds[b.Name] = b
	}
	return m, nil
}

// Name implements Mutator.
func (m *Tier1Mutator) Name() string { return "tier1" }

// Operations lists the schedulable operations of this tier.
func (m *Tier1Mutator) Operations() []MutationType {
	return []MutationType{MutationConfigAdjust}
}

// configEntry is one module-level `name = <number>` assignment.
type configEntry struct {
	name  string
	value float64
	isInt bool
}

// Mutate perturbs one numeric configuration assignment. Snippets without
// any such assignment fail and leave the input untouched.
func (m *Tier1Mutator) Mutate(ctx context.Context, candidate *Candidate) MutationResult {
	meta := Metadata{Tier: Tier1, MutationType: MutationConfigAdjust}
	if err := ctx.Err(); err != nil {
		return failure(candidate.Code, meta, err)
	}

	mod, err := dsl.Parse(candidate.Code)
	if err != nil {
		return failure(candidate.Code, meta, fmt.Errorf("failed to parse snippet: %w", err))
	}
	entries := collectConfigEntries(mod)
	if len(entries) == 0 {
		return failure(candidate.Code, meta, fmt.Errorf("no numeric configuration assignment found"))
	}

	entry := entries[m.rng.Intn(len(entries))]
	meta.Parameter = entry.name
	meta.OldValue = entry.value

	newValue := entry.value * (1 + m.sigma*m.rng.NormFloat64())
	clamped := false
	if b, ok := m.bounds[entry.name]; ok {
		if newValue < 0 {
			newValue = math.Abs(newValue)
		}
		if b.IsInteger {
			newValue = math.Round(newValue)
		}
		newValue, clamped = b.Clamp(newValue)
	} else if entry.isInt {
		newValue = math.Round(newValue)
	}

	isInt := entry.isInt
	if b, ok := m.bounds[entry.name]; ok {
		isInt = b.IsInteger
	}
	pattern := assignPattern(entry.name)
	loc := pattern.FindStringSubmatchIndex(candidate.Code)
	if loc == nil {
		return failure(candidate.Code, meta, fmt.Errorf("assignment of %q not found in snippet text", entry.name))
	}
	mutated := candidate.Code[:loc[2]] + dsl.FormatNumber(newValue, isInt) + candidate.Code[loc[3]:]
	if _, err := dsl.Parse(mutated); err != nil {
		return failure(candidate.Code, meta, fmt.Errorf("mutated snippet failed syntax check: %w", err))
	}

	meta.NewValue = newValue
	meta.Clamped = clamped
	meta.Rationale = fmt.Sprintf("config adjust %s: %s -> %s",
		entry.name, dsl.FormatNumber(entry.value, isInt), dsl.FormatNumber(newValue, isInt))
	return MutationResult{MutatedCode: mutated, Success: true, Metadata: meta}
}

// collectConfigEntries lists module-level numeric assignments, first
// assignment per name.
func collectConfigEntries(mod *dsl.Module) []configEntry {
	var entries []configEntry
	seen := make(map[string]bool)
	for _, stmt := range mod.Body {
		assign, ok := stmt.(*dsl.Assign)
		if !ok {
			continue
		}
		name, ok := assign.Target.(*dsl.NameRef)
		if !ok || seen[name.Name] {
			continue
		}
		value, isInt, ok := numericLiteral(assign.Value)
		if !ok {
			continue
		}
		seen[name.Name] = true
		entries = append(entries, configEntry{name: name.Name, value: value, isInt: isInt})
	}
	return entries
}

// numericLiteral unwraps a literal number, folding one leading unary sign.
func numericLiteral(e dsl.Expr) (value float64, isInt bool, ok bool) {
	switch x := e.(type) {
	case *dsl.NumberLit:
		return x.Value, x.IsInt, true
	case *dsl.UnaryExpr:
		if inner, innerOk := x.Operand.(*dsl.NumberLit); innerOk {
			switch x.Op {
			case "-":
				return -inner.Value, inner.IsInt, true
			case "+":
				return inner.Value, inner.IsInt, true
			}
		}
	}
	return 0, false, false
}
