package mutation

import (
	"context"
	"fmt"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// Tier3Config configures the syntax-tree rewriter.
type Tier3Config struct {
	// ComparatorProb is the per-operator chance of swapping a comparison
	// for its inclusive/exclusive twin, 0 selects 0.3.
	ComparatorProb float64 `yaml:"comparator_prob"`
	// ThresholdProb is the per-literal chance of rescaling a comparison
	// threshold, 0 selects 0.3.
	ThresholdProb float64 `yaml:"threshold_prob"`
	// ArithmeticProb is the per-operator chance of swapping + for - or
	// * for /, 0 selects 0.3.
	ArithmeticProb float64 `yaml:"arithmetic_prob"`
	// ThresholdScale bounds the uniform rescale factor to
	// [1-scale, 1+scale], 0 selects 0.2.
	ThresholdScale float64 `yaml:"threshold_scale"`
	// Seed makes the mutator reproducible, 0 selects a time-based seed.
	Seed int64 `yaml:"seed"`
}

const (
	defaultTier3Prob  = 0.3
	defaultTier3Scale = 0.2
)

// comparatorSwap pairs each relational operator with its twin. Equality
// operators stay untouched: flipping == to != inverts the signal wholesale
// instead of nudging a boundary.
var comparatorSwap = map[string]string{
	"<": "<=", "<=": "<",
	">": ">=", ">=": ">",
}

// arithmeticSwap pairs each arithmetic operator with its counterpart.
var arithmeticSwap = map[string]string{
	"+": "-", "-": "+",
	"*": "/", "/": "*",
}

// Tier3Mutator rewrites the syntax tree of one statement: comparison
// operators, comparison thresholds, and arithmetic operators each mutate
// with an independent per-node probability. The rewritten snippet must pass
// the ASTValidator or the whole mutation is discarded.
type Tier3Mutator struct {
	cmpProb   float64
	thrProb   float64
	arithProb float64
	scale     float64
	validator *ASTValidator
	rng       *rng
}

// NewTier3Mutator validates probabilities eagerly.
func NewTier3Mutator(cfg Tier3Config, validator *ASTValidator) (*Tier3Mutator, error) {
	m := &Tier3Mutator{
		cmpProb:   defaulted(cfg.ComparatorProb, defaultTier3Prob),
		thrProb:   defaulted(cfg.ThresholdProb, defaultTier3Prob),
		arithProb: defaulted(cfg.ArithmeticProb, defaultTier3Prob),
		scale:     defaulted(cfg.ThresholdScale, defaultTier3Scale),
		validator: validator,
		rng:       newRNG(cfg.Seed),
	}
	for _, p := range []float64{m.cmpProb, m.thrProb, m.arithProb} {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("probability out of range [0,1]: %v", p)
		}
	}
	if m.scale <= 0 || m.scale >= 1 {
		return nil, fmt.Errorf("threshold scale out of range (0,1): %v", m.scale)
	}
	if m.validator == nil {
		m.validator = NewASTValidator(nil)
	}
	return m, nil
}

func defaulted(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Name implements Mutator.
func (m *Tier3Mutator) Name() string { return "tier3" }

// Operations lists the schedulable operations of this tier.
func (m *Tier3Mutator) Operations() []MutationType {
	return []MutationType{MutationASTRewrite}
}

// Mutate picks one rewritable statement and mutates its tree in place. The
// result is rendered, revalidated, and discarded whole on any violation.
func (m *Tier3Mutator) Mutate(ctx context.Context, candidate *Candidate) MutationResult {
	meta := Metadata{Tier: Tier3, MutationType: MutationASTRewrite}
	if err := ctx.Err(); err != nil {
		return failure(candidate.Code, meta, err)
	}
	mod, err := dsl.Parse(candidate.Code)
	if err != nil {
		return failure(candidate.Code, meta, fmt.Errorf("failed to parse snippet: %w", err))
	}

	var eligible []dsl.Stmt
	for _, stmt := range mod.Body {
		if countRewriteSites(stmt) > 0 {
			eligible = append(eligible, stmt)
		}
	}
	if len(eligible) == 0 {
		return failure(candidate.Code, meta, fmt.Errorf("no rewritable operator or threshold found"))
	}
	target := eligible[m.rng.Intn(len(eligible))]

	counts := m.rewrite(target)
	if counts.total() == 0 {
		return failure(candidate.Code, meta, fmt.Errorf("no rewrite applied"))
	}

	mutated := dsl.Render(mod)
	if res := m.validator.Validate(mutated); !res.Valid {
		return failure(candidate.Code, meta, fmt.Errorf("rewrite rejected: %s", res.ErrorString()))
	}

	meta.Rationale = counts.String()
	return MutationResult{MutatedCode: mutated, Success: true, Metadata: meta}
}

// rewriteCounts tallies applied transforms for the rationale.
type rewriteCounts struct {
	comparators int
	thresholds  int
	arithmetic  int
}

func (c rewriteCounts) total() int { return c.comparators + c.thresholds + c.arithmetic }

func (c rewriteCounts) String() string {
	return fmt.Sprintf("ast rewrite: %d comparator(s), %d threshold(s), %d arithmetic op(s)",
		c.comparators, c.thresholds, c.arithmetic)
}

// rewrite applies the three transforms across one statement's subtree.
func (m *Tier3Mutator) rewrite(stmt dsl.Stmt) rewriteCounts {
	var counts rewriteCounts
	dsl.Walk(stmt, func(n dsl.Node) bool {
		switch node := n.(type) {
		case *dsl.CompareExpr:
			for i, op := range node.Ops {
				if twin, ok := comparatorSwap[op]; ok && m.rng.Float64() < m.cmpProb {
					node.Ops[i] = twin
					counts.comparators++
				}
			}
			counts.thresholds += m.scaleThreshold(node.Left)
			for _, cmp := range node.Comparators {
				counts.thresholds += m.scaleThreshold(cmp)
			}
		case *dsl.BinaryExpr:
			if twin, ok := arithmeticSwap[node.Op]; ok && m.rng.Float64() < m.arithProb {
				node.Op = twin
				counts.arithmetic++
			}
		}
		return true
	})
	return counts
}

// scaleThreshold rescales a literal comparison operand by a uniform factor
// in [1-scale, 1+scale]. Signed literals count: -0.02 is as much a
// threshold as 0.02.
func (m *Tier3Mutator) scaleThreshold(operand dsl.Expr) int {
	var lit *dsl.NumberLit
	switch x := operand.(type) {
	case *dsl.NumberLit:
		lit = x
	case *dsl.UnaryExpr:
		if inner, ok := x.Operand.(*dsl.NumberLit); ok && (x.Op == "-" || x.Op == "+") {
			lit = inner
		}
	}
	if lit == nil || m.rng.Float64() >= m.thrProb {
		return 0
	}
	factor := 1 + m.scale*(2*m.rng.Float64()-1)
	dsl.SetNumber(lit, lit.Value*factor)
	return 1
}

// countRewriteSites reports how many nodes the three transforms could touch.
func countRewriteSites(stmt dsl.Stmt) int {
	sites := 0
	dsl.Walk(stmt, func(n dsl.Node) bool {
		switch node := n.(type) {
		case *dsl.CompareExpr:
			for _, op := range node.Ops {
				if _, ok := comparatorSwap[op]; ok {
					sites++
				}
			}
			if isThresholdLit(node.Left) {
				sites++
			}
			for _, cmp := range node.Comparators {
				if isThresholdLit(cmp) {
					sites++
				}
			}
		case *dsl.BinaryExpr:
			if _, ok := arithmeticSwap[node.Op]; ok {
				sites++
			}
		}
		return true
	})
	return sites
}

func isThresholdLit(e dsl.Expr) bool {
	switch x := e.(type) {
	case *dsl.NumberLit:
		return true
	case *dsl.UnaryExpr:
		_, ok := x.Operand.(*dsl.NumberLit)
		return ok && (x.Op == "-" || x.Op == "+")
	}
	return false
}
