package mutation

import (
	"context"
	"fmt"
	"math"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// Tier2Config configures the structural factor mutator.
type Tier2Config struct {
	// Sigma is the relative strength used by mutate_parameters, 0 selects 0.10.
	Sigma float64 `yaml:"sigma"`
	// Seed makes the mutator reproducible, 0 selects a time-based seed.
	Seed int64 `yaml:"seed"`
	// Factors overrides the built-in factor library.
	Factors []FactorTemplate `yaml:"factors"`
	// ProtectedNames are assignments Tier2 must never remove or replace.
	// Defaults to ["signal"].
	ProtectedNames []string `yaml:"protected_names"`
}

const defaultTier2Sigma = 0.10

// tier2Operations are the structural operations in library order.
var tier2Operations = []MutationType{
	MutationAddFactor,
	MutationRemoveFactor,
	MutationReplaceFactor,
	MutationPerturbParams,
}

// Tier2Mutator mutates the factor structure of a snippet: it adds, removes
// or replaces whole factor assignments, or perturbs the numeric parameters
// of one factor expression. Output is re-rendered from the tree, so the
// snippet comes back canonically formatted.
type Tier2Mutator struct {
	sigma     float64
	library   *factorLibrary
	protected map[string]bool
	exitNames map[string]bool
	rng       *rng
}

// NewTier2Mutator parses the factor library eagerly and fails on broken
// templates.
func NewTier2Mutator(cfg Tier2Config) (*Tier2Mutator, error) {
	sigma := cfg.Sigma
	if sigma == 0 {
		sigma = defaultTier2Sigma
	}
	if sigma < 0 {
		return nil, fmt.Errorf("sigma must be positive, got %v", sigma)
	}
	library, err := newFactorLibrary(cfg.Factors)
	if err != nil {
		return nil, fmt.Errorf("invalid factor library: %w", err)
	}
	protected := cfg.ProtectedNames
	if len(protected) == 0 {
		protected = []string{"signal"}
	}
	m := &Tier2Mutator{
		sigma:     sigma,
		library:   library,
		protected: make(map[string]bool, len(protected)),
		exitNames: make(map[string]bool, 4),
		rng:       newRNG(cfg.Seed),
	}
	for _, name := range protected {
		m.protected[name] = true
	}
	for _, b := range DefaultExitBounds() {
		m.exitNames[b.Name] = true
	}
	return m, nil
}

// Name implements Mutator.
func (m *Tier2Mutator) Name() string { return "tier2" }

// Operations lists the schedulable operations of this tier.
func (m *Tier2Mutator) Operations() []MutationType {
	out := make([]MutationType, len(tier2Operations))
	copy(out, tier2Operations)
	return out
}

// Mutate picks one structural operation uniformly. Used on the fallback
// path, where no operation was planned.
func (m *Tier2Mutator) Mutate(ctx context.Context, candidate *Candidate) MutationResult {
	op := tier2Operations[m.rng.Intn(len(tier2Operations))]
	return m.MutateOp(ctx, candidate, op)
}

// MutateOp runs one specific structural operation.
func (m *Tier2Mutator) MutateOp(ctx context.Context, candidate *Candidate, op MutationType) MutationResult {
	meta := Metadata{Tier: Tier2, MutationType: op}
	if err := ctx.Err(); err != nil {
		return failure(candidate.Code, meta, err)
	}
	mod, err := dsl.Parse(candidate.Code)
	if err != nil {
		return failure(candidate.Code, meta, fmt.Errorf("failed to parse snippet: %w", err))
	}

	switch op {
	case MutationAddFactor:
		return m.addFactor(candidate.Code, mod, meta)
	case MutationRemoveFactor:
		return m.removeFactor(candidate.Code, mod, meta)
	case MutationReplaceFactor:
		return m.replaceFactor(candidate.Code, mod, meta)
	case MutationPerturbParams:
		return m.mutateParameters(candidate.Code, mod, meta)
	default:
		return failure(candidate.Code, meta, fmt.Errorf("unknown tier2 operation %q", op))
	}
}

// factorStmt is one factor assignment with its position in the module body.
type factorStmt struct {
	index  int
	name   string
	assign *dsl.Assign
}

// factorStmts lists assignments that define factors: named, not protected,
// not exit configuration, and not a bare numeric literal.
func (m *Tier2Mutator) factorStmts(mod *dsl.Module) []factorStmt {
	var out []factorStmt
	for i, stmt := range mod.Body {
		assign, ok := stmt.(*dsl.Assign)
		if !ok {
			continue
		}
		name, ok := assign.Target.(*dsl.NameRef)
		if !ok || m.protected[name.Name] || m.exitNames[name.Name] {
			continue
		}
		if _, _, isNum := numericLiteral(assign.Value); isNum {
			continue
		}
		out = append(out, factorStmt{index: i, name: name.Name, assign: assign})
	}
	return out
}

func (m *Tier2Mutator) addFactor(original string, mod *dsl.Module, meta Metadata) MutationResult {
	base, expr := m.library.pick(m.rng)
	name := uniqueName(mod, base)
	stmt := &dsl.Assign{Target: &dsl.NameRef{Name: name}, Value: expr}

	// Insert before the first protected assignment so the new factor is in
	// scope where the signal is computed.
	at := len(mod.Body)
	for i, s := range mod.Body {
		if assign, ok := s.(*dsl.Assign); ok {
			if target, ok := assign.Target.(*dsl.NameRef); ok && m.protected[target.Name] {
				at = i
				break
			}
		}
	}
	body := make([]dsl.Stmt, 0, len(mod.Body)+1)
	body = append(body, mod.Body[:at]...)
	body = append(body, stmt)
	body = append(body, mod.Body[at:]...)
	mod.Body = body

	meta.Parameter = name
	meta.Rationale = fmt.Sprintf("add factor %s = %s", name, dsl.RenderExpr(expr))
	return m.finish(original, mod, meta)
}

func (m *Tier2Mutator) removeFactor(original string, mod *dsl.Module, meta Metadata) MutationResult {
	factors := m.factorStmts(mod)
	if len(factors) <= 1 {
		return failure(original, meta, fmt.Errorf("cannot remove factor: %d factor(s) defined", len(factors)))
	}
	removable := make([]factorStmt, 0, len(factors))
	for _, f := range factors {
		if !referencedAfter(mod, f.index, f.name) {
			removable = append(removable, f)
		}
	}
	if len(removable) == 0 {
		return failure(original, meta, fmt.Errorf("every factor is referenced downstream"))
	}
	target := removable[m.rng.Intn(len(removable))]
	mod.Body = append(mod.Body[:target.index], mod.Body[target.index+1:]...)

	meta.Parameter = target.name
	meta.Rationale = fmt.Sprintf("remove factor %s", target.name)
	return m.finish(original, mod, meta)
}

func (m *Tier2Mutator) replaceFactor(original string, mod *dsl.Module, meta Metadata) MutationResult {
	factors := m.factorStmts(mod)
	if len(factors) == 0 {
		return failure(original, meta, fmt.Errorf("no factor assignment found"))
	}
	target := factors[m.rng.Intn(len(factors))]
	_, expr := m.library.pick(m.rng)
	target.assign.Value = expr

	meta.Parameter = target.name
	meta.Rationale = fmt.Sprintf("replace factor %s with %s", target.name, dsl.RenderExpr(expr))
	return m.finish(original, mod, meta)
}

func (m *Tier2Mutator) mutateParameters(original string, mod *dsl.Module, meta Metadata) MutationResult {
	factors := m.factorStmts(mod)
	var eligible []factorStmt
	for _, f := range factors {
		if len(numberLits(f.assign.Value)) > 0 {
			eligible = append(eligible, f)
		}
	}
	if len(eligible) == 0 {
		return failure(original, meta, fmt.Errorf("no factor with numeric parameters found"))
	}
	target := eligible[m.rng.Intn(len(eligible))]
	lits := numberLits(target.assign.Value)

	changed := 0
	for _, lit := range lits {
		if m.rng.Float64() >= 0.5 {
			continue
		}
		m.perturbLiteral(lit)
		changed++
	}
	if changed == 0 {
		m.perturbLiteral(lits[m.rng.Intn(len(lits))])
		changed = 1
	}

	meta.Parameter = target.name
	meta.Rationale = fmt.Sprintf("perturb %d parameter(s) of factor %s", changed, target.name)
	return m.finish(original, mod, meta)
}

// perturbLiteral rewrites one literal in place with a relative Gaussian
// bump. Window-style integer parameters stay integral and at least 1.
func (m *Tier2Mutator) perturbLiteral(lit *dsl.NumberLit) {
	old := lit.Value
	v := old * (1 + m.sigma*m.rng.NormFloat64())
	if old > 0 && v < 0 {
		v = math.Abs(v)
	}
	if lit.IsInt {
		v = math.Round(v)
		if old >= 1 && v < 1 {
			v = 1
		}
	}
	dsl.SetNumber(lit, v)
}

// finish renders the rewritten tree and re-checks syntax.
func (m *Tier2Mutator) finish(original string, mod *dsl.Module, meta Metadata) MutationResult {
	mutated := dsl.Render(mod)
	if _, err := dsl.Parse(mutated); err != nil {
		return failure(original, meta, fmt.Errorf("mutated snippet failed syntax check: %w", err))
	}
	return MutationResult{MutatedCode: mutated, Success: true, Metadata: meta}
}

// uniqueName derives an unused assignment name from base.
func uniqueName(mod *dsl.Module, base string) string {
	used := make(map[string]bool)
	dsl.Walk(mod, func(n dsl.Node) bool {
		if assign, ok := n.(*dsl.Assign); ok {
			if target, ok := assign.Target.(*dsl.NameRef); ok {
				used[target.Name] = true
			}
		}
		return true
	})
	if !used[base] {
		return base
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if !used[name] {
			return name
		}
	}
}

// referencedAfter reports whether name is read by any statement after index.
func referencedAfter(mod *dsl.Module, index int, name string) bool {
	found := false
	for _, stmt := range mod.Body[index+1:] {
		dsl.Walk(stmt, func(n dsl.Node) bool {
			if ref, ok := n.(*dsl.NameRef); ok && ref.Name == name {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// numberLits collects the numeric literals inside an expression.
func numberLits(e dsl.Expr) []*dsl.NumberLit {
	var lits []*dsl.NumberLit
	dsl.Walk(e, func(n dsl.Node) bool {
		if lit, ok := n.(*dsl.NumberLit); ok {
			lits = append(lits, lit)
		}
		return true
	})
	return lits
}
