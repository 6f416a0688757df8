// Package mutation implements the tiered mutation engine: bounded exit
// parameter perturbation, structural factor edits, AST-level rewrites, and
// the adaptive scheduling and bookkeeping that drive them inside the
// evolutionary search loop.
package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Tier identifies a mutation aggressiveness level.
type Tier int

const (
	// TierExit tags exit-parameter mutations in statistics. It is not a
	// member of the fallback cascade.
	TierExit Tier = 0
	// Tier1 performs config-level parameter edits, the safest changes.
	Tier1 Tier = 1
	// Tier2 performs structural edits on factor statements.
	Tier2 Tier = 2
	// Tier3 rewrites the snippet AST directly, the riskiest changes.
	Tier3 Tier = 3
)

// AllTiers lists every tier in ascending risk order.
var AllTiers = []Tier{Tier1, Tier2, Tier3}

func (t Tier) String() string {
	switch t {
	case TierExit:
		return "exit"
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	}
	return fmt.Sprintf("tier%d", int(t))
}

// ParseTier converts the wire form ("tier1".."tier3") back to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "tier1":
		return Tier1, nil
	case "tier2":
		return Tier2, nil
	case "tier3":
		return Tier3, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MutationType names the concrete operation applied to a candidate.
type MutationType string

const (
	MutationExitParameter MutationType = "exit_parameter"
	MutationConfigAdjust  MutationType = "config_adjust"
	MutationAddFactor     MutationType = "add_factor"
	MutationRemoveFactor  MutationType = "remove_factor"
	MutationReplaceFactor MutationType = "replace_factor"
	MutationPerturbParams MutationType = "mutate_parameters"
	MutationASTRewrite    MutationType = "ast_rewrite"
)

// Candidate is one strategy snippet inside the evolutionary loop. Mutators
// never modify a candidate; they return new code in the result.
type Candidate struct {
	ID         uuid.UUID          `json:"id"`
	Code       string             `json:"code"`
	Params     map[string]float64 `json:"params,omitempty"`
	Generation int                `json:"generation"`
}

// NewCandidate wraps snippet code with a fresh identity.
func NewCandidate(code string, generation int) *Candidate {
	return &Candidate{
		ID:         uuid.New(),
		Code:       code,
		Params:     make(map[string]float64),
		Generation: generation,
	}
}

// Clone deep-copies the candidate.
func (c *Candidate) Clone() *Candidate {
	params := make(map[string]float64, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	return &Candidate{
		ID:         c.ID,
		Code:       c.Code,
		Params:     params,
		Generation: c.Generation,
	}
}

// Metadata records what a mutation changed.
type Metadata struct {
	Tier          Tier         `json:"tier,omitempty"`
	MutationType  MutationType `json:"mutation_type,omitempty"`
	Parameter     string       `json:"parameter,omitempty"`
	OldValue      float64      `json:"old_value,omitempty"`
	NewValue      float64      `json:"new_value,omitempty"`
	Clamped       bool         `json:"clamped,omitempty"`
	FallbackChain []Tier       `json:"fallback_chain,omitempty"`
	Rationale     string       `json:"rationale,omitempty"`
}

// MutationResult is the outcome of one mutation attempt. On failure
// MutatedCode carries the input snippet unchanged.
type MutationResult struct {
	MutatedCode string   `json:"mutated_code"`
	Success     bool     `json:"success"`
	Metadata    Metadata `json:"metadata"`
	Err         error    `json:"-"`
}

// failure builds the canonical failed result: original code, success false.
func failure(original string, meta Metadata, err error) MutationResult {
	return MutationResult{
		MutatedCode: original,
		Success:     false,
		Metadata:    meta,
		Err:         err,
	}
}

// MutationPlan describes an intended mutation before it runs, used by the
// API surface to preview scheduler decisions.
type MutationPlan struct {
	Tier         Tier         `json:"tier"`
	MutationType MutationType `json:"mutation_type"`
	RiskScore    float64      `json:"risk_score"`
	Rationale    string       `json:"rationale"`
}

// Mutator is the explicit contract every tier mutator satisfies.
type Mutator interface {
	Name() string
	Mutate(ctx context.Context, candidate *Candidate) MutationResult
}

// OperationMutator is satisfied by tiers that expose more than one named
// operation. The dispatcher uses it to execute a planned operation instead
// of letting the tier pick its own.
type OperationMutator interface {
	Mutator
	MutateOp(ctx context.Context, candidate *Candidate, op MutationType) MutationResult
}

// OperatorKey is the canonical statistics and scheduling key for one
// (tier, operation) pair, e.g. "tier2.add_factor".
func OperatorKey(tier Tier, op MutationType) string {
	return tier.String() + "." + string(op)
}
