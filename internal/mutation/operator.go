package mutation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

// Mode forces one side of the exit-vs-tier split.
type Mode int

const (
	// ModeAuto rolls the configured exit probability.
	ModeAuto Mode = iota
	// ModeExit forces an exit-parameter mutation.
	ModeExit
	// ModeTier forces a tier mutation.
	ModeTier
)

// OperatorConfig configures the unified dispatcher.
type OperatorConfig struct {
	// ExitProbability is the chance a call mutates exit parameters
	// instead of running a tier mutation, 0 selects 0.2.
	ExitProbability float64 `yaml:"exit_probability"`
	// DisableFallback turns off the tier cascade.
	DisableFallback bool `yaml:"disable_fallback"`
	// DisableValidation skips the security screen on mutated output.
	DisableValidation bool `yaml:"disable_validation"`
	// Seed makes the exit-vs-tier roll reproducible, 0 selects a
	// time-based seed.
	Seed int64 `yaml:"seed"`
}

const defaultExitProbability = 0.2

// OperatorComponents are the collaborators the dispatcher drives.
type OperatorComponents struct {
	Exit      *ExitParameterMutator
	Tiers     map[Tier]Mutator
	Scheduler *Scheduler
	Tracker   *Tracker
	Validator *security.Validator
	Logger    logger.Logger
}

// UnifiedOperator is the top-level mutation dispatcher. Each call either
// perturbs exit parameters or runs one tier mutation chosen by the
// scheduler; failed tier attempts walk the fixed cascade Tier3 -> Tier2 ->
// Tier1. Every attempt outcome is reported to the tracker and the
// scheduler exactly once.
type UnifiedOperator struct {
	exitProb float64
	fallback bool
	validate bool

	exit      *ExitParameterMutator
	tiers     map[Tier]Mutator
	scheduler *Scheduler
	tracker   *Tracker
	validator *security.Validator
	log       logger.Logger
	rng       *rng

	mu    sync.RWMutex
	state SelectState
}

// NewUnifiedOperator validates configuration and wiring eagerly: a missing
// tier, exit mutator, scheduler or tracker is a construction error.
func NewUnifiedOperator(cfg OperatorConfig, c OperatorComponents) (*UnifiedOperator, error) {
	exitProb := cfg.ExitProbability
	if exitProb == 0 {
		exitProb = defaultExitProbability
	}
	if exitProb < 0 || exitProb > 1 {
		return nil, fmt.Errorf("exit probability out of range [0,1]: %v", exitProb)
	}
	if c.Exit == nil {
		return nil, fmt.Errorf("exit mutator is required")
	}
	for _, tier := range AllTiers {
		if c.Tiers[tier] == nil {
			return nil, fmt.Errorf("missing mutator for %s", tier)
		}
	}
	if c.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if c.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if c.Validator == nil {
		c.Validator = security.NewValidator(security.Config{})
	}
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
	return &UnifiedOperator{
		exitProb:  exitProb,
		fallback:  !cfg.DisableFallback,
		validate:  !cfg.DisableValidation,
		exit:      c.Exit,
		tiers:     c.Tiers,
		scheduler: c.Scheduler,
		tracker:   c.Tracker,
		validator: c.Validator,
		log:       c.Logger.WithField("module", "mutation"),
		rng:       newRNG(cfg.Seed),
	}, nil
}

// OperatorKeysOf lists the schedulable operator keys of a tier set, for
// wiring the scheduler.
func OperatorKeysOf(tiers map[Tier]Mutator) []string {
	var keys []string
	for tier, m := range tiers {
		ops, ok := m.(interface{ Operations() []MutationType })
		if !ok {
			continue
		}
		for _, op := range ops.Operations() {
			keys = append(keys, OperatorKey(tier, op))
		}
	}
	return keys
}

// SetState publishes the evolution-loop snapshot used for scheduling.
func (u *UnifiedOperator) SetState(state SelectState) {
	u.mu.Lock()
	u.state = state
	u.mu.Unlock()
}

// State returns the current scheduling snapshot.
func (u *UnifiedOperator) State() SelectState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// Name implements Mutator.
func (u *UnifiedOperator) Name() string { return "unified" }

// Mutate implements Mutator: it rolls the exit-vs-tier split and runs the
// chosen path.
func (u *UnifiedOperator) Mutate(ctx context.Context, candidate *Candidate) MutationResult {
	return u.MutateMode(ctx, candidate, ModeAuto)
}

// MutateMode runs one mutation with an explicit path override.
func (u *UnifiedOperator) MutateMode(ctx context.Context, candidate *Candidate, mode Mode) MutationResult {
	if mode == ModeAuto {
		if u.rng.Float64() < u.exitProb {
			mode = ModeExit
		} else {
			mode = ModeTier
		}
	}
	if mode == ModeExit {
		return u.mutateExit(ctx, candidate)
	}
	return u.mutateTier(ctx, candidate)
}

// MutateExitParam perturbs one named exit parameter, bypassing the roll.
func (u *UnifiedOperator) MutateExitParam(ctx context.Context, candidate *Candidate, param string) MutationResult {
	if err := ctx.Err(); err != nil {
		return failure(candidate.Code, Metadata{MutationType: MutationExitParameter, Parameter: param}, err)
	}
	res := u.exit.MutateParam(candidate.Code, param)
	u.report(TierExit, res)
	return res
}

func (u *UnifiedOperator) mutateExit(ctx context.Context, candidate *Candidate) MutationResult {
	res := u.exit.Mutate(ctx, candidate)
	u.report(TierExit, res)
	if res.Success {
		u.log.Debug("exit parameter mutated",
			"parameter", res.Metadata.Parameter,
			"old", res.Metadata.OldValue,
			"new", res.Metadata.NewValue,
			"clamped", res.Metadata.Clamped)
	}
	return res
}

func (u *UnifiedOperator) mutateTier(ctx context.Context, candidate *Candidate) MutationResult {
	plan := u.scheduler.SelectTier(u.State())
	chain := make([]Tier, 0, len(AllTiers))
	var failures []string

	tier := plan.Tier
	op := plan.MutationType
	for {
		chain = append(chain, tier)
		res := u.attempt(ctx, tier, op, candidate)
		u.report(tier, res)
		if res.Success {
			res.Metadata.FallbackChain = append([]Tier(nil), chain...)
			if res.Metadata.Rationale == "" {
				res.Metadata.Rationale = plan.Rationale
			}
			return res
		}
		failures = append(failures, fmt.Sprintf("%s: %v", tier, res.Err))
		u.log.Debug("tier attempt failed", "tier", tier.String(), "error", res.Err)
		if !u.fallback || tier == Tier1 {
			break
		}
		// Fixed cascade: Tier3 -> Tier2 -> Tier1.
		tier--
		op = ""
	}

	meta := Metadata{
		Tier:          chain[0],
		MutationType:  plan.MutationType,
		FallbackChain: append([]Tier(nil), chain...),
		Rationale:     plan.Rationale,
	}
	err := errors.NewAppErrorWithDetails(
		errors.ErrCodeTierExhausted,
		"every tier in the fallback cascade failed",
		strings.Join(failures, "; "),
		nil,
	).WithContext("fallback_chain", tierChainString(chain))
	u.log.Warn("mutation cascade exhausted", "chain", tierChainString(chain), "failures", strings.Join(failures, "; "))
	return failure(candidate.Code, meta, err)
}

// attempt runs one tier once. A planned operation is honored when the tier
// exposes named operations; fallback attempts let the tier choose. When
// validation is enabled a rejected result fails the attempt exactly like a
// mutation error.
func (u *UnifiedOperator) attempt(ctx context.Context, tier Tier, op MutationType, candidate *Candidate) MutationResult {
	m := u.tiers[tier]
	var res MutationResult
	if om, ok := m.(OperationMutator); ok && op != "" {
		res = om.MutateOp(ctx, candidate, op)
	} else {
		res = m.Mutate(ctx, candidate)
	}
	if !res.Success {
		return res
	}
	if u.validate {
		if v := u.validator.Validate(res.MutatedCode); !v.Valid {
			return failure(candidate.Code, res.Metadata, errors.NewAppErrorWithDetails(
				errors.ErrCodePolicyViolation,
				"mutated snippet rejected by security screen",
				v.ErrorString(),
				nil,
			))
		}
	}
	return res
}

// report feeds one attempt outcome to the tracker and the scheduler.
// Exit-path keys never appear in the scheduler's table, so reporting them
// is a no-op for selection but keeps the accounting uniform.
func (u *UnifiedOperator) report(tier Tier, res MutationResult) {
	op := res.Metadata.MutationType
	u.tracker.Record(tier, op, res.Success, 0)
	u.scheduler.Report(tier, op, res.Success)
}

func tierChainString(chain []Tier) string {
	parts := make([]string, len(chain))
	for i, t := range chain {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}
