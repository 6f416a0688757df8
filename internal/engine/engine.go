// Package engine composes the mutation dispatcher, the security screen and
// the sandboxed execution wrapper behind one service surface shared by the
// HTTP API and the cron-driven evolution loop.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/cache"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/database"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/sandbox"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

// defaultSeedSnippet is the starting strategy used when no seeds are
// configured. Momentum entry plus the four canonical exit parameters.
const defaultSeedSnippet = `momentum = close.pct_change(10)
trend = close.rolling(10).mean() / close.rolling(30).mean() - 1
signal = (momentum > 0) and (trend > 0)
stop_loss_pct = 0.10
take_profit_pct = 0.15
trailing_stop_pct = 0.05
max_holding_days = 10
`

// scoreMetric ranks candidates inside the evolution loop.
const scoreMetric = "sharpe"

// Broadcaster pushes engine events to connected stream clients.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// Config represents evolution loop configuration.
type Config struct {
	PopulationSize int           `yaml:"population_size"`
	MaxGenerations int           `yaml:"max_generations"`
	SeedSnippets   []string      `yaml:"seed_snippets"`
	StatsTTL       time.Duration `yaml:"stats_ttl"`
}

// Components are the collaborators the engine drives. Operator, Validator,
// Sandbox and Tracker are required; the rest degrade to no-ops when nil.
type Components struct {
	Operator    *mutation.UnifiedOperator
	Validator   *security.Validator
	Sandbox     *sandbox.Wrapper
	Tracker     *mutation.Tracker
	Metrics     *monitor.Metrics
	Cache       *cache.Cache
	History     *database.HistoryRepo
	Broadcaster Broadcaster
	Logger      logger.Logger
}

// member is one population slot. Candidates are immutable; replacement
// swaps the pointer.
type member struct {
	cand   *mutation.Candidate
	score  float64
	scored bool
}

// Engine is the mutation and execution-safety service.
type Engine struct {
	cfg       Config
	operator  *mutation.UnifiedOperator
	validator *security.Validator
	sandbox   *sandbox.Wrapper
	tracker   *mutation.Tracker
	metrics   *monitor.Metrics
	cache     *cache.Cache
	history   *database.HistoryRepo
	streams   Broadcaster
	log       logger.Logger

	epochMu sync.Mutex

	mu         sync.Mutex
	population []*member
	generation int
	bestScore  float64
	bestScored bool
	diversity  float64
	stagnation int
	epochs     int64
	lastEpoch  time.Time
}

// New validates the wiring and seeds the population. Seed snippets that
// fail the security screen are rejected at construction.
func New(cfg Config, c Components) (*Engine, error) {
	if c.Operator == nil {
		return nil, fmt.Errorf("mutation operator is required")
	}
	if c.Validator == nil {
		return nil, fmt.Errorf("security validator is required")
	}
	if c.Sandbox == nil {
		return nil, fmt.Errorf("sandbox wrapper is required")
	}
	if c.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if c.Logger == nil {
		c.Logger = logger.Module("engine")
	}
	if cfg.PopulationSize <= 0 {
		cfg.PopulationSize = 8
	}
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = 50
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 5 * time.Minute
	}
	seeds := cfg.SeedSnippets
	if len(seeds) == 0 {
		seeds = []string{defaultSeedSnippet}
	}
	for i, seed := range seeds {
		if v := c.Validator.Validate(seed); !v.Valid {
			return nil, fmt.Errorf("seed snippet %d rejected: %s", i, v.ErrorString())
		}
	}

	e := &Engine{
		cfg:       cfg,
		operator:  c.Operator,
		validator: c.Validator,
		sandbox:   c.Sandbox,
		tracker:   c.Tracker,
		metrics:   c.Metrics,
		cache:     c.Cache,
		history:   c.History,
		streams:   c.Broadcaster,
		log:       c.Logger,
	}
	e.population = make([]*member, 0, cfg.PopulationSize)
	for i := 0; i < cfg.PopulationSize; i++ {
		code := seeds[i%len(seeds)]
		e.population = append(e.population, &member{cand: mutation.NewCandidate(code, 0)})
	}
	e.diversity = diversityOf(e.population)
	return e, nil
}

// MutationRequest asks for one mutation of a snippet.
type MutationRequest struct {
	Code       string `json:"code"`
	Generation int    `json:"generation"`
	// Mode selects the dispatch path: "auto" (default), "exit" or "tier".
	Mode string `json:"mode,omitempty"`
	// Parameter forces an exit mutation of one named parameter.
	Parameter string `json:"parameter,omitempty"`
}

// MutationOutcome is the service-level result of one mutation.
type MutationOutcome struct {
	CandidateID uuid.UUID         `json:"candidate_id"`
	Generation  int               `json:"generation"`
	Success     bool              `json:"success"`
	MutatedCode string            `json:"mutated_code"`
	Metadata    mutation.Metadata `json:"metadata"`
	Error       string            `json:"error,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Mutate runs one mutation. The input snippet must pass the security
// screen; mutation failure is reported in the outcome, not as an error.
func (e *Engine) Mutate(ctx context.Context, req MutationRequest) (*MutationOutcome, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.NewAppError(errors.ErrCodeInvalidInput, "snippet code is required", nil)
	}
	if v := e.Validate(req.Code); !v.Valid {
		return nil, errors.NewAppErrorWithDetails(errors.ErrCodePolicyViolation,
			"snippet rejected by security screen", v.ErrorString(), nil)
	}

	candidate := mutation.NewCandidate(req.Code, req.Generation)
	start := time.Now()

	var res mutation.MutationResult
	switch {
	case req.Parameter != "":
		res = e.operator.MutateExitParam(ctx, candidate, req.Parameter)
	case req.Mode == "" || req.Mode == "auto":
		res = e.operator.Mutate(ctx, candidate)
	case req.Mode == "exit":
		res = e.operator.MutateMode(ctx, candidate, mutation.ModeExit)
	case req.Mode == "tier":
		res = e.operator.MutateMode(ctx, candidate, mutation.ModeTier)
	default:
		return nil, errors.NewAppError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown mutation mode %q", req.Mode), nil)
	}

	outcome := &MutationOutcome{
		CandidateID: candidate.ID,
		Generation:  req.Generation,
		Success:     res.Success,
		MutatedCode: res.MutatedCode,
		Metadata:    res.Metadata,
		DurationMS:  time.Since(start).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	e.recordMutation(outcome)
	e.persistMutation(ctx, outcome)
	e.broadcast("mutation", outcome)
	return outcome, nil
}

// Validate screens a snippet and counts rejections per rule.
func (e *Engine) Validate(code string) security.ValidationResult {
	result := e.validator.Validate(code)
	if e.metrics != nil {
		for _, msg := range result.Errors {
			e.metrics.RecordValidationRejection(ruleOf(msg))
		}
	}
	return result
}

// ExecutionRequest asks for one sandboxed run of a snippet.
type ExecutionRequest struct {
	Code       string `json:"code"`
	Generation int    `json:"generation"`
}

// ExecutionOutcome is the service-level result of one sandboxed run.
type ExecutionOutcome struct {
	CandidateID uuid.UUID          `json:"candidate_id"`
	Success     bool               `json:"success"`
	Isolated    bool               `json:"isolated"`
	Mode        string             `json:"mode"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
	DurationMS  int64              `json:"duration_ms"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Execute validates and runs one snippet through the sandbox wrapper.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionOutcome, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.NewAppError(errors.ErrCodeInvalidInput, "snippet code is required", nil)
	}
	if v := e.Validate(req.Code); !v.Valid {
		return nil, errors.NewAppErrorWithDetails(errors.ErrCodePolicyViolation,
			"snippet rejected by security screen", v.ErrorString(), nil)
	}

	candidate := mutation.NewCandidate(req.Code, req.Generation)
	return e.execute(ctx, candidate)
}

// execute runs an already screened candidate and records the outcome.
func (e *Engine) execute(ctx context.Context, candidate *mutation.Candidate) (*ExecutionOutcome, error) {
	out, err := e.sandbox.Execute(ctx, candidate)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeExecutionFailed, "candidate execution failed")
	}

	mode := string(sandbox.ModeDirect)
	if out.Isolated {
		mode = string(sandbox.ModeIsolated)
	}
	outcome := &ExecutionOutcome{
		CandidateID: candidate.ID,
		Success:     out.Success,
		Isolated:    out.Isolated,
		Mode:        mode,
		Metrics:     out.Metrics,
		Error:       out.Error,
		DurationMS:  out.Duration.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}

	if e.metrics != nil {
		e.metrics.RecordExecution(mode, out.Success, out.Duration)
		if e.sandbox.Mode() == sandbox.ModeIsolated && !out.Isolated {
			e.metrics.RecordIsolationFallback()
		}
	}
	e.persistExecution(ctx, outcome)
	if e.cache != nil {
		if err := e.cache.SetExecutionResult(ctx, outcome.CandidateID.String(), outcome, e.cfg.StatsTTL); err != nil {
			e.log.Warn("failed to cache execution result", "error", err)
		}
	}
	e.broadcast("execution", outcome)
	return outcome, nil
}

// TierStatistics is the aggregate mutation bookkeeping snapshot.
type TierStatistics struct {
	Tiers       map[string]mutation.TierStats     `json:"tiers"`
	Operators   map[string]mutation.OperatorStats `json:"operators"`
	Comparison  mutation.TierComparison           `json:"comparison"`
	GeneratedAt time.Time                         `json:"generated_at"`
}

// TierStats builds the current tier and operator statistics snapshot.
func (e *Engine) TierStats() *TierStatistics {
	tiers := make(map[string]mutation.TierStats)
	for tier, stats := range e.tracker.Summary() {
		tiers[tier.String()] = stats
	}
	return &TierStatistics{
		Tiers:       tiers,
		Operators:   e.tracker.OperatorSummary(),
		Comparison:  e.tracker.Comparison(),
		GeneratedAt: time.Now().UTC(),
	}
}

// SandboxStats returns the wrapper counters.
func (e *Engine) SandboxStats() sandbox.Stats {
	return e.sandbox.Statistics()
}

// Status is the evolution loop snapshot served by the API.
type Status struct {
	Generation     int       `json:"generation"`
	MaxGenerations int       `json:"max_generations"`
	PopulationSize int       `json:"population_size"`
	BestScore      float64   `json:"best_score"`
	ScoreMetric    string    `json:"score_metric"`
	Diversity      float64   `json:"diversity"`
	Stagnation     int       `json:"stagnation"`
	Epochs         int64     `json:"epochs"`
	LastEpochAt    time.Time `json:"last_epoch_at,omitempty"`
}

// Status reports the current evolution loop state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Generation:     e.generation,
		MaxGenerations: e.cfg.MaxGenerations,
		PopulationSize: len(e.population),
		BestScore:      e.bestScore,
		ScoreMetric:    scoreMetric,
		Diversity:      e.diversity,
		Stagnation:     e.stagnation,
		Epochs:         e.epochs,
		LastEpochAt:    e.lastEpoch,
	}
}

// recordMutation feeds one outcome into prometheus.
func (e *Engine) recordMutation(out *MutationOutcome) {
	if e.metrics == nil {
		return
	}
	meta := out.Metadata
	e.metrics.RecordMutation(meta.Tier.String(), string(meta.MutationType), out.Success)
	for i := 1; i < len(meta.FallbackChain); i++ {
		e.metrics.RecordFallback(meta.FallbackChain[i-1].String(), meta.FallbackChain[i].String())
	}
	if meta.Clamped {
		e.metrics.RecordParameterClamp(meta.Parameter)
	}
}

// persistMutation stores one outcome, best effort.
func (e *Engine) persistMutation(ctx context.Context, out *MutationOutcome) {
	if e.history == nil {
		return
	}
	chain := make([]string, len(out.Metadata.FallbackChain))
	for i, tier := range out.Metadata.FallbackChain {
		chain[i] = tier.String()
	}
	rec := &database.MutationRecord{
		CandidateID:   out.CandidateID,
		Generation:    out.Generation,
		Tier:          out.Metadata.Tier.String(),
		Operation:     string(out.Metadata.MutationType),
		Success:       out.Success,
		Clamped:       out.Metadata.Clamped,
		FallbackChain: chain,
		ErrorMessage:  out.Error,
		DurationMS:    out.DurationMS,
		CreatedAt:     out.CreatedAt,
	}
	if err := e.history.InsertMutation(ctx, rec); err != nil {
		e.log.Warn("failed to persist mutation record", "error", err)
	}
}

// persistExecution stores one outcome, best effort.
func (e *Engine) persistExecution(ctx context.Context, out *ExecutionOutcome) {
	if e.history == nil {
		return
	}
	rec := &database.ExecutionRecord{
		CandidateID:  out.CandidateID,
		Mode:         out.Mode,
		Isolated:     out.Isolated,
		Success:      out.Success,
		Metrics:      out.Metrics,
		ErrorMessage: out.Error,
		DurationMS:   out.DurationMS,
		CreatedAt:    out.CreatedAt,
	}
	if err := e.history.InsertExecution(ctx, rec); err != nil {
		e.log.Warn("failed to persist execution record", "error", err)
	}
}

func (e *Engine) broadcast(event string, data interface{}) {
	if e.streams != nil {
		e.streams.Broadcast(event, data)
	}
}

// ruleOf maps a validation error message to its metrics label.
func ruleOf(msg string) string {
	switch {
	case strings.HasPrefix(msg, security.MsgImportNotAllowed):
		return "import"
	case strings.HasPrefix(msg, security.MsgForbiddenCall):
		return "forbidden_call"
	case strings.HasPrefix(msg, security.MsgNegativeShift):
		return "negative_shift"
	case strings.HasPrefix(msg, security.MsgSyntaxError):
		return "syntax"
	case strings.HasPrefix(msg, security.MsgSnippetTooLarge):
		return "size"
	default:
		return "other"
	}
}
