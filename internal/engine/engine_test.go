package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/backtest"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/cache"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/market"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/sandbox"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

const exitSnippet = `momentum = close.pct_change(5)
signal = momentum > 0
stop_loss_pct = 0.10
take_profit_pct = 0.15
trailing_stop_pct = 0.05
max_holding_days = 10
`

// recordingBroadcaster captures events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBroadcaster) Broadcast(event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// newTestEngine wires the full stack over the static market provider with
// fixed seeds. History stays nil; the cache is in-memory.
func newTestEngine(t *testing.T, cfg Config, streams Broadcaster) (*Engine, *mutation.Tracker, *cache.Cache) {
	t.Helper()

	exit, err := mutation.NewExitParameterMutator(mutation.ExitMutatorConfig{Seed: 42})
	require.NoError(t, err)
	t1, err := mutation.NewTier1Mutator(mutation.Tier1Config{Seed: 43})
	require.NoError(t, err)
	t2, err := mutation.NewTier2Mutator(mutation.Tier2Config{Seed: 44})
	require.NoError(t, err)
	t3, err := mutation.NewTier3Mutator(mutation.Tier3Config{Seed: 45}, nil)
	require.NoError(t, err)

	tiers := map[mutation.Tier]mutation.Mutator{
		mutation.Tier1: t1,
		mutation.Tier2: t2,
		mutation.Tier3: t3,
	}
	sched, err := mutation.NewScheduler(mutation.SchedulerConfig{Seed: 46}, mutation.OperatorKeysOf(tiers))
	require.NoError(t, err)
	tracker := mutation.NewTracker(mutation.TrackerConfig{})
	validator := security.NewValidator(security.Config{})

	op, err := mutation.NewUnifiedOperator(mutation.OperatorConfig{Seed: 47}, mutation.OperatorComponents{
		Exit:      exit,
		Tiers:     tiers,
		Scheduler: sched,
		Tracker:   tracker,
		Validator: validator,
	})
	require.NoError(t, err)

	harness, err := backtest.NewHarness(
		market.NewStaticProvider(market.StaticConfig{Seed: 11}),
		backtest.Config{Bars: 120},
	)
	require.NoError(t, err)
	backend, err := sandbox.NewHarnessBackend(harness)
	require.NoError(t, err)
	wrapper, err := sandbox.NewWrapper(sandbox.Config{
		Mode:        sandbox.ModeDirect,
		Timeout:     10 * time.Second,
		MaxParallel: 2,
	}, backend, nil)
	require.NoError(t, err)

	store := cache.NewCache(cache.NewMemoryStore(100))

	eng, err := New(cfg, Components{
		Operator:    op,
		Validator:   validator,
		Sandbox:     wrapper,
		Tracker:     tracker,
		Metrics:     monitor.NewMetrics(prometheus.NewRegistry()),
		Cache:       store,
		Broadcaster: streams,
	})
	require.NoError(t, err)
	return eng, tracker, store
}

func TestEngineMutate(t *testing.T) {
	streams := &recordingBroadcaster{}
	eng, tracker, _ := newTestEngine(t, Config{PopulationSize: 2}, streams)

	out, err := eng.Mutate(context.Background(), MutationRequest{Code: exitSnippet, Generation: 3})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, 3, out.Generation)
	assert.NotEmpty(t, out.MutatedCode)
	if out.Success {
		assert.NotEqual(t, exitSnippet, out.MutatedCode)
	} else {
		assert.Equal(t, exitSnippet, out.MutatedCode, "failed mutation must return the input unchanged")
	}
	assert.Equal(t, 1, streams.count("mutation"))
	assert.GreaterOrEqual(t, tracker.Comparison().Attempts, 1)
}

func TestEngineMutateForcedExitParameter(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{}, nil)

	out, err := eng.Mutate(context.Background(), MutationRequest{
		Code:      exitSnippet,
		Parameter: "stop_loss_pct",
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, "stop_loss_pct", out.Metadata.Parameter)
	assert.GreaterOrEqual(t, out.Metadata.NewValue, 0.01)
	assert.LessOrEqual(t, out.Metadata.NewValue, 0.20)
}

func TestEngineMutateRejectsUnsafeInput(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{}, nil)

	_, err := eng.Mutate(context.Background(), MutationRequest{Code: "import os\nx = 1\n"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePolicyViolation))
}

func TestEngineMutateRejectsBadRequest(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{}, nil)

	_, err := eng.Mutate(context.Background(), MutationRequest{Code: "   "})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = eng.Mutate(context.Background(), MutationRequest{Code: exitSnippet, Mode: "chaotic"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestEngineValidate(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{}, nil)

	ok := eng.Validate(exitSnippet)
	assert.True(t, ok.Valid)

	bad := eng.Validate("signal = close.shift(-1) > close\n")
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.ErrorString(), security.MsgNegativeShift)
}

func TestEngineExecute(t *testing.T) {
	streams := &recordingBroadcaster{}
	eng, _, store := newTestEngine(t, Config{}, streams)

	out, err := eng.Execute(context.Background(), ExecutionRequest{Code: exitSnippet})
	require.NoError(t, err)
	require.True(t, out.Success)

	assert.Equal(t, string(sandbox.ModeDirect), out.Mode)
	assert.False(t, out.Isolated)
	assert.Contains(t, out.Metrics, "sharpe")
	assert.Equal(t, 1, streams.count("execution"))

	var cached ExecutionOutcome
	require.NoError(t, store.GetExecutionResult(context.Background(), out.CandidateID.String(), &cached))
	assert.Equal(t, out.CandidateID, cached.CandidateID)
}

func TestEngineExecuteRejectsUnsafeInput(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{}, nil)

	_, err := eng.Execute(context.Background(), ExecutionRequest{Code: "eval('1+1')\n"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePolicyViolation))
	assert.EqualValues(t, 0, eng.SandboxStats().Executions, "rejected snippets must never reach the sandbox")
}

func TestEngineRunEpoch(t *testing.T) {
	streams := &recordingBroadcaster{}
	eng, _, _ := newTestEngine(t, Config{PopulationSize: 4, MaxGenerations: 10}, streams)

	first, err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Generation)
	assert.Equal(t, 4, first.Mutations)
	assert.GreaterOrEqual(t, first.Executions, 4, "first epoch scores every parent")

	second, err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Generation)

	status := eng.Status()
	assert.Equal(t, 2, status.Generation)
	assert.EqualValues(t, 2, status.Epochs)
	assert.Equal(t, 4, status.PopulationSize)
	assert.Greater(t, status.Diversity, 0.0)
	assert.False(t, status.LastEpochAt.IsZero())
	assert.Equal(t, 2, streams.count("evolution"))
}

func TestEngineRunEpochHonorsContext(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{PopulationSize: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.RunEpoch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineSnapshotStats(t *testing.T) {
	eng, _, store := newTestEngine(t, Config{PopulationSize: 2}, nil)

	_, err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	require.NoError(t, eng.SnapshotStats(context.Background()))

	var stats TierStatistics
	require.NoError(t, store.GetTierStats(context.Background(), &stats))
	assert.NotEmpty(t, stats.Tiers)

	var sb sandbox.Stats
	require.NoError(t, store.GetSandboxStats(context.Background(), &sb))
	assert.Greater(t, sb.Executions, int64(0))

	var status Status
	require.NoError(t, store.GetEvolutionStatus(context.Background(), &status))
	assert.Equal(t, 1, status.Generation)
}

func TestEngineRejectsUnsafeSeed(t *testing.T) {
	exit, err := mutation.NewExitParameterMutator(mutation.ExitMutatorConfig{Seed: 1})
	require.NoError(t, err)
	t1, err := mutation.NewTier1Mutator(mutation.Tier1Config{Seed: 1})
	require.NoError(t, err)
	t2, err := mutation.NewTier2Mutator(mutation.Tier2Config{Seed: 1})
	require.NoError(t, err)
	t3, err := mutation.NewTier3Mutator(mutation.Tier3Config{Seed: 1}, nil)
	require.NoError(t, err)
	tiers := map[mutation.Tier]mutation.Mutator{
		mutation.Tier1: t1,
		mutation.Tier2: t2,
		mutation.Tier3: t3,
	}
	sched, err := mutation.NewScheduler(mutation.SchedulerConfig{Seed: 1}, mutation.OperatorKeysOf(tiers))
	require.NoError(t, err)
	tracker := mutation.NewTracker(mutation.TrackerConfig{})
	op, err := mutation.NewUnifiedOperator(mutation.OperatorConfig{Seed: 1}, mutation.OperatorComponents{
		Exit: exit, Tiers: tiers, Scheduler: sched, Tracker: tracker,
	})
	require.NoError(t, err)

	harness, err := backtest.NewHarness(market.NewStaticProvider(market.StaticConfig{Seed: 1}), backtest.Config{})
	require.NoError(t, err)
	backend, err := sandbox.NewHarnessBackend(harness)
	require.NoError(t, err)
	wrapper, err := sandbox.NewWrapper(sandbox.Config{Mode: sandbox.ModeDirect}, backend, nil)
	require.NoError(t, err)

	_, err = New(Config{SeedSnippets: []string{"import os\n"}}, Components{
		Operator:  op,
		Validator: security.NewValidator(security.Config{}),
		Sandbox:   wrapper,
		Tracker:   tracker,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed snippet 0 rejected")
}

func TestDiversityOf(t *testing.T) {
	mk := func(code string) *member {
		return &member{cand: mutation.NewCandidate(code, 0)}
	}

	assert.Equal(t, 0.0, diversityOf(nil))
	assert.Equal(t, 1.0, diversityOf([]*member{mk("a"), mk("b")}))
	assert.Equal(t, 0.5, diversityOf([]*member{mk("a"), mk("a")}))
}

func TestBestOf(t *testing.T) {
	members := []*member{
		{cand: mutation.NewCandidate("a", 0)},
		{cand: mutation.NewCandidate("b", 0), score: -0.5, scored: true},
		{cand: mutation.NewCandidate("c", 0), score: 1.2, scored: true},
	}

	best, ok := bestOf(members)
	require.True(t, ok)
	assert.Equal(t, 1.2, best)

	_, ok = bestOf([]*member{{cand: mutation.NewCandidate("d", 0)}})
	assert.False(t, ok)
}
