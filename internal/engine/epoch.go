package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
)

// EpochSummary reports one evolution epoch.
type EpochSummary struct {
	Generation       int     `json:"generation"`
	Mutations        int     `json:"mutations"`
	MutationFailures int     `json:"mutation_failures"`
	Executions       int     `json:"executions"`
	Replacements     int     `json:"replacements"`
	BestScore        float64 `json:"best_score"`
	Diversity        float64 `json:"diversity"`
	Improved         bool    `json:"improved"`
	DurationMS       int64   `json:"duration_ms"`
}

// RunEpoch advances the population by one generation: every member is
// mutated once, successful children are executed in the sandbox, and a
// child replaces its parent when it scores at least as well. Epochs are
// serialized; concurrent calls queue.
func (e *Engine) RunEpoch(ctx context.Context) (*EpochSummary, error) {
	e.epochMu.Lock()
	defer e.epochMu.Unlock()

	start := time.Now()

	e.mu.Lock()
	generation := e.generation
	members := make([]*member, len(e.population))
	copy(members, e.population)
	stagnation := e.stagnation
	prevBest := e.bestScore
	prevScored := e.bestScored
	e.mu.Unlock()

	e.operator.SetState(mutation.SelectState{
		Generation:     generation,
		MaxGenerations: e.cfg.MaxGenerations,
		Diversity:      diversityOf(members),
		Stagnation:     stagnation,
	})

	summary := &EpochSummary{Generation: generation}
	next := make([]*member, len(members))

	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next[i] = m

		if !m.scored {
			if score, ok := e.score(ctx, m.cand); ok {
				m.score = score
				m.scored = true
			}
			summary.Executions++
		}

		out := e.mutateMember(ctx, m.cand, generation)
		summary.Mutations++
		if !out.Success {
			summary.MutationFailures++
			continue
		}

		child := mutation.NewCandidate(out.MutatedCode, generation+1)
		score, ok := e.score(ctx, child)
		summary.Executions++
		if !ok {
			continue
		}
		if !m.scored || score >= m.score {
			next[i] = &member{cand: child, score: score, scored: true}
			summary.Replacements++
		}
	}

	best, bestScored := bestOf(next)
	diversity := diversityOf(next)
	improved := bestScored && (!prevScored || best > prevBest)

	e.mu.Lock()
	e.population = next
	e.generation = generation + 1
	e.diversity = diversity
	if bestScored {
		e.bestScore = best
		e.bestScored = true
	}
	if improved {
		e.stagnation = 0
	} else {
		e.stagnation++
	}
	e.epochs++
	e.lastEpoch = time.Now().UTC()
	status := e.statusLocked()
	e.mu.Unlock()

	summary.BestScore = best
	summary.Diversity = diversity
	summary.Improved = improved
	summary.DurationMS = time.Since(start).Milliseconds()

	if e.metrics != nil {
		e.metrics.SetEvolutionState(status.Generation, diversity)
		if bestScored {
			e.metrics.SetBestScore(scoreMetric, best)
		}
	}
	if e.cache != nil {
		if err := e.cache.SetEvolutionStatus(ctx, status, e.cfg.StatsTTL); err != nil {
			e.log.Warn("failed to cache evolution status", "error", err)
		}
	}
	e.broadcast("evolution", summary)
	e.log.Info("evolution epoch complete",
		"generation", status.Generation,
		"replacements", summary.Replacements,
		"best_score", best,
		"diversity", diversity)
	return summary, nil
}

// score executes a candidate and extracts its ranking metric. Infra faults
// and candidate faults both leave the candidate unscored.
func (e *Engine) score(ctx context.Context, cand *mutation.Candidate) (float64, bool) {
	out, err := e.execute(ctx, cand)
	if err != nil {
		e.log.Warn("epoch execution failed", "candidate", cand.ID.String(), "error", err)
		return 0, false
	}
	if !out.Success {
		return 0, false
	}
	score, ok := out.Metrics[scoreMetric]
	return score, ok
}

// mutateMember mutates one parent inside an epoch with full bookkeeping.
func (e *Engine) mutateMember(ctx context.Context, parent *mutation.Candidate, generation int) *MutationOutcome {
	start := time.Now()
	res := e.operator.Mutate(ctx, parent)
	outcome := &MutationOutcome{
		CandidateID: parent.ID,
		Generation:  generation,
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
	return outcome
}

// statusLocked builds a Status snapshot. Callers hold e.mu.
func (e *Engine) statusLocked() Status {
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

// SnapshotStats persists the current statistics snapshots to the cache.
// Used by the periodic snapshot job.
func (e *Engine) SnapshotStats(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	stats := e.TierStats()
	var failures []string
	if err := e.cache.SetTierStats(ctx, stats, e.cfg.StatsTTL); err != nil {
		failures = append(failures, fmt.Sprintf("tier stats: %v", err))
	}
	if err := e.cache.SetOperatorStats(ctx, stats.Operators, e.cfg.StatsTTL); err != nil {
		failures = append(failures, fmt.Sprintf("operator stats: %v", err))
	}
	if err := e.cache.SetSandboxStats(ctx, e.SandboxStats(), e.cfg.StatsTTL); err != nil {
		failures = append(failures, fmt.Sprintf("sandbox stats: %v", err))
	}
	if err := e.cache.SetEvolutionStatus(ctx, e.Status(), e.cfg.StatsTTL); err != nil {
		failures = append(failures, fmt.Sprintf("evolution status: %v", err))
	}
	if len(failures) > 0 {
		return fmt.Errorf("stats snapshot incomplete: %s", strings.Join(failures, "; "))
	}
	return nil
}

// diversityOf measures population diversity as the fraction of distinct
// snippet texts, in [0,1].
func diversityOf(members []*member) float64 {
	if len(members) == 0 {
		return 0
	}
	distinct := make(map[string]bool, len(members))
	for _, m := range members {
		distinct[m.cand.Code] = true
	}
	return float64(len(distinct)) / float64(len(members))
}

// bestOf returns the highest score across scored members.
func bestOf(members []*member) (float64, bool) {
	best := 0.0
	found := false
	for _, m := range members {
		if !m.scored {
			continue
		}
		if !found || m.score > best {
			best = m.score
			found = true
		}
	}
	return best, found
}
