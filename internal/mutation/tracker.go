package mutation

import (
	"sort"
	"sync"
	"time"
)

// TierStats represents the aggregate outcome counters for one tier. The
// counters always satisfy attempts == successes + failures.
type TierStats struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
	AvgDelta    float64 `json:"avg_performance_delta"`
}

// OperatorStats represents the same counters for one (tier, operation) key.
type OperatorStats struct {
	Tier         Tier         `json:"tier"`
	MutationType MutationType `json:"mutation_type"`
	TierStats
}

// AttemptRecord is one recorded mutation attempt.
type AttemptRecord struct {
	Timestamp    time.Time    `json:"timestamp"`
	Tier         Tier         `json:"tier"`
	MutationType MutationType `json:"mutation_type"`
	Success      bool         `json:"success"`
	Delta        float64      `json:"performance_delta"`
}

// TierComparison represents the cross-tier report served by the API.
type TierComparison struct {
	Tiers       map[string]TierStats     `json:"tiers"`
	Operators   map[string]OperatorStats `json:"operators"`
	BestTier    string                   `json:"best_tier"`
	Attempts    int                      `json:"attempts"`
	SuccessRate float64                  `json:"success_rate"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// TrackerConfig tunes the tracker. The zero value is usable.
type TrackerConfig struct {
	// RecordLimit caps the retained attempt history, <=0 selects 10000.
	// Aggregates keep counting past the cap.
	RecordLimit int `yaml:"record_limit"`
}

const defaultRecordLimit = 10000

// Tracker records every mutation attempt and maintains per-tier and
// per-operator aggregates incrementally. Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	limit     int
	records   []AttemptRecord
	tiers     map[Tier]*agg
	operators map[string]*agg
}

type agg struct {
	tier      Tier
	op        MutationType
	attempts  int
	successes int
	deltaSum  float64
}

// NewTracker builds an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	limit := cfg.RecordLimit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	return &Tracker{
		limit:     limit,
		tiers:     make(map[Tier]*agg),
		operators: make(map[string]*agg),
	}
}

// Record adds one attempt outcome.
func (t *Tracker) Record(tier Tier, op MutationType, success bool, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, AttemptRecord{
		Timestamp:    time.Now(),
		Tier:         tier,
		MutationType: op,
		Success:      success,
		Delta:        delta,
	})
	if len(t.records) > t.limit {
		t.records = t.records[len(t.records)-t.limit:]
	}

	ta, ok := t.tiers[tier]
	if !ok {
		ta = &agg{tier: tier}
		t.tiers[tier] = ta
	}
	ta.add(success, delta)

	key := OperatorKey(tier, op)
	oa, ok := t.operators[key]
	if !ok {
		oa = &agg{tier: tier, op: op}
		t.operators[key] = oa
	}
	oa.add(success, delta)
}

func (a *agg) add(success bool, delta float64) {
	a.attempts++
	if success {
		a.successes++
	}
	a.deltaSum += delta
}

func (a *agg) stats() TierStats {
	s := TierStats{
		Attempts:  a.attempts,
		Successes: a.successes,
		Failures:  a.attempts - a.successes,
	}
	if a.attempts > 0 {
		s.SuccessRate = float64(a.successes) / float64(a.attempts)
		s.AvgDelta = a.deltaSum / float64(a.attempts)
	}
	return s
}

// Summary returns per-tier aggregates.
func (t *Tracker) Summary() map[Tier]TierStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Tier]TierStats, len(t.tiers))
	for tier, a := range t.tiers {
		out[tier] = a.stats()
	}
	return out
}

// OperatorSummary returns per-operator aggregates keyed by OperatorKey.
func (t *Tracker) OperatorSummary() map[string]OperatorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]OperatorStats, len(t.operators))
	for key, a := range t.operators {
		out[key] = OperatorStats{Tier: a.tier, MutationType: a.op, TierStats: a.stats()}
	}
	return out
}

// SuccessRates returns per-operator success rates for the scheduler.
func (t *Tracker) SuccessRates() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.operators))
	for key, a := range t.operators {
		if a.attempts > 0 {
			out[key] = float64(a.successes) / float64(a.attempts)
		}
	}
	return out
}

// BestTier returns the cascade tier with the highest success rate, ties
// broken toward the safer tier. With no records it returns Tier1, never a
// division by zero.
func (t *Tracker) BestTier() Tier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := Tier1
	bestRate := -1.0
	for _, tier := range AllTiers {
		a, ok := t.tiers[tier]
		if !ok || a.attempts == 0 {
			continue
		}
		rate := float64(a.successes) / float64(a.attempts)
		if rate > bestRate {
			best, bestRate = tier, rate
		}
	}
	return best
}

// Comparison builds the full cross-tier report.
func (t *Tracker) Comparison() TierComparison {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := TierComparison{
		Tiers:       make(map[string]TierStats, len(t.tiers)),
		Operators:   make(map[string]OperatorStats, len(t.operators)),
		BestTier:    Tier1.String(),
		GeneratedAt: time.Now(),
	}
	attempts, successes := 0, 0
	bestRate := -1.0
	for tier, a := range t.tiers {
		report.Tiers[tier.String()] = a.stats()
		attempts += a.attempts
		successes += a.successes
		if tier == TierExit || a.attempts == 0 {
			continue
		}
		rate := float64(a.successes) / float64(a.attempts)
		if rate > bestRate || (rate == bestRate && tier < mustParseTier(report.BestTier)) {
			report.BestTier = tier.String()
			bestRate = rate
		}
	}
	for key, a := range t.operators {
		report.Operators[key] = OperatorStats{Tier: a.tier, MutationType: a.op, TierStats: a.stats()}
	}
	report.Attempts = attempts
	if attempts > 0 {
		report.SuccessRate = float64(successes) / float64(attempts)
	}
	return report
}

// Recent returns up to n most recent attempts, newest first.
func (t *Tracker) Recent(n int) []AttemptRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.records) {
		n = len(t.records)
	}
	out := make([]AttemptRecord, n)
	for i := 0; i < n; i++ {
		out[i] = t.records[len(t.records)-1-i]
	}
	return out
}

// TrendPoint is one bucket of the success-rate trend.
type TrendPoint struct {
	Start       time.Time `json:"start"`
	Attempts    int       `json:"attempts"`
	SuccessRate float64   `json:"success_rate"`
}

// Trend buckets the retained history into windows of the given size and
// reports the success rate per window, oldest first.
func (t *Tracker) Trend(window time.Duration) []TrendPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if window <= 0 || len(t.records) == 0 {
		return nil
	}
	buckets := make(map[int64]*agg)
	for _, r := range t.records {
		key := r.Timestamp.Truncate(window).Unix()
		a, ok := buckets[key]
		if !ok {
			a = &agg{}
			buckets[key] = a
		}
		a.add(r.Success, r.Delta)
	}
	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		a := buckets[k]
		out = append(out, TrendPoint{
			Start:       time.Unix(k, 0),
			Attempts:    a.attempts,
			SuccessRate: float64(a.successes) / float64(a.attempts),
		})
	}
	return out
}

func mustParseTier(s string) Tier {
	tier, err := ParseTier(s)
	if err != nil {
		return Tier1
	}
	return tier
}
