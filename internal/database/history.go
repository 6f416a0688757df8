package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MutationRecord is one persisted mutation outcome.
type MutationRecord struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CandidateID   uuid.UUID `json:"candidate_id" db:"candidate_id"`
	Generation    int       `json:"generation" db:"generation"`
	Tier          string    `json:"tier" db:"tier"`
	Operation     string    `json:"operation" db:"operation"`
	Success       bool      `json:"success" db:"success"`
	Clamped       bool      `json:"clamped" db:"clamped"`
	FallbackChain []string  `json:"fallback_chain" db:"fallback_chain"`
	ErrorMessage  string    `json:"error_message,omitempty" db:"error_message"`
	DurationMS    int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ExecutionRecord is one persisted candidate execution.
type ExecutionRecord struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	CandidateID  uuid.UUID          `json:"candidate_id" db:"candidate_id"`
	Mode         string             `json:"mode" db:"mode"`
	Isolated     bool               `json:"isolated" db:"isolated"`
	Success      bool               `json:"success" db:"success"`
	Metrics      map[string]float64 `json:"metrics" db:"metrics"`
	ErrorMessage string             `json:"error_message,omitempty" db:"error_message"`
	DurationMS   int64              `json:"duration_ms" db:"duration_ms"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

// TierOutcome aggregates persisted mutation history for one tier.
type TierOutcome struct {
	Tier      string `json:"tier"`
	Attempts  int64  `json:"attempts"`
	Successes int64  `json:"successes"`
}

// HistoryRepo persists mutation and execution history.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a history repository over db.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// InsertMutation stores one mutation outcome. A zero ID and CreatedAt are
// filled in.
func (r *HistoryRepo) InsertMutation(ctx context.Context, rec *MutationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO mutation_history
			(id, candidate_id, generation, tier, operation, success, clamped, fallback_chain, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID.String(), rec.CandidateID.String(), rec.Generation, rec.Tier,
		rec.Operation, rec.Success, rec.Clamped, pq.Array(rec.FallbackChain),
		rec.ErrorMessage, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mutation record: %w", err)
	}
	return nil
}

// InsertExecution stores one execution outcome. Metrics are stored as JSONB.
func (r *HistoryRepo) InsertExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	metrics, err := marshalMetrics(rec.Metrics)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_results
			(id, candidate_id, mode, isolated, success, metrics, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID.String(), rec.CandidateID.String(), rec.Mode, rec.Isolated,
		rec.Success, metrics, rec.ErrorMessage, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

// RecentMutations returns the newest mutation records, most recent first.
func (r *HistoryRepo) RecentMutations(ctx context.Context, limit int) ([]*MutationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, candidate_id, generation, tier, operation, success, clamped, fallback_chain, error_message, duration_ms, created_at
		FROM mutation_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation history: %w", err)
	}
	defer rows.Close()

	var records []*MutationRecord
	for rows.Next() {
		var idStr, candidateStr string
		rec := &MutationRecord{}
		err := rows.Scan(&idStr, &candidateStr, &rec.Generation, &rec.Tier,
			&rec.Operation, &rec.Success, &rec.Clamped, pq.Array(&rec.FallbackChain),
			&rec.ErrorMessage, &rec.DurationMS, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation record: %w", err)
		}
		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("failed to parse record ID: %w", err)
		}
		if rec.CandidateID, err = uuid.Parse(candidateStr); err != nil {
			return nil, fmt.Errorf("failed to parse candidate ID: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentExecutions returns the newest execution records, most recent first.
func (r *HistoryRepo) RecentExecutions(ctx context.Context, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, candidate_id, mode, isolated, success, metrics, error_message, duration_ms, created_at
		FROM execution_results
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution results: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		var idStr, candidateStr string
		var metricsRaw []byte
		rec := &ExecutionRecord{}
		err := rows.Scan(&idStr, &candidateStr, &rec.Mode, &rec.Isolated,
			&rec.Success, &metricsRaw, &rec.ErrorMessage, &rec.DurationMS, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("failed to parse record ID: %w", err)
		}
		if rec.CandidateID, err = uuid.Parse(candidateStr); err != nil {
			return nil, fmt.Errorf("failed to parse candidate ID: %w", err)
		}
		if rec.Metrics, err = unmarshalMetrics(metricsRaw); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TierOutcomes aggregates attempts and successes per tier over all history.
func (r *HistoryRepo) TierOutcomes(ctx context.Context) ([]TierOutcome, error) {
	query := `
		SELECT tier, COUNT(*), COUNT(*) FILTER (WHERE success)
		FROM mutation_history
		GROUP BY tier
		ORDER BY tier
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tier outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []TierOutcome
	for rows.Next() {
		var o TierOutcome
		if err := rows.Scan(&o.Tier, &o.Attempts, &o.Successes); err != nil {
			return nil, fmt.Errorf("failed to scan tier outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// PruneBefore deletes history rows older than cutoff and reports how many
// rows were removed.
func (r *HistoryRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	for _, table := range []string{"mutation_history", "execution_results"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE created_at < $1", table), cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count pruned rows: %w", err)
		}
		total += n
	}
	return total, nil
}

func marshalMetrics(metrics map[string]float64) ([]byte, error) {
	if metrics == nil {
		metrics = map[string]float64{}
	}
	payload, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return payload, nil
}

func unmarshalMetrics(raw []byte) (map[string]float64, error) {
	metrics := map[string]float64{}
	if len(raw) == 0 {
		return metrics, nil
	}
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return metrics, nil
}
