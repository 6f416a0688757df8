// Package sandbox executes validated candidates through an isolation
// backend with automatic, observable degradation to direct in-process
// execution. Static validation is the mandatory first defense layer;
// isolation is a best-effort second layer.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/errors"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
)

// Mode selects the primary execution path.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeIsolated Mode = "isolated"
)

// IsolationResult is the tri-state outcome of the most recent isolation
// attempt. Downstream diversity logic reads it from Statistics.
type IsolationResult string

const (
	IsolationUnknown   IsolationResult = "unknown"
	IsolationSucceeded IsolationResult = "succeeded"
	IsolationFailed    IsolationResult = "failed"
)

// Outcome is one candidate execution result. Success false with an Error
// message means the candidate itself misbehaved; backend infrastructure
// faults surface as Go errors instead and never reach the caller while the
// direct path can still serve the call.
type Outcome struct {
	Success  bool               `json:"success"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Error    string             `json:"error,omitempty"`
	Isolated bool               `json:"isolated"`
	Duration time.Duration      `json:"duration"`
}

// Backend executes one candidate. Implementations own their data provider;
// the wrapper never injects anything into the execution environment.
type Backend interface {
	Execute(ctx context.Context, candidate *mutation.Candidate) (*Outcome, error)
	Close() error
}

// Config represents wrapper configuration.
type Config struct {
	Mode        Mode          `json:"mode" yaml:"mode"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxParallel int           `json:"max_parallel" yaml:"max_parallel"`
}

// Stats is a snapshot of the wrapper counters.
type Stats struct {
	Executions          int64           `json:"executions"`
	IsolationSuccesses  int64           `json:"isolation_successes"`
	IsolationFailures   int64           `json:"isolation_failures"`
	Fallbacks           int64           `json:"fallbacks"`
	DirectFailures      int64           `json:"direct_failures"`
	LastIsolationResult IsolationResult `json:"last_isolation_result"`
}

// Wrapper routes candidate executions to the isolation backend and falls
// back to direct execution when isolation fails.
type Wrapper struct {
	mode     Mode
	timeout  time.Duration
	direct   Backend
	isolated Backend
	slots    chan struct{}
	log      logger.Logger

	mu    sync.Mutex
	stats Stats
}

// NewWrapper creates an execution wrapper. The direct backend is required;
// the isolated backend may be nil, which forces direct mode.
func NewWrapper(cfg Config, direct, isolated Backend) (*Wrapper, error) {
	if direct == nil {
		return nil, fmt.Errorf("direct backend is required")
	}
	switch cfg.Mode {
	case ModeDirect, ModeIsolated:
	case "":
		if isolated != nil {
			cfg.Mode = ModeIsolated
		} else {
			cfg.Mode = ModeDirect
		}
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeIsolated && isolated == nil {
		return nil, fmt.Errorf("isolated mode requires an isolation backend")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}

	return &Wrapper{
		mode:     cfg.Mode,
		timeout:  cfg.Timeout,
		direct:   direct,
		isolated: isolated,
		slots:    make(chan struct{}, cfg.MaxParallel),
		log:      logger.Module("sandbox"),
		stats:    Stats{LastIsolationResult: IsolationUnknown},
	}, nil
}

// Mode returns the configured primary path.
func (w *Wrapper) Mode() Mode { return w.mode }

// Execute runs the candidate. In isolated mode the isolation backend is
// tried at most once; on any backend error or timeout the same candidate is
// re-executed directly and the caller sees an error only if the direct path
// also fails.
func (w *Wrapper) Execute(ctx context.Context, candidate *mutation.Candidate) (*Outcome, error) {
	if candidate == nil {
		return nil, errors.NewAppError(errors.ErrCodeInvalidInput, "candidate is required", nil)
	}
	w.count(func(s *Stats) { s.Executions++ })

	if w.mode == ModeIsolated {
		out, err := w.executeIsolated(ctx, candidate)
		if err == nil {
			w.count(func(s *Stats) {
				s.IsolationSuccesses++
				s.LastIsolationResult = IsolationSucceeded
			})
			out.Isolated = true
			return out, nil
		}
		w.count(func(s *Stats) {
			s.IsolationFailures++
			s.Fallbacks++
			s.LastIsolationResult = IsolationFailed
		})
		w.log.Warn("隔离执行失败，降级为直接执行",
			"candidate_id", candidate.ID.String(),
			"error", err.Error())
	}

	out, err := w.executeDirect(ctx, candidate)
	if err != nil {
		w.count(func(s *Stats) { s.DirectFailures++ })
		return nil, errors.WrapError(err, errors.ErrCodeExecutionFailed, "candidate execution failed")
	}
	return out, nil
}

// executeIsolated holds a resource slot for the lifetime of the backend
// call. The slot is released exactly once, when the backend actually
// returns, even if this method has already timed out.
func (w *Wrapper) executeIsolated(ctx context.Context, candidate *mutation.Candidate) (*Outcome, error) {
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	execCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type reply struct {
		out *Outcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() { <-w.slots }()
		defer func() {
			if r := recover(); r != nil {
				done <- reply{nil, fmt.Errorf("isolation backend panicked: %v", r)}
			}
		}()
		out, err := w.isolated.Execute(execCtx, candidate)
		done <- reply{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.WrapError(r.err, errors.ErrCodeIsolationFailed, "isolation backend failed")
		}
		if r.out == nil {
			return nil, errors.NewAppError(errors.ErrCodeIsolationFailed, "isolation backend returned no outcome", nil)
		}
		return r.out, nil
	case <-execCtx.Done():
		return nil, errors.NewAppErrorWithDetails(errors.ErrCodeIsolationFailed,
			"isolated execution timed out", w.timeout.String(), execCtx.Err())
	}
}

// executeDirect runs the in-process path with panic recovery.
func (w *Wrapper) executeDirect(ctx context.Context, candidate *mutation.Candidate) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("direct execution panicked: %v", r)
		}
	}()

	out, err = w.direct.Execute(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("direct backend returned no outcome")
	}
	out.Isolated = false
	return out, nil
}

// Statistics returns a copy of the wrapper counters.
func (w *Wrapper) Statistics() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close releases both backends.
func (w *Wrapper) Close() error {
	var firstErr error
	if w.isolated != nil {
		if err := w.isolated.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close isolation backend: %w", err)
		}
	}
	if err := w.direct.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close direct backend: %w", err)
	}
	return firstErr
}

func (w *Wrapper) count(update func(*Stats)) {
	w.mu.Lock()
	update(&w.stats)
	w.mu.Unlock()
}
