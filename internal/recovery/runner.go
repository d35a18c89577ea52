// Package recovery resumes interrupted job searches: a Runner polls the
// state store for pending searches and executes each one through a
// retry executor and circuit breaker, persisting progress so a process
// restart picks up where the last run stopped.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nvoss/seekd/internal/breaker"
	"github.com/nvoss/seekd/internal/retry"
	"github.com/nvoss/seekd/internal/state"
)

// SearchFunc executes one job search and returns its raw results. The
// actual search backend (scraper, API client, subprocess) is an
// external collaborator supplied by the caller.
type SearchFunc func(ctx context.Context, query string) ([]map[string]any, error)

// SearchStore is the slice of the state store the runner needs.
type SearchStore interface {
	PendingSearches(limit int) ([]state.SearchState, error)
	SaveSearchState(st state.SearchState) error
	CreateCheckpoint(checkpointID, operation string, stateData map[string]any) error
}

// Runner drains pending searches from the store. Each search runs
// breaker-inside-retry: the breaker guards the search backend, the
// executor retries around it. While the breaker is open the search is
// deferred back to pending instead of burning retry attempts.
type Runner struct {
	store    SearchStore
	search   SearchFunc
	executor *retry.Executor
	breaker  *breaker.Breaker
	poll     time.Duration
	clock    quartz.Clock
	logger   *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExecutor replaces the default retry executor.
func WithExecutor(e *retry.Executor) RunnerOption {
	return func(r *Runner) { r.executor = e }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *breaker.Breaker) RunnerOption {
	return func(r *Runner) { r.breaker = b }
}

// WithPollInterval sets how long the runner idles when no search is
// pending. Values <= 0 keep the 500ms default.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithClock substitutes the clock used for idle polling.
func WithClock(c quartz.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logging collaborator.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner with the given store and search backend.
func NewRunner(store SearchStore, search SearchFunc, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:  store,
		search: search,
		poll:   500 * time.Millisecond,
		clock:  quartz.NewReal(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = breaker.New(5, 60*time.Second, breaker.WithLogger(r.logger))
	}
	if r.executor == nil {
		policy := retry.DefaultPolicy()
		policy.Classify = ClassifyGuarded
		r.executor = retry.New(policy, retry.WithLogger(r.logger))
	}
	return r
}

// ClassifyGuarded is the classifier for breaker-guarded searches: an
// open circuit aborts immediately so the search can be deferred;
// everything else is retried.
func ClassifyGuarded(err error) retry.Class {
	if errors.Is(err, breaker.ErrOpen) {
		return retry.NonRetryable
	}
	return retry.Retryable
}

// Run polls for pending searches until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("runner iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		timer := r.clock.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce claims and executes a single pending search. It returns true
// if a search was processed, regardless of its outcome.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	pending, err := r.store.PendingSearches(1)
	if err != nil {
		return false, fmt.Errorf("claiming search: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}

	st := pending[0]
	st.Status = state.SearchRunning
	if err := r.store.SaveSearchState(st); err != nil {
		return false, fmt.Errorf("marking search running: %w", err)
	}

	r.logger.Info("running search",
		zap.String("search_id", st.SearchID), zap.String("query", st.Query))

	results, err := retry.Run(ctx, r.executor, func(ctx context.Context) ([]map[string]any, error) {
		return breaker.Call(ctx, r.breaker, func(ctx context.Context) ([]map[string]any, error) {
			return r.search(ctx, st.Query)
		})
	})

	switch {
	case err == nil:
		st.Results = results
		st.Status = state.SearchCompleted
		st.LastError = ""
		if err := r.store.SaveSearchState(st); err != nil {
			return true, err
		}
		if err := r.checkpoint(st); err != nil {
			return true, err
		}
		r.logger.Info("search completed",
			zap.String("search_id", st.SearchID), zap.Int("results", len(results)))
		return true, nil

	case errors.Is(err, breaker.ErrOpen):
		// Backend is cooling down; put the search back and let a later
		// poll pick it up.
		st.Status = state.SearchPending
		r.logger.Warn("search deferred, circuit open",
			zap.String("search_id", st.SearchID))
		return true, r.store.SaveSearchState(st)

	default:
		st.Status = state.SearchFailed
		st.ErrorCount++
		st.LastError = err.Error()
		r.logger.Error("search failed",
			zap.String("search_id", st.SearchID),
			zap.Int("error_count", st.ErrorCount),
			zap.Error(err))
		return true, r.store.SaveSearchState(st)
	}
}

// checkpoint records a completed search so other agent components can
// resume from it after a restart.
func (r *Runner) checkpoint(st state.SearchState) error {
	return r.store.CreateCheckpoint(st.SearchID, "job_search", map[string]any{
		"search_id":    st.SearchID,
		"query":        st.Query,
		"result_count": len(st.Results),
	})
}
