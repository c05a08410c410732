package hooks

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultExecutionTimeout bounds one hook including its retries.
const DefaultExecutionTimeout = 30 * time.Second

// Executor executes hooks
type Executor struct {
	maxConcurrency int
	timeout        time.Duration
}

// NewExecutor creates a new hook executor
func NewExecutor() *Executor {
	return &Executor{
		maxConcurrency: 4,
		timeout:        DefaultExecutionTimeout,
	}
}

// ExecuteAll runs every hook for an event and waits for all of them.
// Results keep the order of hooks.
func (e *Executor) ExecuteAll(ctx context.Context, hooks []Hook, event *Event) []ExecutionResult {
	if len(hooks) == 0 {
		return nil
	}

	results := make([]ExecutionResult, len(hooks))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, hook := range hooks {
		g.Go(func() error {
			results[i] = e.Execute(ctx, hook, event)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute executes a single hook under the executor timeout
func (e *Executor) Execute(ctx context.Context, hook Hook, event *Event) ExecutionResult {
	result := ExecutionResult{
		HookName:  hook.Name(),
		EventType: event.Type,
		Timestamp: time.Now(),
	}

	hookCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := hook.Execute(hookCtx, event)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	return result
}

// SetMaxConcurrency sets the maximum number of concurrent hook executions
func (e *Executor) SetMaxConcurrency(max int) {
	if max < 1 {
		max = 1
	}
	e.maxConcurrency = max
}

// SetTimeout sets the per-hook execution timeout
func (e *Executor) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	e.timeout = timeout
}

// Failed returns the unsuccessful results.
func Failed(results []ExecutionResult) []ExecutionResult {
	var failures []ExecutionResult
	for _, r := range results {
		if !r.Success {
			failures = append(failures, r)
		}
	}
	return failures
}
