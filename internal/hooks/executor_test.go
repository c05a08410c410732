package hooks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// SlowHook blocks for a duration or until its context ends.
type SlowHook struct {
	name     string
	duration time.Duration
	running  *atomic.Int32
	peak     *atomic.Int32
}

func (h *SlowHook) Name() string            { return h.name }
func (h *SlowHook) EventTypes() []EventType { return AllEventTypes() }
func (h *SlowHook) Enabled() bool           { return true }
func (h *SlowHook) Execute(ctx context.Context, event *Event) error {
	if h.running != nil {
		n := h.running.Add(1)
		defer h.running.Add(-1)
		for {
			peak := h.peak.Load()
			if n <= peak || h.peak.CompareAndSwap(peak, n) {
				break
			}
		}
	}
	select {
	case <-time.After(h.duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailingHook always fails
type FailingHook struct {
	name string
}

func (h *FailingHook) Name() string            { return h.name }
func (h *FailingHook) EventTypes() []EventType { return AllEventTypes() }
func (h *FailingHook) Enabled() bool           { return true }
func (h *FailingHook) Execute(ctx context.Context, event *Event) error {
	return fmt.Errorf("hook failed")
}

func TestExecutorExecute(t *testing.T) {
	executor := NewExecutor()
	event := healedEvent()

	result := executor.Execute(context.Background(), &SlowHook{name: "ok", duration: time.Millisecond}, event)
	if !result.Success || result.Error != "" {
		t.Errorf("expected success, got %+v", result)
	}
	if result.HookName != "ok" || result.EventType != EventSessionHealed {
		t.Errorf("unexpected result identity %+v", result)
	}
	if result.Duration <= 0 {
		t.Error("duration should be recorded")
	}

	result = executor.Execute(context.Background(), &FailingHook{name: "bad"}, event)
	if result.Success || result.Error != "hook failed" {
		t.Errorf("expected failure, got %+v", result)
	}
}

func TestExecutorExecuteTimeout(t *testing.T) {
	executor := NewExecutor()
	executor.SetTimeout(20 * time.Millisecond)

	result := executor.Execute(context.Background(), &SlowHook{name: "slow", duration: time.Minute}, healedEvent())
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.Error != context.DeadlineExceeded.Error() {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestExecutorExecuteAll(t *testing.T) {
	executor := NewExecutor()
	hooks := []Hook{
		&SlowHook{name: "a", duration: 5 * time.Millisecond},
		&FailingHook{name: "b"},
		&SlowHook{name: "c", duration: time.Millisecond},
	}

	results := executor.ExecuteAll(context.Background(), hooks, healedEvent())
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].HookName != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].HookName, want)
		}
	}

	failed := Failed(results)
	if len(failed) != 1 || failed[0].HookName != "b" {
		t.Errorf("Failed() = %+v", failed)
	}

	if executor.ExecuteAll(context.Background(), nil, healedEvent()) != nil {
		t.Error("no hooks should yield nil results")
	}
}

func TestExecutorConcurrencyLimit(t *testing.T) {
	executor := NewExecutor()
	executor.SetMaxConcurrency(2)

	var running, peak atomic.Int32
	hooks := make([]Hook, 6)
	for i := range hooks {
		hooks[i] = &SlowHook{name: fmt.Sprintf("h%d", i), duration: 20 * time.Millisecond, running: &running, peak: &peak}
	}

	results := executor.ExecuteAll(context.Background(), hooks, healedEvent())
	if len(Failed(results)) != 0 {
		t.Fatalf("unexpected failures: %+v", Failed(results))
	}
	if got := peak.Load(); got > 2 || got < 1 {
		t.Errorf("peak concurrency = %d, want 1..2", got)
	}
}

func TestExecutorSetters(t *testing.T) {
	executor := NewExecutor()

	executor.SetMaxConcurrency(0)
	if executor.maxConcurrency != 1 {
		t.Errorf("maxConcurrency = %d, want 1", executor.maxConcurrency)
	}

	executor.SetTimeout(-time.Second)
	if executor.timeout != DefaultExecutionTimeout {
		t.Errorf("timeout = %s", executor.timeout)
	}
}
