package hooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps session events to the hooks that announce them.
type Registry struct {
	mu        sync.RWMutex
	byEvent   map[EventType][]Hook
	factories map[string]HookFactory
	executor  *Executor
}

// NewRegistry creates a registry with the webhook, slack and script
// factories installed.
func NewRegistry() *Registry {
	r := &Registry{
		byEvent:   make(map[EventType][]Hook),
		factories: make(map[string]HookFactory),
		executor:  NewExecutor(),
	}
	RegisterBuiltinHooks(r)
	return r
}

// RegisterFactory installs the constructor used for HookConfig.Type.
func (r *Registry) RegisterFactory(hookType string, factory HookFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Types returns the known hook types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Register subscribes hook to its event types. Disabled hooks are ignored.
func (r *Registry) Register(hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if !hook.Enabled() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, et := range hook.EventTypes() {
		r.byEvent[et] = append(r.byEvent[et], hook)
	}
	return nil
}

// RegisterFromConfig builds a hook with the factory for config.Type and
// registers it.
func (r *Registry) RegisterFromConfig(config *HookConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil
	}

	r.mu.RLock()
	factory, ok := r.factories[config.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown hook type: %s (known: %s)", config.Type, strings.Join(r.Types(), ", "))
	}

	hook, err := factory(config)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", config.Name, err)
	}
	return r.Register(hook)
}

// Trigger runs every hook subscribed to event.Type and returns one result
// per hook, or nil when nothing is subscribed.
func (r *Registry) Trigger(ctx context.Context, event *Event) []ExecutionResult {
	hooks := r.hooksFor(event.Type)
	if len(hooks) == 0 {
		return nil
	}
	return r.executor.ExecuteAll(ctx, hooks, event)
}

func (r *Registry) hooksFor(et EventType) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.byEvent[et]...)
}

// HasHooksFor reports whether anything is subscribed to et.
func (r *Registry) HasHooksFor(et EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[et]) > 0
}

// Count returns the number of distinct hooks by name.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, hooks := range r.byEvent {
		for _, h := range hooks {
			seen[h.Name()] = true
		}
	}
	return len(seen)
}
