package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/log"
)

// DefaultDedupWindow suppresses repeated alerts with the same title.
const DefaultDedupWindow = 5 * time.Minute

// DispatcherOptions controls which outcomes are announced.
type DispatcherOptions struct {
	AlertOnSuccess bool
	AlertOnFailure bool
	DedupWindow    time.Duration
	Logger         *log.Logger
}

// Dispatcher filters session events and hands the survivors to a registry.
// Delivery failures are logged and never returned.
type Dispatcher struct {
	registry *Registry
	opts     DispatcherOptions
	logger   *log.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		logger:   logger.WithGroup("hooks"),
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// FromConfig registers a webhook and a Slack hook for each configured URL.
// It returns nil when monitoring is disabled or no sink is configured.
func FromConfig(cfg config.MonitoringConfig, logger *log.Logger) (*Dispatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := NewRegistry()
	if cfg.WebhookURL != "" {
		if err := registry.RegisterFromConfig(&HookConfig{
			Name:    "webhook",
			Type:    "webhook",
			Enabled: true,
			Timeout: cfg.Timeout,
			Config:  map[string]interface{}{"url": cfg.WebhookURL},
		}); err != nil {
			return nil, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := registry.RegisterFromConfig(&HookConfig{
			Name:    "slack",
			Type:    "slack",
			Enabled: true,
			Timeout: cfg.Timeout,
			Config:  map[string]interface{}{"webhook_url": cfg.SlackWebhookURL},
		}); err != nil {
			return nil, err
		}
	}
	if registry.Count() == 0 {
		return nil, nil
	}

	return NewDispatcher(registry, DispatcherOptions{
		AlertOnSuccess: cfg.AlertOnSuccess,
		AlertOnFailure: cfg.AlertOnFailure,
		DedupWindow:    cfg.DedupWindow,
		Logger:         logger,
	}), nil
}

// Dispatch delivers event unless it is filtered or deduplicated. A nil
// dispatcher is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) []ExecutionResult {
	if d == nil || event == nil {
		return nil
	}

	if event.Type.Success() && !d.opts.AlertOnSuccess || !event.Type.Success() && !d.opts.AlertOnFailure {
		d.logger.DebugContext(ctx, "notification filtered", "event", event.Type, "session_id", event.SessionID)
		return nil
	}
	if !d.registry.HasHooksFor(event.Type) {
		return nil
	}

	title := event.Title()
	if !d.claim(title) {
		d.logger.DebugContext(ctx, "notification deduplicated", "title", title, "window", d.opts.DedupWindow)
		return nil
	}

	results := d.registry.Trigger(ctx, event)
	for _, failure := range Failed(results) {
		d.logger.WarnContext(ctx, "notification delivery failed",
			"hook", failure.HookName,
			"event", failure.EventType,
			"error", failure.Error,
			"duration", failure.Duration,
		)
	}
	return results
}

// claim records title as sent unless it was sent within the window.
func (d *Dispatcher) claim(title string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.sent[title]; ok && now.Sub(last) < d.opts.DedupWindow {
		return false
	}
	d.sent[title] = now
	return true
}
