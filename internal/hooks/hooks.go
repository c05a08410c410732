// Package hooks delivers healing session outcomes to external sinks.
package hooks

import (
	"context"
	"fmt"
	"time"
)

// EventType represents the terminal state a session notification reports.
type EventType string

const (
	// EventSessionHealthy fires when the pipeline succeeded without repair.
	EventSessionHealthy EventType = "on_session_healthy"

	// EventSessionHealed fires when a verified patch was promoted.
	EventSessionHealed EventType = "on_session_healed"

	// EventSessionExhausted fires when every attempt failed and the source was rolled back.
	EventSessionExhausted EventType = "on_session_exhausted"
)

// AllEventTypes lists every event a hook may subscribe to.
func AllEventTypes() []EventType {
	return []EventType{EventSessionHealthy, EventSessionHealed, EventSessionExhausted}
}

// Success reports whether the event describes a working pipeline.
func (t EventType) Success() bool {
	return t == EventSessionHealthy || t == EventSessionHealed
}

// Event represents a session outcome that can trigger hooks
type Event struct {
	// Type is the event type
	Type EventType `json:"type"`

	// Timestamp when the session finished
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the healing session
	SessionID string `json:"session_id"`

	// Summary is a one-line human readable outcome
	Summary string `json:"summary"`

	// Data contains outcome details such as pipeline, attempts and error
	Data map[string]interface{} `json:"data,omitempty"`
}

// Hook is the interface that all hooks must implement
type Hook interface {
	// Name returns the hook name
	Name() string

	// EventTypes returns the events this hook handles
	EventTypes() []EventType

	// Execute runs the hook for an event
	Execute(ctx context.Context, event *Event) error

	// Enabled returns whether the hook is currently enabled
	Enabled() bool
}

// HookConfig represents hook configuration
type HookConfig struct {
	// Name of the hook
	Name string `yaml:"name" json:"name"`

	// Type of hook (script, webhook, slack)
	Type string `yaml:"type" json:"type"`

	// Events this hook should trigger on; empty means all
	Events []EventType `yaml:"events" json:"events"`

	// Enabled indicates if this hook is active
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Config contains hook-specific configuration
	Config map[string]interface{} `yaml:"config" json:"config"`

	// Timeout bounds a single delivery attempt
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxTries bounds deliveries of one event, first try included
	MaxTries uint `yaml:"max_tries" json:"max_tries"`
}

func (c *HookConfig) events() []EventType {
	if len(c.Events) == 0 {
		return AllEventTypes()
	}
	return c.Events
}

func (c *HookConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *HookConfig) maxTries() uint {
	if c.MaxTries == 0 {
		return DefaultMaxTries
	}
	return c.MaxTries
}

// ExecutionResult contains the result of hook execution
type ExecutionResult struct {
	// HookName is the name of the hook that executed
	HookName string `json:"hook_name"`

	// EventType is the event that triggered the hook
	EventType EventType `json:"event_type"`

	// Success indicates if the hook executed successfully
	Success bool `json:"success"`

	// Error message if hook failed
	Error string `json:"error,omitempty"`

	// Duration of hook execution
	Duration time.Duration `json:"duration"`

	// Timestamp when hook executed
	Timestamp time.Time `json:"timestamp"`
}

// HookFactory creates hooks from configuration
type HookFactory func(config *HookConfig) (Hook, error)

const (
	// DefaultTimeout is the default per-delivery timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxTries is the default number of delivery tries per event
	DefaultMaxTries uint = 3
)

// NewEvent creates a new event
func NewEvent(eventType EventType, sessionID, summary string, data map[string]interface{}) *Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Summary:   summary,
		Data:      data,
	}
}

// Title identifies an alert for deduplication. Two sessions of the same
// pipeline ending in the same state share a title.
func (e *Event) Title() string {
	if pipeline := e.GetString("pipeline"); pipeline != "" {
		return fmt.Sprintf("%s: %s", e.Type, pipeline)
	}
	return string(e.Type)
}

// GetString gets a string value from event data
func (e *Event) GetString(key string) string {
	if val, ok := e.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt gets an int value from event data
func (e *Event) GetInt(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetFloat gets a float64 value from event data
func (e *Event) GetFloat(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0.0
}
