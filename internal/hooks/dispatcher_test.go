package hooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDispatcher(t *testing.T, opts DispatcherOptions) (*Dispatcher, *MockHook, *fakeClock) {
	t.Helper()
	registry := NewRegistry()
	hook := &MockHook{name: "mock", eventTypes: AllEventTypes(), enabled: true}
	require.NoError(t, registry.Register(hook))

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(registry, opts)
	d.now = clock.now
	return d, hook, clock
}

func TestDispatcherFiltersByOutcome(t *testing.T) {
	tests := []struct {
		name      string
		opts      DispatcherOptions
		event     EventType
		delivered bool
	}{
		{name: "failure alert on", opts: DispatcherOptions{AlertOnFailure: true}, event: EventSessionExhausted, delivered: true},
		{name: "failure alert off", opts: DispatcherOptions{AlertOnSuccess: true}, event: EventSessionExhausted},
		{name: "success alert on", opts: DispatcherOptions{AlertOnSuccess: true}, event: EventSessionHealed, delivered: true},
		{name: "success alert off", opts: DispatcherOptions{AlertOnFailure: true}, event: EventSessionHealed},
		{name: "healthy counts as success", opts: DispatcherOptions{AlertOnSuccess: true}, event: EventSessionHealthy, delivered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, hook, _ := newTestDispatcher(t, tt.opts)
			results := d.Dispatch(context.Background(), NewEvent(tt.event, "s", "", map[string]interface{}{"pipeline": "users"}))
			if tt.delivered {
				assert.Len(t, results, 1)
				assert.Equal(t, int32(1), hook.executed.Load())
			} else {
				assert.Nil(t, results)
				assert.Equal(t, int32(0), hook.executed.Load())
			}
		})
	}
}

func TestDispatcherDedupWindow(t *testing.T) {
	d, hook, clock := newTestDispatcher(t, DispatcherOptions{AlertOnFailure: true})
	assert.Equal(t, DefaultDedupWindow, d.opts.DedupWindow)

	event := func(session, pipeline string) *Event {
		return NewEvent(EventSessionExhausted, session, "exhausted", map[string]interface{}{"pipeline": pipeline})
	}
	ctx := context.Background()

	d.Dispatch(ctx, event("s1", "users"))
	clock.advance(time.Minute)
	d.Dispatch(ctx, event("s2", "users"))
	assert.Equal(t, int32(1), hook.executed.Load(), "same title inside the window is suppressed")

	d.Dispatch(ctx, event("s3", "orders"))
	assert.Equal(t, int32(2), hook.executed.Load(), "different title is delivered")

	clock.advance(4 * time.Minute)
	d.Dispatch(ctx, event("s4", "users"))
	assert.Equal(t, int32(3), hook.executed.Load(), "window elapsed")
}

func TestDispatcherLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: log.LevelDebug, Format: log.FormatJSON, Output: log.NewOutput(&buf)})

	registry := NewRegistry()
	require.NoError(t, registry.Register(&FailingHook{name: "broken"}))
	d := NewDispatcher(registry, DispatcherOptions{AlertOnFailure: true, Logger: logger})

	results := d.Dispatch(context.Background(), NewEvent(EventSessionExhausted, "s", "", nil))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "broken")
}

func TestDispatcherNil(t *testing.T) {
	var d *Dispatcher
	assert.Nil(t, d.Dispatch(context.Background(), healedEvent()))
}

func TestFromConfig(t *testing.T) {
	d, err := FromConfig(config.MonitoringConfig{Enabled: false, WebhookURL: "http://x"}, nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = FromConfig(config.MonitoringConfig{Enabled: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, d, "no sinks configured")

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, err = FromConfig(config.MonitoringConfig{
		Enabled:         true,
		WebhookURL:      server.URL + "/hook",
		SlackWebhookURL: server.URL + "/slack",
		AlertOnFailure:  true,
		DedupWindow:     time.Minute,
		Timeout:         time.Second,
	}, log.Nop())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.registry.Count())
	assert.Equal(t, time.Minute, d.opts.DedupWindow)

	results := d.Dispatch(context.Background(), NewEvent(EventSessionExhausted, "s", "failed", nil))
	assert.Len(t, results, 2)
	assert.Empty(t, Failed(results))
	assert.Equal(t, int32(2), hits.Load())
}
