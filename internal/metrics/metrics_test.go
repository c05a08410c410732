package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m == nil {
		t.Fatal("expected metrics, got nil")
	}

	tests := []struct {
		name   string
		metric interface{}
	}{
		{"Sessions", m.Sessions},
		{"SessionDuration", m.SessionDuration},
		{"LastSession", m.LastSession},
		{"Attempts", m.Attempts},
		{"Errors", m.Errors},
		{"ProviderCalls", m.ProviderCalls},
		{"ProviderLatency", m.ProviderLatency},
		{"ProviderTokens", m.ProviderTokens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s is nil", tt.name)
			}
		})
	}
}

func TestObserveSession(t *testing.T) {
	_, m := NewRegistry()
	at := time.Unix(1_760_000_000, 0)

	m.ObserveSession(OutcomeHealed, 3*time.Second, at)
	m.ObserveSession(OutcomeHealed, time.Second, at)
	m.ObserveSession(OutcomeExhausted, time.Second, at)

	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("healed")); got != 2 {
		t.Errorf("healed sessions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("exhausted")); got != 1 {
		t.Errorf("exhausted sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastSession); got != float64(at.Unix()) {
		t.Errorf("last session = %v", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestObserveAttemptsAndErrors(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveAttempt("failed")
	m.ObserveAttempt("failed")
	m.ObserveAttempt("healed")
	m.ObserveError("schema")

	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("schema")); got != 1 {
		t.Errorf("schema errors = %v, want 1", got)
	}
}

func TestObserveProviderCall(t *testing.T) {
	reg, m := NewRegistry()

	m.ObserveProviderCall("openrouter", "openai/gpt-4o-mini", true, 800*time.Millisecond, 150)
	m.ObserveProviderCall("openrouter", "openai/gpt-4o-mini", false, 0, 0)

	expected := `
# HELP pipemedic_provider_calls_total Total number of generation provider calls
# TYPE pipemedic_provider_calls_total counter
pipemedic_provider_calls_total{model="openai/gpt-4o-mini",provider="openrouter",success="false"} 1
pipemedic_provider_calls_total{model="openai/gpt-4o-mini",provider="openrouter",success="true"} 1
# HELP pipemedic_provider_tokens_total Total tokens consumed by generation calls
# TYPE pipemedic_provider_tokens_total counter
pipemedic_provider_tokens_total{model="openai/gpt-4o-mini",provider="openrouter"} 150
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pipemedic_provider_calls_total", "pipemedic_provider_tokens_total"); err != nil {
		t.Error(err)
	}
}
