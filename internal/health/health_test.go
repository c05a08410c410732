package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
	"github.com/felixgeelhaar/pipemedic/internal/provider"
)

// mockChecker is a test double for health checks
type mockChecker struct {
	name   string
	result *Result
	delay  time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) *Result {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Unhealthy("check cancelled").
				WithDetail("error", ctx.Err().Error())
		}
	}
	return m.result
}

// mockProvider implements provider.ProviderClient for testing
type mockProvider struct {
	available bool
	healthErr error
	closed    bool
}

func (m *mockProvider) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) GetInfo() *provider.ProviderInfo {
	return &provider.ProviderInfo{Name: "openai", Model: "gpt-4o-mini"}
}

func (m *mockProvider) IsAvailable() bool { return m.available }

func (m *mockProvider) Health(ctx context.Context) error { return m.healthErr }

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestManagerCheck(t *testing.T) {
	manager := NewManager()
	manager.AddChecker(&mockChecker{name: "first", result: Healthy("ok")})
	manager.AddChecker(&mockChecker{name: "second", result: Degraded("slow")})
	manager.AddChecker(&mockChecker{name: "third", result: nil})

	if manager.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", manager.Count())
	}

	results := manager.Check(context.Background())
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	want := []struct {
		name   string
		status Status
	}{
		{"first", StatusHealthy},
		{"second", StatusDegraded},
		{"third", StatusUnhealthy},
	}
	for i, w := range want {
		if results[i].Name != w.name {
			t.Errorf("results[%d].Name = %q, want %q", i, results[i].Name, w.name)
		}
		if results[i].Status != w.status {
			t.Errorf("results[%d].Status = %v, want %v", i, results[i].Status, w.status)
		}
		if results[i].Latency <= 0 {
			t.Errorf("results[%d].Latency not set", i)
		}
	}
}

func TestManagerTimeout(t *testing.T) {
	manager := NewManager().WithTimeout(20 * time.Millisecond)
	manager.AddChecker(&mockChecker{name: "slow", result: Healthy("ok"), delay: time.Second})

	start := time.Now()
	results := manager.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Check took %v, want it bounded by the timeout", elapsed)
	}
	if results[0].Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", results[0].Status)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []*Result
		want    Status
	}{
		{"no results", nil, StatusHealthy},
		{"all healthy", []*Result{Healthy("a"), Healthy("b")}, StatusHealthy},
		{"one degraded", []*Result{Healthy("a"), Degraded("b")}, StatusDegraded},
		{"unhealthy wins", []*Result{Degraded("a"), Unhealthy("b"), Healthy("c")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderChecker(t *testing.T) {
	tests := []struct {
		name    string
		client  *mockProvider
		openErr error
		want    Status
	}{
		{"healthy", &mockProvider{available: true}, nil, StatusHealthy},
		{"not configured", &mockProvider{available: false}, nil, StatusUnhealthy},
		{"health fails", &mockProvider{available: true, healthErr: errors.New("401")}, nil, StatusUnhealthy},
		{"open fails", nil, errors.New("ai.api_key is required"), StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewProviderChecker(func() (provider.ProviderClient, error) {
				if tt.openErr != nil {
					return nil, tt.openErr
				}
				return tt.client, nil
			})
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", result.Status, tt.want, result.Message)
			}
			if tt.client != nil && !tt.client.closed {
				t.Error("client should be closed after the check")
			}
		})
	}
}

func TestSourceChecker(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "users.yaml", pipeline.SampleDefinition)
	bad := writeFile(t, dir, "broken.yaml", "name: [")

	if r := NewSourceChecker(good).Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("valid source: Status = %v (%s)", r.Status, r.Message)
	} else if !strings.HasPrefix(r.Message, "users:") {
		t.Errorf("Message = %q, want pipeline name", r.Message)
	}
	if r := NewSourceChecker(bad).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("broken source: Status = %v", r.Status)
	}
	if r := NewSourceChecker(filepath.Join(dir, "missing.yaml")).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("missing source: Status = %v", r.Status)
	}
}

func TestInputChecker(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "users.yaml", pipeline.SampleDefinition)

	tests := []struct {
		name string
		data string
		want Status
	}{
		{"matching header", pipeline.SampleData, StatusHealthy},
		{"extra column", "user_id,full_name,email,signup_date,plan\n1,a,a@x,2024-01-01,pro\n", StatusHealthy},
		{"renamed column", strings.Replace(pipeline.SampleData, "user_id", "uid", 1), StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := writeFile(t, t.TempDir(), "users.csv", tt.data)
			r := NewInputChecker(source, data).Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", r.Status, tt.want, r.Message)
			}
		})
	}

	t.Run("missing input", func(t *testing.T) {
		r := NewInputChecker(source, filepath.Join(dir, "nope.csv")).Check(context.Background())
		if r.Status != StatusUnhealthy {
			t.Errorf("Status = %v, want unhealthy", r.Status)
		}
	})
}

func TestInputChecker_DriftMessageNamesColumn(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "users.yaml", pipeline.SampleDefinition)
	data := writeFile(t, dir, "users.csv", strings.Replace(pipeline.SampleData, "user_id", "uid", 1))

	r := NewInputChecker(source, data).Check(context.Background())
	if !strings.Contains(r.Message, "user_id") {
		t.Errorf("Message = %q, want it to name user_id", r.Message)
	}
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "state", "backups")

	if r := NewDirChecker(nested, "").Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Status = %v (%s)", r.Status, r.Message)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("directory should have been created: %v", err)
	}

	file := writeFile(t, dir, "plain", "x")
	if r := NewDirChecker(filepath.Join(file, "sub")).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy for a path below a file", r.Status)
	}
}

func TestCommandChecker(t *testing.T) {
	if r := NewCommandChecker(nil).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("empty command: Status = %v", r.Status)
	}
	if r := NewCommandChecker([]string{"pipemedic-no-such-binary"}).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("missing binary: Status = %v", r.Status)
	}
	if r := NewCommandChecker([]string{os.Args[0]}).Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("test binary: Status = %v (%s)", r.Status, r.Message)
	}
}
