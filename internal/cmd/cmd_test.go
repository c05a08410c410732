package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/exitcode"
	"github.com/felixgeelhaar/pipemedic/internal/heal"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/metrics"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
)

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()

	lc := log.DefaultConfig()
	lc.Output = log.NewOutput(io.Discard)

	return &app{
		cfg: &config.Config{
			Paths: config.PathsConfig{
				StateDir:      dir,
				BackupDir:     filepath.Join(dir, "backups"),
				SessionDir:    filepath.Join(dir, "sessions"),
				MetricsFile:   filepath.Join(dir, "metrics.jsonl"),
				DashboardFile: filepath.Join(dir, "out", "dashboard.html"),
			},
			Pipeline: config.PipelineConfig{
				Source:          filepath.Join(dir, "pipelines", "users.yaml"),
				Data:            filepath.Join(dir, "data", "users.csv"),
				RequiredColumns: []string{"user_id", "full_name", "email", "signup_date"},
				Renames:         map[string]string{"user_id": "uid"},
			},
		},
		logger: log.New(lc),
	}
}

func TestWriteSample(t *testing.T) {
	a := testApp(t)
	source, data := a.cfg.Pipeline.Source, a.cfg.Pipeline.Data

	written, err := writeSample(source, data, false)
	require.NoError(t, err)
	assert.True(t, written)

	got, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, pipeline.SampleDefinition, string(got))

	require.NoError(t, os.WriteFile(source, []byte("edited"), 0644))

	written, err = writeSample(source, data, false)
	require.NoError(t, err)
	assert.False(t, written, "existing source must be left alone")
	got, _ = os.ReadFile(source)
	assert.Equal(t, "edited", string(got))

	written, err = writeSample(source, data, true)
	require.NoError(t, err)
	assert.True(t, written)
	got, _ = os.ReadFile(source)
	assert.Equal(t, pipeline.SampleDefinition, string(got))
}

func TestInject(t *testing.T) {
	a := testApp(t)
	_, err := writeSample(a.cfg.Pipeline.Source, a.cfg.Pipeline.Data, true)
	require.NoError(t, err)

	event, err := inject(a, "", "")
	require.NoError(t, err)
	assert.Equal(t, "user_id", event.Column)
	assert.Equal(t, "uid", event.NewName)

	data, err := os.ReadFile(a.cfg.Pipeline.Data)
	require.NoError(t, err)
	header, _, _ := bytes.Cut(data, []byte("\n"))
	assert.Contains(t, string(header), "uid")
	assert.NotContains(t, string(header), "user_id")

	assert.Equal(t, "uid", a.cfg.Pipeline.Renames["user_id"], "config renames must not be modified")
}

func TestInject_ExplicitTarget(t *testing.T) {
	a := testApp(t)
	_, err := writeSample(a.cfg.Pipeline.Source, a.cfg.Pipeline.Data, true)
	require.NoError(t, err)

	event, err := inject(a, "email", "mail")
	require.NoError(t, err)
	assert.Equal(t, "email", event.Column)
	assert.Equal(t, "mail", event.NewName)
	_, ok := a.cfg.Pipeline.Renames["email"]
	assert.False(t, ok)
}

func TestInject_ToRequiresColumn(t *testing.T) {
	a := testApp(t)
	_, err := inject(a, "", "mail")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
}

func TestReportError(t *testing.T) {
	assert.NoError(t, reportError(nil))
	assert.NoError(t, reportError(&heal.Report{State: heal.StateHealed}))
	assert.NoError(t, reportError(&heal.Report{State: heal.StateIdle}))

	report := &heal.Report{
		SessionID:  "session-0001",
		Pipeline:   "users",
		State:      heal.StateExhausted,
		Attempts:   make([]heal.AttemptRecord, 3),
		RolledBack: true,
		Err:        errors.NewMissingColumnError("user_id", []string{"uid"}),
	}
	err := reportError(report)
	require.Error(t, err)
	assert.Equal(t, exitcode.Exhausted, exitcode.DetermineExitCode(err))
	assert.Contains(t, err.Error(), "exhausted after 3 attempt(s)")
	assert.Contains(t, err.Error(), "pipemedic session show session-0001")
	assert.True(t, errors.Is(err, errors.ErrCodeMissingColumn), "cause must stay reachable")
}

func TestReportError_LiveRunFailed(t *testing.T) {
	report := &heal.Report{
		SessionID: "session-0003",
		Pipeline:  "users",
		State:     heal.StateHealed,
		Attempts:  make([]heal.AttemptRecord, 1),
		Final:     runner.Outcome{Status: runner.StatusFailure, Kind: runner.KindIO, Code: errors.ErrCodeSinkFailed},
		Err:       errors.New(errors.ErrCodeSinkFailed, "cannot open output"),
	}
	err := reportError(report)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSinkFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "live run failed")
	assert.Contains(t, err.Error(), "pipemedic session show session-0003")

	report.Final = runner.Outcome{Status: runner.StatusSuccess}
	report.Err = nil
	assert.NoError(t, reportError(report))
}

func TestPrintReport(t *testing.T) {
	report := &heal.Report{
		SessionID: "session-0002",
		Pipeline:  "users",
		State:     heal.StateExhausted,
		Initial: runner.Outcome{
			Status:  runner.StatusFailure,
			Kind:    runner.KindSchema,
			Message: "missing required column \"user_id\"\nheader: uid,full_name",
		},
		Attempts: []heal.AttemptRecord{
			{Number: 1, Result: heal.ResultRefused, Error: "refused: not a pipeline", Duration: 1500 * time.Microsecond},
			{Number: 2, Result: heal.ResultFailed, Duration: 2 * time.Millisecond},
		},
		SnapshotID:     "backup-1",
		RolledBack:     true,
		PullRequestErr: fmt.Errorf("github down"),
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "session session-0002")
	assert.Contains(t, out, "failure (schema): missing required column \"user_id\"\n")
	assert.NotContains(t, out, "header: uid")
	assert.Contains(t, out, "attempt 1: refused in 2ms - refused: not a pipeline")
	assert.Contains(t, out, "attempt 2: failed in 2ms\n")
	assert.Contains(t, out, "restored snapshot backup-1")
	assert.Contains(t, out, "pull request failed: github down")
	assert.NotContains(t, out, "live run")
}

func TestPrintReport_LiveRun(t *testing.T) {
	report := &heal.Report{
		SessionID: "session-0004",
		Pipeline:  "users",
		State:     heal.StateHealed,
		Attempts:  []heal.AttemptRecord{{Number: 1, Result: heal.ResultHealed}},
		Final: runner.Outcome{
			Status:   runner.StatusFailure,
			Kind:     runner.KindIO,
			Message:  "cannot open output: disk full\ndetails",
			Duration: 3 * time.Millisecond,
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "live run failed")
	assert.Contains(t, out, "live run: failure in 3ms (io): cannot open output: disk full\n")

	report.Final = runner.Outcome{Status: runner.StatusSuccess, Duration: time.Millisecond}
	buf.Reset()
	printReport(&buf, report)
	assert.Contains(t, buf.String(), "live run: success in 1ms\n")
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"one", "one"},
		{"\n  one\ntwo", "one"},
		{"one  \n", "one"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, firstLine(tt.in), "input %q", tt.in)
	}
}

func TestWriteDashboard(t *testing.T) {
	a := testApp(t)
	rec := a.recorder()
	require.NoError(t, rec.Record(metrics.Entry{
		ID:        "s1",
		Pipeline:  "users",
		Outcome:   metrics.OutcomeHealed,
		Attempts:  2,
		Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}))

	require.NoError(t, a.writeDashboard(a.cfg.Paths.DashboardFile))

	html, err := os.ReadFile(a.cfg.Paths.DashboardFile)
	require.NoError(t, err)
	assert.Contains(t, string(html), "users")
}
