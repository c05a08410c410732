package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/diagnosis"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
)

func setup(t *testing.T, source, data string) Target {
	t.Helper()
	dir := t.TempDir()
	target := Target{
		SourcePath: filepath.Join(dir, "pipeline.yaml"),
		DataPath:   filepath.Join(dir, "users.csv"),
	}
	source = strings.ReplaceAll(source, "data/processed/users_processed.csv", filepath.Join(dir, "out.csv"))
	require.NoError(t, os.WriteFile(target.SourcePath, []byte(source), 0o600))
	require.NoError(t, os.WriteFile(target.DataPath, []byte(data), 0o600))
	return target
}

func TestInProcess_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		source string
		data   string
		status Status
		kind   Kind
		code   errors.ErrorCode
	}{
		{name: "valid", source: pipeline.SampleDefinition, data: pipeline.SampleData, status: StatusSuccess},
		{
			name:   "extra column",
			source: pipeline.SampleDefinition,
			data:   "user_id,full_name,email,signup_date,extra\n1,Ada,a@b,2024-01-01,x\n",
			status: StatusSuccess,
		},
		{
			name:   "schema drift",
			source: pipeline.SampleDefinition,
			data:   strings.Replace(pipeline.SampleData, "user_id", "uid", 1),
			status: StatusFailure, kind: KindSchema, code: errors.ErrCodeMissingColumn,
		},
		{
			name:   "type mismatch",
			source: pipeline.SampleDefinition,
			data:   "user_id,full_name,email,signup_date\nx,Ada,a@b,2024-01-01\n",
			status: StatusFailure, kind: KindType, code: errors.ErrCodeTypeMismatch,
		},
		{
			name:   "empty input",
			source: pipeline.SampleDefinition,
			data:   "",
			status: StatusFailure, kind: KindEmptyInput, code: errors.ErrCodeEmptyInput,
		},
		{
			name:   "data quality",
			source: pipeline.SampleDefinition,
			data:   "user_id,full_name,email,signup_date\n1,,a@b,2024-01-01\n",
			status: StatusFailure, kind: KindDataQuality, code: errors.ErrCodeDataQuality,
		},
		{
			name:   "invalid source",
			source: "```python\nimport pandas\n```",
			data:   pipeline.SampleData,
			status: StatusFailure, kind: KindInvalidSource, code: errors.ErrCodePatchInvalid,
		},
	}

	r := NewInProcess(pipeline.NewEngine(nil), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := setup(t, tt.source, tt.data)
			out := r.Run(context.Background(), target)

			assert.Equal(t, tt.status, out.Status, out.Message)
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.code, out.Code)
			if tt.status == StatusFailure {
				assert.NotEmpty(t, out.Message)
				assert.NotContains(t, out.Message, "Suggestions", "messages carry the summary only")
			}
		})
	}
}

func TestInProcess_SchemaDriftNamesColumn(t *testing.T) {
	target := setup(t, pipeline.SampleDefinition, strings.Replace(pipeline.SampleData, "user_id", "uid", 1))
	out := NewInProcess(pipeline.NewEngine(nil), nil).Run(context.Background(), target)

	require.False(t, out.OK())
	assert.Contains(t, out.Message, `"user_id"`)
	d := out.Diagnosis()
	assert.Equal(t, diagnosis.SchemaDrift, d.Category)
	assert.Equal(t, "user_id", d.Context["missing_column"])
}

func TestInProcess_MissingSource(t *testing.T) {
	out := NewInProcess(pipeline.NewEngine(nil), nil).Run(context.Background(), Target{
		SourcePath: filepath.Join(t.TempDir(), "none.yaml"),
		DataPath:   "x.csv",
	})
	assert.Equal(t, KindIO, out.Kind)
	assert.False(t, Recoverable(out.Kind))
}

type panicSink struct{}

func (panicSink) Write(context.Context, []pipeline.SinkColumn, [][]any) (int64, error) {
	panic("boom")
}
func (panicSink) Close() error     { return nil }
func (panicSink) Describe() string { return "panic:" }

func TestInProcess_RecoversPanic(t *testing.T) {
	engine := pipeline.NewEngine(nil).WithSinkOpener(func(pipeline.Output, rune) (pipeline.Sink, error) {
		return panicSink{}, nil
	})
	target := setup(t, pipeline.SampleDefinition, pipeline.SampleData)

	var out Outcome
	assert.NotPanics(t, func() { out = NewInProcess(engine, nil).Run(context.Background(), target) })
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, KindRuntime, out.Kind)
	assert.Contains(t, out.Message, "boom")

	// dry runs never reach the sink
	target.DryRun = true
	assert.True(t, NewInProcess(engine, nil).Run(context.Background(), target).OK())
}

func TestRecoverable(t *testing.T) {
	for _, k := range []Kind{KindSchema, KindType, KindDataQuality, KindInvalidSource, KindRuntime} {
		assert.True(t, Recoverable(k), k)
	}
	assert.False(t, Recoverable(KindEmptyInput))
	assert.False(t, Recoverable(KindIO))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_Success(t *testing.T) {
	requireShell(t)
	c := NewCommand([]string{"sh", "-c", `echo "src={source} data={data} dry={dry_run} env=$PIPEMEDIC_DRY_RUN"`}, nil)

	out := c.Run(context.Background(), Target{SourcePath: "p.py", DataPath: "d.csv", DryRun: true})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, "src=p.py data=d.csv dry=1 env=1", out.Output)
}

func TestCommand_ClassifiesStderr(t *testing.T) {
	requireShell(t)
	tests := []struct {
		script string
		kind   Kind
	}{
		{script: `echo "KeyError: 'user_id'" >&2; exit 1`, kind: KindSchema},
		{script: `echo "ValueError: invalid literal for int()" >&2; exit 1`, kind: KindType},
		{script: `echo "SyntaxError: invalid syntax" >&2; exit 1`, kind: KindInvalidSource},
		{script: `echo "[INPUT-001] input contains no data: d.csv"; exit 2`, kind: KindEmptyInput},
		{script: `echo "something odd" >&2; exit 3`, kind: KindRuntime},
	}

	for _, tt := range tests {
		out := NewCommand([]string{"sh", "-c", tt.script}, nil).Run(context.Background(), Target{})
		assert.Equal(t, StatusFailure, out.Status, tt.script)
		assert.Equal(t, tt.kind, out.Kind, tt.script)
		assert.NotEmpty(t, out.Code)
	}
}

func TestCommand_MissingBinary(t *testing.T) {
	out := NewCommand([]string{"/definitely/not/here"}, nil).Run(context.Background(), Target{})
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, KindIO, out.Kind)
}

func TestNew(t *testing.T) {
	r, err := New(config.PipelineConfig{Runner: "inprocess"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &InProcess{}, r)

	r, err = New(config.PipelineConfig{Runner: "command", Command: []string{"python", "{source}"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Command{}, r)

	_, err = New(config.PipelineConfig{Runner: "command"}, nil)
	assert.Error(t, err)
	_, err = New(config.PipelineConfig{Runner: "lambda"}, nil)
	assert.Error(t, err)
}
