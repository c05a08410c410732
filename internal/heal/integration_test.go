package heal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pipemedic/internal/chaos"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
)

type usersPipeline struct {
	source string
	data   string
	output string
	def    string
}

func newUsersPipeline(t *testing.T, data string) *usersPipeline {
	t.Helper()
	dir := t.TempDir()
	p := &usersPipeline{
		source: filepath.Join(dir, "users.yaml"),
		data:   filepath.Join(dir, "users.csv"),
		output: filepath.Join(dir, "out", "users_processed.csv"),
	}
	p.def = strings.Replace(pipeline.SampleDefinition, "data/processed/users_processed.csv", filepath.ToSlash(p.output), 1)
	require.NoError(t, os.WriteFile(p.source, []byte(p.def), 0644))
	require.NoError(t, os.WriteFile(p.data, []byte(data), 0644))
	return p
}

func (p *usersPipeline) withAlias() string {
	return strings.Replace(p.def, "  - name: user_id\n    type: int\n", "  - name: user_id\n    type: int\n    aliases: [uid]\n", 1)
}

func TestHeal_InProcessSchemaDrift(t *testing.T) {
	p := newUsersPipeline(t, pipeline.SampleData)
	injector := chaos.NewInjector(map[string]string{"user_id": "uid"}, ',')
	event, err := injector.Inject(p.data, []string{"user_id", "full_name", "email", "signup_date"}, "user_id")
	require.NoError(t, err)
	require.Equal(t, "uid", event.NewName)

	proposer := &scriptedProposer{}
	proposer.responses = []response{proposed(p.withAlias())}

	run := runner.NewInProcess(pipeline.NewEngine(nil), nil)
	c := New(run, proposer, Options{
		BackupDir:   filepath.Join(filepath.Dir(p.source), "backups"),
		ArtifactDir: filepath.Join(filepath.Dir(p.source), "artifacts"),
	})

	r, err := c.Heal(context.Background(), Session{SourcePath: p.source, DataPath: p.data})
	require.NoError(t, err)

	assert.Equal(t, runner.KindSchema, r.Initial.Kind)
	assert.True(t, errors.Is(r.Initial.Err, errors.ErrCodeMissingColumn))
	assert.Contains(t, r.Initial.Message, "user_id")

	assert.Equal(t, StateHealed, r.State)
	require.Len(t, r.Attempts, 1)

	live, err := os.ReadFile(p.source)
	require.NoError(t, err)
	assert.Contains(t, string(live), "aliases: [uid]")

	require.Len(t, proposer.contexts, 1)
	rc := proposer.contexts[0]
	assert.Equal(t, "uid", rc.Header[0])
	assert.Equal(t, "1", rc.Sample[0][0])

	assert.True(t, r.Final.OK(), r.Final.String())
	assert.True(t, r.Success())
	written, err := os.ReadFile(p.output)
	require.NoError(t, err, "the healed pipeline writes its output")
	assert.True(t, strings.HasPrefix(string(written), "id,name,email_address,created_at\n"), string(written))
}

func TestHeal_InProcessSinkFailureAfterHealing(t *testing.T) {
	p := newUsersPipeline(t, pipeline.SampleData)
	_, err := chaos.NewInjector(map[string]string{"user_id": "uid"}, ',').Inject(p.data, []string{"user_id"}, "user_id")
	require.NoError(t, err)

	proposer := &scriptedProposer{responses: []response{proposed(p.withAlias())}}
	engine := pipeline.NewEngine(nil).WithSinkOpener(func(pipeline.Output, rune) (pipeline.Sink, error) {
		return nil, fmt.Errorf("disk full")
	})
	c := New(runner.NewInProcess(engine, nil), proposer, Options{ArtifactDir: t.TempDir()})

	r, err := c.Heal(context.Background(), Session{SourcePath: p.source, DataPath: p.data})
	require.NoError(t, err)

	assert.Equal(t, StateHealed, r.State)
	assert.True(t, r.LiveRunFailed())
	assert.True(t, errors.Is(r.Err, errors.ErrCodeSinkFailed))
	assert.Contains(t, r.Final.Message, "disk full")
}

func TestHeal_InProcessExtraColumnNeedsNoHealing(t *testing.T) {
	p := newUsersPipeline(t, "user_id,full_name,email,signup_date,referrer\n1,Ada,ada@example.com,2024-01-05,web\n")

	proposer := &scriptedProposer{}
	c := New(runner.NewInProcess(pipeline.NewEngine(nil), nil), proposer, Options{ArtifactDir: t.TempDir()})

	r, err := c.Heal(context.Background(), Session{SourcePath: p.source, DataPath: p.data})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, r.State)
	assert.Empty(t, proposer.contexts)
}
