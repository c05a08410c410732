package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/diagnosis"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/log"
)

// DryRunEnv is set to 1 for verification runs of external pipelines.
const DryRunEnv = "PIPEMEDIC_DRY_RUN"

// maxCapture bounds the captured output kept in outcomes.
const maxCapture = 64 * 1024

// Command runs an external pipeline, e.g. a Python script. Argv elements may
// contain {source}, {data} and {dry_run} placeholders.
type Command struct {
	Argv   []string
	Dir    string
	logger *log.Logger
}

// NewCommand creates a subprocess runner.
func NewCommand(argv []string, logger *log.Logger) *Command {
	if logger == nil {
		logger = log.Nop()
	}
	return &Command{Argv: argv, logger: logger}
}

func (c *Command) expand(target Target) []string {
	dryRun := "0"
	if target.DryRun {
		dryRun = "1"
	}
	r := strings.NewReplacer("{source}", target.SourcePath, "{data}", target.DataPath, "{dry_run}", dryRun)
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		argv[i] = r.Replace(a)
	}
	return argv
}

// Run executes the command and classifies a non-zero exit from its output.
func (c *Command) Run(ctx context.Context, target Target) Outcome {
	start := time.Now()
	argv := c.expand(target)

	// #nosec G204 - argv comes from the operator's configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(),
		"PIPEMEDIC_SOURCE="+target.SourcePath,
		"PIPEMEDIC_DATA="+target.DataPath,
	)
	if target.DryRun {
		cmd.Env = append(cmd.Env, DryRunEnv+"=1")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)
	c.logger.Debug("pipeline command finished", "argv", argv, "duration_ms", duration.Milliseconds(), "error", err)

	if err == nil {
		return Outcome{Status: StatusSuccess, Output: tail(stdout.String()), Duration: duration}
	}

	var exitErr *exec.ExitError
	if !stderrors.As(err, &exitErr) {
		// The command never ran; patching the source cannot help.
		return Outcome{
			Status:   StatusFailure,
			Kind:     KindIO,
			Message:  fmt.Sprintf("failed to start pipeline command %q: %v", argv[0], err),
			Code:     errors.ErrCodePipelineRuntime,
			Duration: duration,
		}
	}

	text := stderr.String()
	if strings.TrimSpace(text) == "" {
		text = stdout.String()
	}
	if ctx.Err() != nil {
		text = fmt.Sprintf("pipeline command interrupted: %v\n%s", ctx.Err(), text)
	}

	d := diagnosis.Analyze(text)
	code := d.Code
	if code == "" {
		code = errors.ErrCodePipelineRuntime
	}
	return Outcome{
		Status:   StatusFailure,
		Kind:     kindOfCategory(d),
		Message:  tail(text),
		Code:     code,
		Duration: duration,
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxCapture {
		return s
	}
	return "..." + s[len(s)-maxCapture:]
}
