package runner

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
)

// InProcess parses the pipeline source and interprets it in this process.
type InProcess struct {
	engine *pipeline.Engine
	logger *log.Logger
}

// NewInProcess creates an in-process runner.
func NewInProcess(engine *pipeline.Engine, logger *log.Logger) *InProcess {
	if logger == nil {
		logger = log.Nop()
	}
	return &InProcess{engine: engine, logger: logger}
}

// Run executes the target. A panic in the interpreter becomes a runtime failure.
func (r *InProcess) Run(ctx context.Context, target Target) (out Outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			out = Outcome{
				Status:   StatusFailure,
				Kind:     KindRuntime,
				Message:  fmt.Sprintf("pipeline panicked: %v", p),
				Code:     errors.ErrCodePipelineRuntime,
				Duration: time.Since(start),
			}
		}
	}()

	source, err := os.ReadFile(target.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return failure(errors.NewFileNotFoundError(target.SourcePath), start)
		}
		return failure(errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read pipeline source", err), start)
	}

	def, err := pipeline.Parse(source)
	if err != nil {
		return failure(err, start)
	}

	res, err := r.engine.Execute(ctx, def, target.DataPath, pipeline.Options{DryRun: target.DryRun})
	if err != nil {
		return failure(err, start)
	}

	return Outcome{
		Status:   StatusSuccess,
		Output:   res.String(),
		Duration: time.Since(start),
	}
}
