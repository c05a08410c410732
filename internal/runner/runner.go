// Package runner executes a pipeline source against its data and reports a
// classified outcome. Runners never return errors and never panic.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/diagnosis"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
)

// Status is the top-level result of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Kind classifies a failure.
type Kind string

const (
	KindSchema        Kind = "schema"
	KindType          Kind = "type"
	KindEmptyInput    Kind = "empty_input"
	KindDataQuality   Kind = "data_quality"
	KindInvalidSource Kind = "invalid_source"
	KindIO            Kind = "io"
	KindRuntime       Kind = "runtime"
)

// Recoverable reports whether patching the pipeline source can fix a failure
// of this kind. Empty input and I/O failures are environmental.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindEmptyInput, KindIO:
		return false
	default:
		return true
	}
}

// Target names what to run.
type Target struct {
	SourcePath string
	DataPath   string
	DryRun     bool
}

// Outcome is Success(output) or Failure(kind, message).
type Outcome struct {
	Status   Status           `json:"status"`
	Output   string           `json:"output,omitempty"`
	Kind     Kind             `json:"kind,omitempty"`
	Message  string           `json:"message,omitempty"`
	Code     errors.ErrorCode `json:"code,omitempty"`
	Duration time.Duration    `json:"duration"`

	// Err is the underlying error for in-process failures.
	Err error `json:"-"`
}

// OK reports success.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Diagnosis analyzes the failure for the repair prompt.
func (o Outcome) Diagnosis() diagnosis.Diagnosis {
	if o.Err != nil {
		return diagnosis.FromError(o.Err)
	}
	return diagnosis.Analyze(o.Message)
}

func (o Outcome) String() string {
	if o.OK() {
		return fmt.Sprintf("success in %s: %s", o.Duration.Round(time.Millisecond), o.Output)
	}
	return fmt.Sprintf("failure (%s) in %s: %s", o.Kind, o.Duration.Round(time.Millisecond), o.Message)
}

// Runner executes a target.
type Runner interface {
	Run(ctx context.Context, target Target) Outcome
}

// KindOf maps an error to a failure kind by its code family.
func KindOf(err error) Kind {
	switch code := errors.CodeOf(err); {
	case code == errors.ErrCodeEmptyInput:
		return KindEmptyInput
	case code == errors.ErrCodeDataQuality:
		return KindDataQuality
	case code.Category() == "SCHEMA":
		return KindSchema
	case code.Category() == "TYPE":
		return KindType
	case code.Category() == "PATCH":
		return KindInvalidSource
	case code.Category() == "IO":
		return KindIO
	default:
		return KindRuntime
	}
}

func kindOfCategory(d diagnosis.Diagnosis) Kind {
	switch d.Category {
	case diagnosis.SchemaDrift:
		return KindSchema
	case diagnosis.TypeMismatch:
		return KindType
	case diagnosis.DataQuality:
		if d.Context["issue"] == "empty_input" {
			return KindEmptyInput
		}
		return KindDataQuality
	case diagnosis.SyntaxError:
		return KindInvalidSource
	case diagnosis.FileIO:
		return KindIO
	default:
		return KindRuntime
	}
}

func failure(err error, start time.Time) Outcome {
	msg := err.Error()
	if coded, ok := errors.As(err); ok {
		msg = coded.Summary()
	}
	return Outcome{
		Status:   StatusFailure,
		Kind:     KindOf(err),
		Message:  msg,
		Code:     errors.CodeOf(err),
		Duration: time.Since(start),
		Err:      err,
	}
}

// New builds the runner selected by configuration.
func New(cfg config.PipelineConfig, logger *log.Logger) (Runner, error) {
	switch cfg.Runner {
	case "", "inprocess":
		return NewInProcess(pipeline.NewEngine(logger), logger), nil
	case "command":
		if len(cfg.Command) == 0 {
			return nil, errors.NewConfigInvalidError([]string{"pipeline.command is required when pipeline.runner is command"})
		}
		return NewCommand(cfg.Command, logger), nil
	default:
		return nil, errors.NewConfigInvalidError([]string{fmt.Sprintf("unknown pipeline.runner %q", cfg.Runner)})
	}
}
