package heal

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/metrics"
	"github.com/felixgeelhaar/pipemedic/internal/patch"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
)

// AttemptResult classifies one diagnose/patch/verify cycle.
type AttemptResult string

const (
	ResultHealed       AttemptResult = "healed"
	ResultFailed       AttemptResult = "failed"
	ResultRefused      AttemptResult = "refused"
	ResultServiceError AttemptResult = "service_error"
	ResultWriteFailed  AttemptResult = "write_failed"
)

// AttemptRecord is created once per cycle and never changed afterwards.
type AttemptRecord struct {
	Number    int              `json:"number"`
	Result    AttemptResult    `json:"result"`
	Error     string           `json:"error,omitempty"`
	Kind      runner.Kind      `json:"kind,omitempty"`
	Patch     []byte           `json:"-"`
	Candidate *patch.Candidate `json:"candidate,omitempty"`
	Reason    string           `json:"reason,omitempty"`

	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Report describes a finished or aborted session.
type Report struct {
	SessionID string
	Pipeline  string
	State     State

	// Initial is the run that started the session.
	Initial  runner.Outcome
	Attempts []AttemptRecord
	Elapsed  time.Duration

	SnapshotID string
	RolledBack bool

	// Candidate is the promoted candidate when State is healed.
	Candidate *patch.Candidate
	// Final is the live run of the promoted source when State is healed.
	Final runner.Outcome

	// Err is the last failure seen. It is nil for healthy sessions and for
	// healed sessions whose live run succeeded.
	Err error

	PullRequestURL string
	PullRequestErr error

	Transitions []Transition
}

// Outcome maps the report onto the metrics vocabulary.
func (r *Report) Outcome() metrics.Outcome {
	switch r.State {
	case StateHealed:
		return metrics.OutcomeHealed
	case StateExhausted:
		return metrics.OutcomeExhausted
	default:
		return metrics.OutcomeHealthy
	}
}

// Success reports whether the pipeline works at the end of the session.
func (r *Report) Success() bool {
	return r.State == StateIdle || r.State == StateHealed && !r.LiveRunFailed()
}

// LiveRunFailed reports whether a healed source failed when it ran for real.
func (r *Report) LiveRunFailed() bool {
	return r.State == StateHealed && r.Final.Status == runner.StatusFailure
}

// TokensUsed sums generation usage across attempts.
func (r *Report) TokensUsed() int {
	total := 0
	for _, a := range r.Attempts {
		total += a.TokensUsed
	}
	return total
}

// Summary is a one-line description for logs and notifications.
func (r *Report) Summary() string {
	elapsed := r.Elapsed.Round(time.Millisecond)
	switch r.State {
	case StateHealed:
		msg := fmt.Sprintf("%s healed after %d attempt(s) in %s", r.Pipeline, len(r.Attempts), elapsed)
		if r.LiveRunFailed() {
			msg += "; live run failed"
		}
		return msg
	case StateExhausted:
		msg := fmt.Sprintf("%s exhausted after %d attempt(s) in %s", r.Pipeline, len(r.Attempts), elapsed)
		if r.RolledBack {
			msg += "; source rolled back"
		}
		return msg
	case StateIdle:
		return fmt.Sprintf("%s ran successfully in %s, no healing needed", r.Pipeline, elapsed)
	default:
		return fmt.Sprintf("%s aborted in state %s after %d attempt(s)", r.Pipeline, r.State, len(r.Attempts))
	}
}

// ErrorText is the last failure message, or "".
func (r *Report) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return strings.TrimSpace(r.Err.Error())
}
