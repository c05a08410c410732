package heal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/pipemedic/internal/checkpoint"
	"github.com/felixgeelhaar/pipemedic/internal/hooks"
	"github.com/felixgeelhaar/pipemedic/internal/metrics"
	"github.com/felixgeelhaar/pipemedic/internal/vcs"
)

// finish runs the terminal side effects in order: metrics log, Prometheus,
// checkpoint, notification, pull request. Only a metrics log failure is
// returned; the others are logged.
func (c *Controller) finish(ctx context.Context, s *session) (*Report, error) {
	r := s.report
	r.Elapsed = c.now().Sub(s.start)

	recordErr := c.record(s)
	if c.metrics != nil {
		c.metrics.ObserveSession(r.Outcome(), r.Elapsed, c.now())
	}

	s.state.Finish(checkpointStatus(r.Outcome()))
	if r.Err != nil {
		s.state.SetMetadata("last_error", firstLine(r.ErrorText()))
	}
	c.saveState(s)

	c.notify(ctx, s)

	if r.State == StateHealed && c.publisher != nil {
		if r.LiveRunFailed() {
			s.logger.WarnContext(ctx, "pull request skipped", "reason", "live run failed")
		} else {
			c.openPullRequest(ctx, s)
		}
	}

	s.logger.InfoContext(ctx, "session finished",
		"state", r.State,
		"attempts", len(r.Attempts),
		"elapsed", r.Elapsed,
		"rolled_back", r.RolledBack,
	)
	return r, recordErr
}

func checkpointStatus(o metrics.Outcome) string {
	switch o {
	case metrics.OutcomeHealed:
		return checkpoint.StatusHealed
	case metrics.OutcomeExhausted:
		return checkpoint.StatusExhausted
	default:
		return checkpoint.StatusHealthy
	}
}

func (c *Controller) record(s *session) error {
	if c.recorder == nil {
		return nil
	}
	r := s.report
	entry := metrics.Entry{
		ID:             r.SessionID,
		Timestamp:      c.now().UTC(),
		Pipeline:       r.Pipeline,
		Outcome:        r.Outcome(),
		Success:        r.Success(),
		Attempts:       len(r.Attempts),
		ElapsedSeconds: r.Elapsed.Seconds(),
		ErrorKind:      string(r.Initial.Kind),
		Error:          r.ErrorText(),
		TokensUsed:     r.TokensUsed(),
	}
	if err := c.recorder.Record(entry); err != nil {
		s.logger.Error("failed to record session metrics", "error", err)
		return err
	}
	return nil
}

func eventType(o metrics.Outcome) hooks.EventType {
	switch o {
	case metrics.OutcomeHealed:
		return hooks.EventSessionHealed
	case metrics.OutcomeExhausted:
		return hooks.EventSessionExhausted
	default:
		return hooks.EventSessionHealthy
	}
}

func (c *Controller) notify(ctx context.Context, s *session) {
	if c.notifier == nil {
		return
	}
	r := s.report
	data := map[string]interface{}{
		"pipeline":        r.Pipeline,
		"attempts":        len(r.Attempts),
		"elapsed_seconds": r.Elapsed.Seconds(),
		"rolled_back":     r.RolledBack,
	}
	if r.Err != nil {
		data["error"] = metrics.Truncate(firstLine(r.ErrorText()), metrics.MaxErrorLength)
	}
	if r.Initial.Kind != "" {
		data["error_kind"] = string(r.Initial.Kind)
	}
	c.notifier.Dispatch(ctx, hooks.NewEvent(eventType(r.Outcome()), r.SessionID, r.Summary(), data))
}

func (c *Controller) openPullRequest(ctx context.Context, s *session) {
	r := s.report
	path := c.repoPath
	if path == "" {
		path = filepath.ToSlash(s.SourcePath)
	}

	content, err := candidateContent(r)
	if err != nil {
		r.PullRequestErr = err
		s.logger.WarnContext(ctx, "pull request skipped", "error", err)
		return
	}

	url, err := c.publisher.OpenPullRequest(ctx, vcs.Change{
		Branch:  "pipemedic/heal-" + shortID(r.SessionID),
		Path:    path,
		Content: content,
		Title:   fmt.Sprintf("pipemedic: heal %s pipeline", r.Pipeline),
		Body:    pullRequestBody(r),
	})
	if err != nil {
		r.PullRequestErr = err
		s.logger.WarnContext(ctx, "pull request failed", "error", err)
		return
	}

	r.PullRequestURL = url
	s.state.PullRequestURL = url
	c.saveState(s)
}

func candidateContent(r *Report) ([]byte, error) {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if r.Attempts[i].Result == ResultHealed {
			return r.Attempts[i].Patch, nil
		}
	}
	return nil, fmt.Errorf("no healed attempt in session %s", r.SessionID)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func pullRequestBody(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated repair of the `%s` pipeline after a failed run.\n\n", r.Pipeline)
	fmt.Fprintf(&b, "- Session: `%s`\n", r.SessionID)
	fmt.Fprintf(&b, "- Attempts: %d\n", len(r.Attempts))
	if r.Initial.Kind != "" {
		fmt.Fprintf(&b, "- Failure kind: `%s`\n", r.Initial.Kind)
	}
	if msg := describe(r.Initial.Err); msg != "" {
		fmt.Fprintf(&b, "\n### Original error\n\n```\n%s\n```\n", msg)
	} else if r.Initial.Message != "" {
		fmt.Fprintf(&b, "\n### Original error\n\n```\n%s\n```\n", firstLine(r.Initial.Message))
	}
	if r.Candidate != nil && r.Candidate.Diff != "" {
		fmt.Fprintf(&b, "\n### Diff (+%d -%d)\n\n```diff\n%s```\n", r.Candidate.Insertions, r.Candidate.Deletions, strings.TrimRight(r.Candidate.Diff, "\n")+"\n")
	}
	b.WriteString("\nThe candidate passed a dry run against the current input before it was promoted.\n")
	return b.String()
}
