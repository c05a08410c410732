// Package heal runs the bounded repair loop around a failing pipeline.
package heal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/pipemedic/internal/agent"
	"github.com/felixgeelhaar/pipemedic/internal/backup"
	"github.com/felixgeelhaar/pipemedic/internal/checkpoint"
	"github.com/felixgeelhaar/pipemedic/internal/dataset"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/hooks"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/metrics"
	"github.com/felixgeelhaar/pipemedic/internal/patch"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
	"github.com/felixgeelhaar/pipemedic/internal/vcs"
)

// MaxAttempts is the hard bound on diagnose/patch/verify cycles.
const MaxAttempts = 3

// Proposer produces replacement sources. *agent.Agent implements it.
type Proposer interface {
	Propose(ctx context.Context, rc agent.RepairContext) (agent.Proposal, error)
}

// Notifier receives the terminal event of a session. *hooks.Dispatcher
// implements it.
type Notifier interface {
	Dispatch(ctx context.Context, event *hooks.Event) []hooks.ExecutionResult
}

// Publisher opens a pull request for a healed source. *vcs.Publisher
// implements it.
type Publisher interface {
	OpenPullRequest(ctx context.Context, change vcs.Change) (string, error)
}

// Session identifies one healing run.
type Session struct {
	// ID is generated when empty.
	ID         string
	Pipeline   string
	SourcePath string
	DataPath   string
}

// Options configures a Controller.
type Options struct {
	// MaxAttempts is clamped to 1..3.
	MaxAttempts int
	// SampleRows is how many data rows the repair prompt shows.
	SampleRows int
	// BackupDir enables snapshots; empty disables them.
	BackupDir string
	// ArtifactDir holds candidate sources.
	ArtifactDir string
	Logger      *log.Logger
}

// Controller drives Idle -> Diagnosing -> Patching -> Verifying until the
// pipeline is healed or the attempt bound is reached. Healing is strictly
// sequential; one controller must not heal the same source concurrently.
type Controller struct {
	runner      runner.Runner
	proposer    Proposer
	candidates  *patch.Store
	backupDir   string
	maxAttempts int
	sampleRows  int
	logger      *log.Logger

	recorder    *metrics.Recorder
	metrics     *metrics.Metrics
	checkpoints *checkpoint.Manager
	notifier    Notifier
	publisher   Publisher
	repoPath    string

	now   func() time.Time
	newID func() string
}

// New creates a controller. run executes pipelines and proposer suggests
// fixes.
func New(run runner.Runner, proposer Proposer, opts Options) *Controller {
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > MaxAttempts {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 5
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = filepath.Join(".pipemedic", "artifacts")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Controller{
		runner:      run,
		proposer:    proposer,
		candidates:  patch.NewStore(opts.ArtifactDir),
		backupDir:   opts.BackupDir,
		maxAttempts: opts.MaxAttempts,
		sampleRows:  opts.SampleRows,
		logger:      opts.Logger.WithGroup("heal"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SetRecorder sets the append-only session log.
func (c *Controller) SetRecorder(r *metrics.Recorder) { c.recorder = r }

// SetMetrics sets the Prometheus collectors.
func (c *Controller) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetCheckpoints sets where session state is saved.
func (c *Controller) SetCheckpoints(m *checkpoint.Manager) { c.checkpoints = m }

// SetNotifier sets the terminal event sink.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

// SetPublisher enables pull requests for healed sessions. repoPath is the
// source location inside the repository; empty uses the local path.
func (c *Controller) SetPublisher(p Publisher, repoPath string) {
	c.publisher = p
	c.repoPath = repoPath
}

// session is the mutable bookkeeping of one Heal call.
type session struct {
	Session
	report   *Report
	machine  *machine
	state    *checkpoint.State
	backups  *backup.Manager
	source   []byte
	start    time.Time
	logger   *log.Logger
	lastFail runner.Outcome
}

// Heal runs the pipeline and repairs it if it fails. The returned error is
// reserved for infrastructure failures and cancellation; an exhausted
// session is a report with State exhausted and a nil error.
func (c *Controller) Heal(ctx context.Context, sess Session) (*Report, error) {
	s, err := c.begin(sess)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "running pipeline", "source", s.SourcePath, "data", s.DataPath)
	initial := c.runner.Run(ctx, runner.Target{SourcePath: s.SourcePath, DataPath: s.DataPath})
	s.report.Initial = initial
	if ctx.Err() != nil {
		return c.abort(ctx, s)
	}

	if initial.OK() {
		s.logger.InfoContext(ctx, "pipeline healthy", "state", s.machine.state, "duration", initial.Duration)
		return c.finish(ctx, s)
	}

	s.lastFail = initial
	s.state.Error = initial.Message
	s.state.ErrorKind = string(initial.Kind)
	s.report.Err = outcomeError(initial)
	c.observeError(initial.Kind)
	if err := c.enter(s, StateDiagnosing); err != nil {
		return nil, err
	}
	s.logger.WarnContext(ctx, "pipeline failed", "kind", initial.Kind, "code", initial.Code, "error", firstLine(initial.Message))

	if err := c.snapshot(s); err != nil {
		return s.report, err
	}

	if !runner.Recoverable(initial.Kind) {
		s.logger.WarnContext(ctx, "failure is not repairable", "kind", initial.Kind)
		return c.exhaust(ctx, s)
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rec, healed, stop := c.attempt(ctx, s, attempt)
		if ctx.Err() != nil {
			return c.abort(ctx, s)
		}
		s.report.Attempts = append(s.report.Attempts, rec)
		c.saveAttempt(s, rec)

		if healed != nil {
			if err := c.candidates.Promote(healed, s.SourcePath); err != nil {
				s.logger.ErrorContext(ctx, "promotion failed", "error", err)
				s.report.Err = err
				return c.exhaust(ctx, s)
			}
			s.report.Candidate = healed
			s.report.Err = nil
			if err := c.enter(s, StateHealed); err != nil {
				return nil, err
			}
			c.liveRun(ctx, s)
			if ctx.Err() != nil {
				return c.abort(ctx, s)
			}
			return c.finish(ctx, s)
		}

		if stop || attempt == c.maxAttempts {
			return c.exhaust(ctx, s)
		}
		if s.machine.state == StateVerifying {
			if err := c.enter(s, StateDiagnosing); err != nil {
				return nil, err
			}
		}
	}
	return c.exhaust(ctx, s)
}

func (c *Controller) begin(sess Session) (*session, error) {
	if sess.SourcePath == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "pipeline source path is required")
	}
	if sess.ID == "" {
		sess.ID = c.newID()
	}
	if sess.Pipeline == "" {
		base := filepath.Base(sess.SourcePath)
		sess.Pipeline = strings.TrimSuffix(base, filepath.Ext(base))
	}

	source, err := os.ReadFile(sess.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(sess.SourcePath)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read pipeline source", err)
	}

	s := &session{
		Session: sess,
		source:  source,
		start:   c.now(),
		logger:  c.logger.WithSession(sess.ID).With("pipeline", sess.Pipeline),
	}
	s.report = &Report{SessionID: sess.ID, Pipeline: sess.Pipeline, State: StateIdle}
	s.machine = newMachine(c.now, func(t Transition) {
		s.report.Transitions = append(s.report.Transitions, t)
		s.state.AddTransition(string(t.From), string(t.To), t.At)
		s.logger.Info("state transition", "from", t.From, "state", t.To)
	})

	s.state = checkpoint.NewState(sess.ID, sess.Pipeline)
	s.state.StartedAt = s.start
	s.state.SourcePath = sess.SourcePath
	s.state.DataPath = sess.DataPath
	if c.backupDir != "" {
		s.backups = backup.NewManager(c.backupDir, sess.SourcePath)
	}
	return s, nil
}

func (c *Controller) enter(s *session, next State) error {
	if err := s.machine.to(next); err != nil {
		return errors.Wrap(errors.ErrCodePipelineRuntime, "repair state machine", err)
	}
	s.report.State = next
	return nil
}

// snapshot stores the live source before the first patch of the session.
func (c *Controller) snapshot(s *session) error {
	if s.backups == nil {
		return nil
	}
	id, err := s.backups.Snapshot(backup.Label{SessionID: s.ID, Attempt: 1}, s.source)
	if err != nil {
		return err
	}
	s.report.SnapshotID = string(id)
	s.state.SnapshotID = string(id)
	s.logger.Info("snapshot taken", "snapshot", id)
	return nil
}

// attempt runs one cycle. It returns the record, the candidate to promote
// when verification passed, and whether the loop must stop early.
func (c *Controller) attempt(ctx context.Context, s *session, n int) (AttemptRecord, *patch.Candidate, bool) {
	logger := s.logger.With("attempt", n)
	rec := AttemptRecord{Number: n, StartedAt: c.now()}

	rc := c.repairContext(s, n)
	logger.InfoContext(ctx, "requesting repair", "state", s.machine.state, "category", rc.Diagnosis.Category)

	proposal, err := c.proposer.Propose(ctx, rc)
	rec.Provider, rec.Model = proposal.Provider, proposal.Model
	rec.TokensUsed, rec.Cached = proposal.TokensUsed, proposal.Cached
	c.observeProvider(proposal, err)

	if err != nil {
		rec.Result = ResultServiceError
		rec.Error = err.Error()
		s.report.Err = err
		c.observeAttempt(rec.Result)
		if errors.Is(err, errors.ErrCodeProviderAuth) {
			logger.ErrorContext(ctx, "generation endpoint rejected credentials", "error", err)
			return c.done(rec), nil, true
		}
		logger.WarnContext(ctx, "generation call failed", "error", err)
		return c.done(rec), nil, false
	}

	if err := c.enter(s, StatePatching); err != nil {
		rec.Result, rec.Error = ResultFailed, err.Error()
		return c.done(rec), nil, true
	}

	if !proposal.Proposed() {
		rec.Result = ResultRefused
		rec.Reason = proposal.Reason
		rec.Error = "patch refused: " + proposal.Reason
		s.report.Err = errors.New(errors.ErrCodePatchInvalid, rec.Error)
		c.observeAttempt(rec.Result)
		logger.WarnContext(ctx, "patch refused", "reason", proposal.Reason)
		_ = c.enter(s, StateVerifying)
		return c.done(rec), nil, false
	}
	rec.Patch = proposal.Patch

	cand, err := c.candidates.WriteCandidate(s.ID, n, s.source, proposal.Patch, filepath.Ext(s.SourcePath))
	if err != nil {
		rec.Result = ResultWriteFailed
		rec.Error = err.Error()
		s.report.Err = err
		c.observeAttempt(rec.Result)
		logger.ErrorContext(ctx, "failed to write candidate", "error", err)
		_ = c.enter(s, StateVerifying)
		return c.done(rec), nil, false
	}
	rec.Candidate = cand

	if err := c.enter(s, StateVerifying); err != nil {
		rec.Result, rec.Error = ResultFailed, err.Error()
		return c.done(rec), nil, true
	}

	verify := c.runner.Run(ctx, runner.Target{SourcePath: cand.Path, DataPath: s.DataPath, DryRun: true})
	if verify.OK() {
		rec.Result = ResultHealed
		c.observeAttempt(rec.Result)
		logger.InfoContext(ctx, "candidate verified", "candidate", cand.Path, "insertions", cand.Insertions, "deletions", cand.Deletions)
		return c.done(rec), cand, false
	}

	rec.Result = ResultFailed
	rec.Kind = verify.Kind
	rec.Error = verify.Message
	s.lastFail = verify
	s.report.Err = outcomeError(verify)
	c.observeAttempt(rec.Result)
	logger.WarnContext(ctx, "candidate failed verification", "kind", verify.Kind, "error", firstLine(verify.Message))
	return c.done(rec), nil, false
}

// liveRun runs the promoted source for real so the output sink is written.
// A failure is recorded on the report; the promotion stands.
func (c *Controller) liveRun(ctx context.Context, s *session) {
	s.logger.InfoContext(ctx, "running healed pipeline", "source", s.SourcePath)
	final := c.runner.Run(ctx, runner.Target{SourcePath: s.SourcePath, DataPath: s.DataPath})
	s.report.Final = final
	if final.OK() || ctx.Err() != nil {
		return
	}
	s.report.Err = outcomeError(final)
	c.observeError(final.Kind)
	s.logger.ErrorContext(ctx, "healed pipeline failed its live run", "kind", final.Kind, "code", final.Code, "error", firstLine(final.Message))
}

func (c *Controller) done(rec AttemptRecord) AttemptRecord {
	rec.Duration = c.now().Sub(rec.StartedAt)
	return rec
}

func (c *Controller) repairContext(s *session, n int) agent.RepairContext {
	rc := agent.RepairContext{
		Attempt:    n,
		SourcePath: s.SourcePath,
		Source:     s.source,
		Error:      s.lastFail.Message,
		Diagnosis:  s.lastFail.Diagnosis(),
	}
	for _, prior := range s.report.Attempts {
		rc.Prior = append(rc.Prior, agent.PriorAttempt{Attempt: prior.Number, Patch: prior.Patch, Error: prior.Error})
	}

	if s.DataPath != "" {
		if table, err := dataset.LoadFile(s.DataPath, dataset.Options{AllowEmpty: true}); err == nil {
			rc.Header = table.Header
			rc.Sample = table.Sample(c.sampleRows)
		}
	}
	return rc
}

// exhaust rolls back and finishes the session as exhausted.
func (c *Controller) exhaust(ctx context.Context, s *session) (*Report, error) {
	if err := c.enter(s, StateExhausted); err != nil {
		return nil, err
	}
	if s.report.Err == nil {
		s.report.Err = errors.New(errors.ErrCodeExhausted, "healing attempts exhausted")
	}
	rollbackErr := c.rollback(s)
	report, err := c.finish(ctx, s)
	if rollbackErr != nil {
		return report, rollbackErr
	}
	return report, err
}

// rollback restores the pre-patch snapshot.
func (c *Controller) rollback(s *session) error {
	if s.backups == nil || s.report.SnapshotID == "" {
		return nil
	}
	if err := s.backups.Restore(backup.SnapshotID(s.report.SnapshotID)); err != nil {
		s.logger.Error("rollback failed", "snapshot", s.report.SnapshotID, "error", err)
		return err
	}
	s.report.RolledBack = true
	s.logger.Info("source rolled back", "snapshot", s.report.SnapshotID)
	return nil
}

// abort rolls back after cancellation and returns the context error.
func (c *Controller) abort(ctx context.Context, s *session) (*Report, error) {
	s.logger.Warn("session interrupted", "state", s.machine.state, "error", ctx.Err())
	if err := c.rollback(s); err != nil {
		return s.report, err
	}
	s.report.Elapsed = c.now().Sub(s.start)
	s.state.Finish(checkpoint.StatusAborted)
	c.saveState(s)
	return s.report, ctx.Err()
}

func outcomeError(o runner.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	code := o.Code
	if code == "" {
		code = errors.ErrCodePipelineRuntime
	}
	return errors.New(code, o.Message)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func (c *Controller) observeError(kind runner.Kind) {
	if c.metrics != nil {
		c.metrics.ObserveError(string(kind))
	}
}

func (c *Controller) observeAttempt(result AttemptResult) {
	if c.metrics != nil {
		c.metrics.ObserveAttempt(string(result))
	}
}

func (c *Controller) observeProvider(p agent.Proposal, err error) {
	if c.metrics == nil || p.Cached {
		return
	}
	c.metrics.ObserveProviderCall(p.Provider, p.Model, err == nil, p.Latency, p.TokensUsed)
}

func (c *Controller) saveAttempt(s *session, rec AttemptRecord) {
	a := checkpoint.Attempt{
		Number:      rec.Number,
		Result:      string(rec.Result),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.StartedAt.Add(rec.Duration),
		Error:       rec.Error,
		TokensUsed:  rec.TokensUsed,
	}
	if rec.Candidate != nil {
		a.Candidate = rec.Candidate.Path
		a.Diff = rec.Candidate.Diff
	}
	s.state.AddAttempt(a)
	c.saveState(s)
}

func (c *Controller) saveState(s *session) {
	if c.checkpoints == nil {
		return
	}
	if err := c.checkpoints.Save(s.state); err != nil {
		s.logger.Warn("failed to save session checkpoint", "error", err)
	}
}

// describe renders the error for a pull request body.
func describe(err error) string {
	if coded, ok := errors.As(err); ok {
		return coded.Summary()
	}
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
