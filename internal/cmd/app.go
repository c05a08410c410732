package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/pipemedic/internal/agent"
	"github.com/felixgeelhaar/pipemedic/internal/backup"
	"github.com/felixgeelhaar/pipemedic/internal/checkpoint"
	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/dashboard"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
	"github.com/felixgeelhaar/pipemedic/internal/heal"
	"github.com/felixgeelhaar/pipemedic/internal/hooks"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/metrics"
	"github.com/felixgeelhaar/pipemedic/internal/provider"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
	"github.com/felixgeelhaar/pipemedic/internal/vcs"
	"github.com/felixgeelhaar/pipemedic/internal/version"
)

// app is the configuration and logger shared by every command.
type app struct {
	cfg    *config.Config
	logger *log.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load(config.Options{Path: configPath, Environment: envName})
	if err != nil {
		return nil, err
	}

	level, format := logLevel, logFormat
	if level == "" {
		level = cfg.LogLevel
	}
	if format == "" {
		format = cfg.LogFormat
	}
	lc := log.ConfigFor(cfg.Environment, level, format)
	lc.Output = log.OutputStderr()
	lc.ServiceVersion = version.GetInfo().Version
	logger := log.New(lc)
	log.SetDefaultLogger(logger)

	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) runner() (runner.Runner, error) {
	return runner.New(a.cfg.Pipeline, a.logger)
}

func (a *app) backups() *backup.Manager {
	return backup.NewManager(a.cfg.Paths.BackupDir, a.cfg.Pipeline.Source)
}

func (a *app) recorder() *metrics.Recorder {
	return metrics.NewRecorder(a.cfg.Paths.MetricsFile)
}

func (a *app) checkpoints() *checkpoint.Manager {
	return checkpoint.NewManager(a.cfg.Paths.SessionDir)
}

func (a *app) provider() (provider.ProviderClient, error) {
	if err := a.cfg.RequireAI(); err != nil {
		return nil, err
	}
	return provider.New(provider.FromAIConfig(a.cfg.AI, version.GetInfo().UserAgent()))
}

// healer is a controller plus the registry its collectors live in.
type healer struct {
	controller *heal.Controller
	registry   *prometheus.Registry
}

// healer wires the repair loop with every configured collaborator.
func (a *app) healer() (*healer, error) {
	run, err := a.runner()
	if err != nil {
		return nil, err
	}
	client, err := a.provider()
	if err != nil {
		return nil, err
	}

	proposer := agent.New(client, agent.Options{
		Model:         a.cfg.AI.Model,
		MaxTokens:     a.cfg.AI.MaxTokens,
		MaxPatchBytes: a.cfg.Healing.MaxPatchKB * 1024,
		Logger:        a.logger,
	})

	opts := heal.Options{
		MaxAttempts: a.cfg.Healing.MaxAttempts,
		SampleRows:  a.cfg.Healing.SampleRows,
		ArtifactDir: a.cfg.Paths.ArtifactDir,
		Logger:      a.logger,
	}
	if a.cfg.Healing.EnableBackup {
		opts.BackupDir = a.cfg.Paths.BackupDir
	}
	c := heal.New(run, proposer, opts)

	registry, m := metrics.NewRegistry()
	c.SetMetrics(m)
	c.SetRecorder(a.recorder())
	c.SetCheckpoints(a.checkpoints())

	dispatcher, err := hooks.FromConfig(a.cfg.Monitoring, a.logger)
	if err != nil {
		return nil, err
	}
	if dispatcher != nil {
		c.SetNotifier(dispatcher)
	}

	publisher, err := vcs.FromConfig(a.cfg.GitHub, a.logger)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		c.SetPublisher(publisher, a.cfg.GitHub.SourcePath)
	}

	return &healer{controller: c, registry: registry}, nil
}

// session heals the configured pipeline once, prints the report and
// refreshes the derived artifacts.
func (a *app) session(ctx context.Context, h *healer, out io.Writer) (*heal.Report, error) {
	report, err := h.controller.Heal(ctx, heal.Session{
		SourcePath: a.cfg.Pipeline.Source,
		DataPath:   a.cfg.Pipeline.Data,
	})
	if report != nil {
		printReport(out, report)
	}
	if err != nil {
		return report, err
	}

	a.refresh(ctx, h.registry)
	return report, nil
}

// refresh rewrites the dashboard and textfile and prunes old snapshots.
// Failures are logged; the session result stands.
func (a *app) refresh(ctx context.Context, registry *prometheus.Registry) {
	if a.cfg.Paths.PromTextfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Paths.PromTextfile, registry); err != nil {
			a.logger.WarnContext(ctx, "failed to write metrics textfile", "error", err)
		}
	}
	if a.cfg.Paths.DashboardFile != "" {
		if err := a.writeDashboard(a.cfg.Paths.DashboardFile); err != nil {
			a.logger.WarnContext(ctx, "failed to write dashboard", "error", err)
		}
	}
	if a.cfg.Healing.EnableBackup && a.cfg.Healing.BackupRetention > 0 {
		removed, err := a.backups().Prune(a.cfg.Healing.BackupRetention)
		if err != nil {
			a.logger.WarnContext(ctx, "failed to prune snapshots", "error", err)
		} else if len(removed) > 0 {
			a.logger.InfoContext(ctx, "pruned snapshots", "count", len(removed))
		}
	}
}

func (a *app) writeDashboard(path string) error {
	entries, err := a.recorder().Entries()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := dashboard.RenderHTML(&buf, entries, metrics.Summarize(entries)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create dashboard directory", err)
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0644)
}

// reportError turns an exhausted report, or a healed report whose live run
// failed, into the error that selects the exit code.
func reportError(r *heal.Report) error {
	if r == nil {
		return nil
	}
	hint := fmt.Sprintf("Inspect the session with 'pipemedic session show %s'", r.SessionID)
	switch {
	case r.State == heal.StateExhausted:
		e := errors.New(errors.ErrCodeExhausted, r.Summary())
		if r.Err != nil {
			e = errors.Wrap(errors.ErrCodeExhausted, r.Summary(), r.Err)
		}
		return e.WithSuggestion(hint)
	case r.LiveRunFailed():
		code := errors.CodeOf(r.Err)
		if code == "" {
			code = errors.ErrCodePipelineRuntime
		}
		return errors.Wrap(code, r.Summary(), r.Err).
			WithSuggestions("The promoted source passed a dry run; check the output sink settings", hint)
	default:
		return nil
	}
}
