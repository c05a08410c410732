package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/felixgeelhaar/pipemedic/internal/dataset"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
	"github.com/felixgeelhaar/pipemedic/internal/provider"
)

// ProviderChecker checks that the generation endpoint answers. The client is
// built inside Check so that configuration errors become a result.
type ProviderChecker struct {
	open func() (provider.ProviderClient, error)
}

// NewProviderChecker creates a checker that opens a client with open.
func NewProviderChecker(open func() (provider.ProviderClient, error)) *ProviderChecker {
	return &ProviderChecker{open: open}
}

func (c *ProviderChecker) Name() string { return "provider" }

func (c *ProviderChecker) Check(ctx context.Context) *Result {
	client, err := c.open()
	if err != nil {
		return Unhealthy(err.Error())
	}
	defer func() { _ = client.Close() }()

	info := client.GetInfo()
	if !client.IsAvailable() {
		return Unhealthy(fmt.Sprintf("%s is not configured", info.Name)).
			WithDetail("provider", info.Name)
	}
	if err := client.Health(ctx); err != nil {
		return Unhealthy(err.Error()).
			WithDetail("provider", info.Name).
			WithDetail("model", info.Model)
	}
	return Healthy(fmt.Sprintf("%s %s responding", info.Name, info.Model)).
		WithDetail("provider", info.Name).
		WithDetail("model", info.Model)
}

// SourceChecker checks that the pipeline source parses and validates.
type SourceChecker struct {
	path string
}

func NewSourceChecker(path string) *SourceChecker {
	return &SourceChecker{path: path}
}

func (c *SourceChecker) Name() string { return "pipeline-source" }

func (c *SourceChecker) Check(ctx context.Context) *Result {
	def, err := loadDefinition(c.path)
	if err != nil {
		return Unhealthy(err.Error()).WithDetail("path", c.path)
	}
	return Healthy(fmt.Sprintf("%s: %d column(s), %d rule(s)", def.Name, len(def.Columns), len(def.Rules))).
		WithDetail("path", c.path)
}

// InputChecker checks the input header against the declared columns. A
// required column with neither its name nor an alias in the header is
// schema drift, which is exactly what a healing session repairs, so it is
// reported as degraded.
type InputChecker struct {
	source string
	data   string
}

func NewInputChecker(source, data string) *InputChecker {
	return &InputChecker{source: source, data: data}
}

func (c *InputChecker) Name() string { return "pipeline-input" }

func (c *InputChecker) Check(ctx context.Context) *Result {
	def, err := loadDefinition(c.source)
	if err != nil {
		return Degraded("input not checked: pipeline source is invalid").WithDetail("path", c.data)
	}
	table, err := dataset.LoadFile(c.data, dataset.Options{Delimiter: def.Delimiter(), AllowEmpty: true})
	if err != nil {
		return Unhealthy(err.Error()).WithDetail("path", c.data)
	}

	var missing []string
	for _, col := range def.Columns {
		if col.Optional {
			continue
		}
		found := false
		for _, name := range append([]string{col.Name}, col.Aliases...) {
			if table.Has(name) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return Degraded(fmt.Sprintf("schema drift: missing %v", missing)).
			WithDetail("path", c.data).
			WithDetail("header", table.Header)
	}
	return Healthy(fmt.Sprintf("header matches, %d row(s)", table.Len())).
		WithDetail("path", c.data)
}

// DirChecker checks that directories exist or can be created, and accept
// new files.
type DirChecker struct {
	dirs []string
}

func NewDirChecker(dirs ...string) *DirChecker {
	return &DirChecker{dirs: dirs}
}

func (c *DirChecker) Name() string { return "state-dirs" }

func (c *DirChecker) Check(ctx context.Context) *Result {
	for _, dir := range c.dirs {
		if dir == "" {
			continue
		}
		if err := probeDir(dir); err != nil {
			return Unhealthy(fmt.Sprintf("%s is not writable: %v", dir, err)).WithDetail("dir", dir)
		}
	}
	return Healthy(fmt.Sprintf("%d director(ies) writable", len(c.dirs)))
}

func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// CommandChecker checks that the external pipeline command is on PATH.
type CommandChecker struct {
	argv []string
}

func NewCommandChecker(argv []string) *CommandChecker {
	return &CommandChecker{argv: argv}
}

func (c *CommandChecker) Name() string { return "runner-command" }

func (c *CommandChecker) Check(ctx context.Context) *Result {
	if len(c.argv) == 0 {
		return Unhealthy("no command configured")
	}
	path, err := exec.LookPath(c.argv[0])
	if err != nil {
		return Unhealthy(fmt.Sprintf("%s not found: %v", c.argv[0], err))
	}
	return Healthy(path)
}

func loadDefinition(path string) (*pipeline.Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return pipeline.Parse(data)
}
