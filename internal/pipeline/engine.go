package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/dataset"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/log"
)

// Options controls a single execution.
type Options struct {
	// DryRun runs every step except the sink write.
	DryRun bool
}

// Result summarizes a successful execution.
type Result struct {
	Pipeline    string        `json:"pipeline"`
	RowsRead    int           `json:"rows_read"`
	RowsWritten int64         `json:"rows_written"`
	Columns     []string      `json:"columns"`
	Target      string        `json:"target,omitempty"`
	DryRun      bool          `json:"dry_run"`
	Duration    time.Duration `json:"duration"`
}

// String renders the one-line summary printed by the CLI.
func (r *Result) String() string {
	switch {
	case r.DryRun:
		return fmt.Sprintf("dry run: %d rows validated for %s", r.RowsRead, r.Pipeline)
	case r.Target == "":
		return fmt.Sprintf("processed %d rows for %s (no output configured)", r.RowsRead, r.Pipeline)
	default:
		return fmt.Sprintf("processed %d rows into %s", r.RowsWritten, r.Target)
	}
}

// SinkOpener creates the sink for an output section.
type SinkOpener func(out Output, delimiter rune) (Sink, error)

// Engine executes pipeline definitions.
type Engine struct {
	logger   *log.Logger
	openSink SinkOpener
}

// NewEngine creates an engine that writes to the sinks named in definitions.
func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{logger: logger, openSink: OpenSink}
}

// WithSinkOpener replaces how sinks are opened.
func (e *Engine) WithSinkOpener(open SinkOpener) *Engine {
	e.openSink = open
	return e
}

// Execute loads dataPath and runs def against it. Steps run in order: load,
// required columns, projection, type coercion, rules, rename, sink.
func (e *Engine) Execute(ctx context.Context, def *Definition, dataPath string, opts Options) (*Result, error) {
	start := time.Now()
	logger := e.logger.With("pipeline", def.Name, "dry_run", opts.DryRun)

	rules, err := compileRules(def)
	if err != nil {
		return nil, errors.NewPatchInvalidError("invalid rule expression", err)
	}

	table, err := dataset.LoadFile(dataPath, dataset.Options{Delimiter: def.Delimiter()})
	if err != nil {
		return nil, err
	}
	logger.Debug("input loaded", "path", dataPath, "rows", table.Len(), "header", table.Header)

	present, source, err := resolveColumns(def, table)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := make([]string, len(present))
	for i, c := range present {
		names[i] = c.Name
	}
	projected, err := table.Project(names, source)
	if err != nil {
		return nil, err
	}

	typed, err := coerceRows(def.Columns, projected)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if failures := evaluateRules(rules, newFrame(def.Columns, typed)); len(failures) > 0 {
		return nil, errors.NewValidationError(failures)
	}

	out := &dataset.Table{Header: make([]string, len(def.Columns))}
	for i, c := range def.Columns {
		out.Header[i] = c.Name
	}
	if err := out.RenameColumns(def.Rename); err != nil {
		return nil, err
	}

	result := &Result{
		Pipeline: def.Name,
		RowsRead: table.Len(),
		Columns:  out.Header,
		DryRun:   opts.DryRun,
	}

	if !opts.DryRun && def.Output.Kind != "" && def.Output.Kind != OutputNone {
		columns := make([]SinkColumn, len(def.Columns))
		for i, c := range def.Columns {
			columns[i] = SinkColumn{Name: out.Header[i], Type: c.typ(), Format: c.dateFormat()}
		}
		if err := e.write(ctx, def, columns, typed, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	logger.Info("pipeline executed", "rows", result.RowsRead, "target", result.Target, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (e *Engine) write(ctx context.Context, def *Definition, columns []SinkColumn, rows [][]any, result *Result) error {
	sink, err := e.openSink(def.Output, def.Delimiter())
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "cannot open output", err)
	}
	defer sink.Close()

	written, err := sink.Write(ctx, columns, rows)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to write "+sink.Describe(), err).
			WithSuggestion("Check the output section of the pipeline definition")
	}
	result.RowsWritten = written
	result.Target = sink.Describe()
	return nil
}

// resolveColumns maps declared columns to header columns, accepting aliases.
// Optional columns absent from the header are dropped from present; they are
// filled with nulls during coercion.
func resolveColumns(def *Definition, table *dataset.Table) (present []Column, source map[string]string, err error) {
	source = make(map[string]string)
	declared := make(map[string]bool)

	var missing []string
	for _, c := range def.Columns {
		declared[c.Name] = true
		for _, a := range c.Aliases {
			declared[a] = true
		}

		from := ""
		for _, candidate := range append([]string{c.Name}, c.Aliases...) {
			if table.Has(candidate) {
				from = candidate
				break
			}
		}
		switch {
		case from != "":
			present = append(present, c)
			source[c.Name] = from
		case !c.Optional:
			missing = append(missing, c.Name)
		}
	}

	if len(missing) > 0 {
		cerr := errors.NewMissingColumnError(missing[0], table.Header)
		var unknown []string
		for _, h := range table.Header {
			if !declared[h] {
				unknown = append(unknown, h)
			}
		}
		if len(missing) > 1 {
			cerr.WithSuggestion(fmt.Sprintf("Also missing: %v", missing[1:]))
		}
		if len(unknown) > 0 {
			cerr.WithSuggestion(fmt.Sprintf("Undeclared header columns: %v", unknown))
		}
		return nil, nil, cerr
	}
	return present, source, nil
}

// coerceRows converts projected strings into typed values laid out in
// declaration order.
func coerceRows(columns []Column, projected *dataset.Table) ([][]any, error) {
	pos := make(map[string]int, len(projected.Header))
	for i, h := range projected.Header {
		pos[h] = i
	}

	rows := make([][]any, len(projected.Rows))
	for r, raw := range projected.Rows {
		row := make([]any, len(columns))
		for i, c := range columns {
			p, ok := pos[c.Name]
			if !ok {
				if c.typ() == TypeString {
					row[i] = ""
				}
				continue
			}
			v, err := coerce(raw[p], c.typ(), c.dateFormat())
			if err != nil {
				return nil, errors.NewTypeMismatchError(c.Name, r+1, raw[p], string(c.typ()))
			}
			row[i] = v
		}
		rows[r] = row
	}
	return rows, nil
}
