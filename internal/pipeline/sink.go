package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/pipemedic/internal/dataset"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
)

// SinkColumn describes one output column.
type SinkColumn struct {
	Name   string
	Type   ColumnType
	Format string
}

// Sink receives the processed rows of one run.
type Sink interface {
	// Write replaces the sink contents with rows and returns the rows written.
	Write(ctx context.Context, columns []SinkColumn, rows [][]any) (int64, error)
	Close() error
	// Describe returns a short human-readable target, e.g. "csv:out/users.csv".
	Describe() string
}

// OpenSink creates the sink selected by an output section.
func OpenSink(out Output, delimiter rune) (Sink, error) {
	switch out.Kind {
	case OutputCSV:
		return &CSVSink{Path: out.Path, Delimiter: delimiter}, nil
	case OutputSQLite:
		if dir := filepath.Dir(out.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		db, err := sqlx.Open("sqlite", out.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return NewSQLSink(db, out.Table, "sqlite:"+out.Path), nil
	case OutputPostgres:
		db, err := sqlx.Open("postgres", out.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		return NewSQLSink(db, out.Table, "postgres:"+out.Table), nil
	default:
		return nil, fmt.Errorf("output kind %q has no sink", out.Kind)
	}
}

// CSVSink writes a delimited file atomically.
type CSVSink struct {
	Path      string
	Delimiter rune
}

func (s *CSVSink) Write(ctx context.Context, columns []SinkColumn, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t := &dataset.Table{Header: make([]string, len(columns)), Rows: make([][]string, len(rows))}
	for i, c := range columns {
		t.Header[i] = c.Name
	}
	for r, row := range rows {
		out := make([]string, len(columns))
		for i, c := range columns {
			out[i] = formatValue(row[i], c.Format)
		}
		t.Rows[r] = out
	}

	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, t, s.Delimiter); err != nil {
		return 0, err
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(s.Path, buf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *CSVSink) Close() error { return nil }

func (s *CSVSink) Describe() string { return "csv:" + s.Path }

// SQLSink loads rows into a table through sqlx. The same code serves
// sqlite and postgres; placeholders are rebound per driver.
type SQLSink struct {
	db     *sqlx.DB
	table  string
	target string
}

// NewSQLSink wraps an open database handle.
func NewSQLSink(db *sqlx.DB, table, target string) *SQLSink {
	return &SQLSink{db: db, table: table, target: target}
}

func (s *SQLSink) Write(ctx context.Context, columns []SinkColumn, rows [][]any) (written int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	defs := make([]string, len(columns))
	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		names[i] = quoteIdent(c.Name)
		defs[i] = names[i] + " " + sqlType(c.Type)
		marks[i] = "?"
	}
	table := quoteIdent(s.table)

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return 0, fmt.Errorf("failed to clear table %s: %w", s.table, err)
	}

	insert := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(marks, ", ")))
	for i, row := range rows {
		if _, err = tx.ExecContext(ctx, insert, row...); err != nil {
			return written, fmt.Errorf("failed to insert row %d: %w", i+1, err)
		}
		written++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

func (s *SQLSink) Close() error { return s.db.Close() }

func (s *SQLSink) Describe() string { return s.target }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
