// Package dataset loads delimited text files into in-memory tables.
package dataset

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// Table is an ordered header plus rows aligned to it.
type Table struct {
	Header []string
	Rows   [][]string
}

// Options controls parsing.
type Options struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// AllowEmpty returns a header-only table instead of EmptyInputError.
	AllowEmpty bool
	// Name identifies the input in error messages.
	Name string
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// LoadFile reads a delimited file from disk.
func LoadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to open input", err)
	}
	defer f.Close()

	if opts.Name == "" {
		opts.Name = path
	}
	return Load(f, opts)
}

// Load parses delimited text. An input without a header or without data rows
// is an EmptyInputError unless opts.AllowEmpty is set.
func Load(r io.Reader, opts Options) (*Table, error) {
	name := opts.Name
	if name == "" {
		name = "<input>"
	}

	reader := csv.NewReader(r)
	reader.Comma = opts.delimiter()
	reader.FieldsPerRecord = 0
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if stderrors.Is(err, io.EOF) {
		return nil, errors.NewEmptyInputError(name)
	}
	if err != nil {
		return nil, malformed(name, err)
	}
	header = normalizeHeader(header)

	t := &Table{Header: header}
	for {
		record, err := reader.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(name, err)
		}
		t.Rows = append(t.Rows, record)
	}

	if len(t.Rows) == 0 && !opts.AllowEmpty {
		return nil, errors.NewEmptyInputError(name)
	}
	return t, nil
}

func malformed(name string, err error) error {
	return errors.Wrap(errors.ErrCodeMalformedRow, fmt.Sprintf("malformed delimited input: %s", name), err).
		WithSuggestion("Check for unbalanced quotes or rows with a different field count")
}

// normalizeHeader trims whitespace and a UTF-8 byte order mark.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	for i, h := range t.Header {
		if h == column {
			return i
		}
	}
	return -1
}

// Has reports whether a column is present.
func (t *Table) Has(column string) bool {
	return t.Index(column) >= 0
}

// Missing returns the required columns absent from the header, in order.
func (t *Table) Missing(required []string) []string {
	var missing []string
	for _, col := range required {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

// Column returns a copy of every value in a column.
func (t *Table) Column(column string) ([]string, bool) {
	idx := t.Index(column)
	if idx < 0 {
		return nil, false
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Sample returns at most n leading rows.
func (t *Table) Sample(n int) [][]string {
	if n <= 0 {
		return nil
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([][]string, n)
	for i := range out {
		out[i] = append([]string(nil), t.Rows[i]...)
	}
	return out
}

// Project builds a new table with the given columns in the given order.
// source maps each output column to the header column it is read from; a
// column absent from source is read from the header column of the same name.
func (t *Table) Project(columns []string, source map[string]string) (*Table, error) {
	indexes := make([]int, len(columns))
	for i, col := range columns {
		from := col
		if s, ok := source[col]; ok {
			from = s
		}
		idx := t.Index(from)
		if idx < 0 {
			return nil, errors.NewMissingColumnError(col, t.Header)
		}
		indexes[i] = idx
	}

	out := &Table{
		Header: append([]string(nil), columns...),
		Rows:   make([][]string, len(t.Rows)),
	}
	for r, row := range t.Rows {
		projected := make([]string, len(indexes))
		for i, idx := range indexes {
			projected[i] = row[idx]
		}
		out.Rows[r] = projected
	}
	return out, nil
}

// RenameColumns renames header entries in place. Renaming onto a name that is
// already present is a SCHEMA-002 conflict.
func (t *Table) RenameColumns(renames map[string]string) error {
	next := append([]string(nil), t.Header...)
	for from, to := range renames {
		idx := t.Index(from)
		if idx < 0 {
			continue
		}
		next[idx] = to
	}

	seen := make(map[string]bool, len(next))
	for _, h := range next {
		if seen[h] {
			return errors.New(errors.ErrCodeColumnConflict, fmt.Sprintf("rename produces duplicate column %q", h))
		}
		seen[h] = true
	}
	t.Header = next
	return nil
}

// WriteCSV writes the table with the given delimiter (',' when zero).
func WriteCSV(w io.Writer, t *Table, delimiter rune) error {
	cw := csv.NewWriter(w)
	if delimiter != 0 {
		cw.Comma = delimiter
	}
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
