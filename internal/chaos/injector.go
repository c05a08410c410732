// Package chaos simulates upstream schema drift by renaming a column in the
// header of a delimited input file.
package chaos

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
)

const bom = "\ufeff"

// DriftEvent describes one header mutation.
type DriftEvent struct {
	Path        string    `json:"path"`
	Column      string    `json:"column"`
	NewName     string    `json:"new_name"`
	Occurrences int       `json:"occurrences"`
	At          time.Time `json:"at"`
}

func (e DriftEvent) String() string {
	return fmt.Sprintf("%s: %s -> %s", e.Path, e.Column, e.NewName)
}

// Injector rewrites input headers.
type Injector struct {
	// Renames maps a column to its preferred drifted name.
	Renames map[string]string
	// Delimiter defaults to ','.
	Delimiter rune

	now func() time.Time
}

// NewInjector creates an injector with the given rename table.
func NewInjector(renames map[string]string, delimiter rune) *Injector {
	return &Injector{Renames: renames, Delimiter: delimiter}
}

func (i *Injector) delimiter() rune {
	if i.Delimiter == 0 {
		return ','
	}
	return i.Delimiter
}

func (i *Injector) clock() time.Time {
	if i.now != nil {
		return i.now()
	}
	return time.Now().UTC()
}

// Inject renames one schema column in the header of the file at path. When
// target is empty the first schema column present in the header is used.
// Only the header line changes; data bytes are preserved exactly.
func (i *Injector) Inject(path string, schema []string, target string) (*DriftEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read input", err)
	}

	prefix := ""
	if bytes.HasPrefix(data, []byte(bom)) {
		prefix = bom
		data = data[len(bom):]
	}

	headerLine, rest := splitFirstLine(data)
	header, err := i.parseHeader(headerLine)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInjection, "cannot parse header of "+path, err)
	}

	column, err := pickColumn(header, schema, target, path)
	if err != nil {
		return nil, err
	}
	newName := i.driftedName(column, schema, header)

	newHeader, occurrences, err := i.spliceHeader(headerLine, header, column, newName)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInjection, "cannot rewrite header of "+path, err)
	}

	var out bytes.Buffer
	out.Grow(len(prefix) + len(newHeader) + len(rest))
	out.WriteString(prefix)
	out.Write(newHeader)
	out.Write(rest)

	if err := fsutil.WriteFileAtomic(path, out.Bytes(), fsutil.FileMode(path, 0o644)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write input", err)
	}

	return &DriftEvent{
		Path:        path,
		Column:      column,
		NewName:     newName,
		Occurrences: occurrences,
		At:          i.clock(),
	}, nil
}

// splitFirstLine returns the first line including its terminator, and the rest.
func splitFirstLine(data []byte) (line, rest []byte) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return data, nil
	}
	return data[:idx+1], data[idx+1:]
}

func (i *Injector) parseHeader(line []byte) ([]string, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, fmt.Errorf("empty header")
	}
	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = i.delimiter()
	r.TrimLeadingSpace = true
	return r.Read()
}

// spliceHeader replaces every field of line whose value is column with
// newName. All other bytes of the line, including the quoting and spacing of
// the remaining fields, are kept.
func (i *Injector) spliceHeader(line []byte, header []string, column, newName string) ([]byte, int, error) {
	body := bytes.TrimRight(line, "\r\n")
	terminator := line[len(body):]

	spans := fieldSpans(body, []byte(string(i.delimiter())))
	if len(spans) != len(header) {
		return nil, 0, fmt.Errorf("found %d fields, parsed %d", len(spans), len(header))
	}
	replacement, err := i.encodeField(newName)
	if err != nil {
		return nil, 0, err
	}

	var out bytes.Buffer
	out.Grow(len(line) + len(replacement))
	occurrences, last := 0, 0
	for idx, span := range spans {
		if strings.TrimSpace(header[idx]) != column {
			continue
		}
		field := body[span[0]:span[1]]
		lead := len(field) - len(bytes.TrimLeftFunc(field, unicode.IsSpace))
		trail := 0
		if !bytes.HasPrefix(field[lead:], []byte{'"'}) {
			trail = len(field) - len(bytes.TrimRightFunc(field, unicode.IsSpace))
		}
		out.Write(body[last : span[0]+lead])
		out.Write(replacement)
		last = span[1] - trail
		occurrences++
	}
	out.Write(body[last:])
	out.Write(terminator)
	return out.Bytes(), occurrences, nil
}

// fieldSpans returns the byte range of each field of a single line.
// Doubled quotes inside a quoted field toggle twice and cancel out.
func fieldSpans(line, delim []byte) [][2]int {
	var spans [][2]int
	start, quoted := 0, false
	for idx := 0; idx < len(line); idx++ {
		switch {
		case line[idx] == '"':
			quoted = !quoted
		case !quoted && bytes.HasPrefix(line[idx:], delim):
			spans = append(spans, [2]int{start, idx})
			start = idx + len(delim)
			idx += len(delim) - 1
		}
	}
	return append(spans, [2]int{start, len(line)})
}

// encodeField quotes name the way a CSV writer would.
func (i *Injector) encodeField(name string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = i.delimiter()
	if err := w.Write([]string{name}); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func pickColumn(header, schema []string, target, path string) (string, error) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}

	if target != "" {
		if !present[target] {
			return "", errors.NewInjectionError(target, path)
		}
		return target, nil
	}
	for _, col := range schema {
		if present[col] {
			return col, nil
		}
	}
	return "", errors.New(errors.ErrCodeInjection, fmt.Sprintf("no schema column %v present in header of %s", schema, path))
}

// driftedName picks a replacement that collides with neither the schema nor
// the current header.
func (i *Injector) driftedName(column string, schema, header []string) string {
	taken := make(map[string]bool, len(schema)+len(header))
	for _, s := range schema {
		taken[s] = true
	}
	for _, h := range header {
		taken[strings.TrimSpace(h)] = true
	}

	if preferred, ok := i.Renames[column]; ok && preferred != "" && !taken[preferred] {
		return preferred
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_v%d", column, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
