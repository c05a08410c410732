// Package pipeline defines the declarative CSV pipeline that the repair loop
// patches, and the interpreter that executes it.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// SupportedVersions is the definition version range this interpreter reads.
const SupportedVersions = "^1"

// ColumnType is the declared type of an input column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeBool   ColumnType = "bool"
	TypeDate   ColumnType = "date"
)

// DefaultDateFormat is used for date columns without a format.
const DefaultDateFormat = "2006-01-02"

// Check names a validation rule kind.
type Check string

const (
	CheckNotNull Check = "not_null"
	CheckUnique  Check = "unique"
	CheckType    Check = "type"
	CheckRange   Check = "range"
	CheckExpr    Check = "expr"
)

// OutputKind names a sink.
type OutputKind string

const (
	OutputNone     OutputKind = "none"
	OutputCSV      OutputKind = "csv"
	OutputSQLite   OutputKind = "sqlite"
	OutputPostgres OutputKind = "postgres"
)

// Definition is a parsed pipeline source.
type Definition struct {
	Version     string            `yaml:"version"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Input       Input             `yaml:"input,omitempty"`
	Columns     []Column          `yaml:"columns"`
	Rename      map[string]string `yaml:"rename,omitempty"`
	Rules       []Rule            `yaml:"rules,omitempty"`
	Output      Output            `yaml:"output,omitempty"`
}

// Input describes how the data file is read.
type Input struct {
	Delimiter string `yaml:"delimiter,omitempty"`
}

// Column declares one expected input column.
type Column struct {
	Name     string     `yaml:"name"`
	Type     ColumnType `yaml:"type,omitempty"`
	Format   string     `yaml:"format,omitempty"`
	Aliases  []string   `yaml:"aliases,omitempty"`
	Optional bool       `yaml:"optional,omitempty"`
}

// Rule is a data quality check applied after type coercion.
type Rule struct {
	Column string     `yaml:"column,omitempty"`
	Check  Check      `yaml:"check"`
	Type   ColumnType `yaml:"type,omitempty"`
	Min    *float64   `yaml:"min,omitempty"`
	Max    *float64   `yaml:"max,omitempty"`
	Expr   string     `yaml:"expr,omitempty"`
}

// Output selects where processed rows go.
type Output struct {
	Kind  OutputKind `yaml:"kind,omitempty"`
	Path  string     `yaml:"path,omitempty"`
	DSN   string     `yaml:"dsn,omitempty"`
	Table string     `yaml:"table,omitempty"`
}

// Delimiter returns the input delimiter rune, ',' by default.
func (d *Definition) Delimiter() rune {
	if d.Input.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(d.Input.Delimiter)
	return r
}

// RequiredColumns returns the non-optional column names in order.
func (d *Definition) RequiredColumns() []string {
	var out []string
	for _, c := range d.Columns {
		if !c.Optional {
			out = append(out, c.Name)
		}
	}
	return out
}

// Column returns the declared column with the given name.
func (d *Definition) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// OutputName returns the name a column has after renames.
func (d *Definition) OutputName(column string) string {
	if to, ok := d.Rename[column]; ok && to != "" {
		return to
	}
	return column
}

func (c Column) typ() ColumnType {
	if c.Type == "" {
		return TypeString
	}
	return c.Type
}

func (c Column) dateFormat() string {
	if c.Format == "" {
		return DefaultDateFormat
	}
	return c.Format
}

// Parse validates and decodes a pipeline source. Every failure is a
// PATCH-002 invalid definition error, so an unusable generated patch is
// reported the same way as a hand-written mistake.
func Parse(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewPatchInvalidError("source is empty", nil)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewPatchInvalidError("YAML syntax error", err)
	}
	if err := validateStructure(raw); err != nil {
		return nil, errors.NewPatchInvalidError("schema validation failed", err)
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, errors.NewPatchInvalidError("cannot decode definition", err)
	}

	if err := checkVersion(def.Version); err != nil {
		return nil, errors.NewPatchInvalidError("unsupported version", err)
	}
	if problems := def.validate(); len(problems) > 0 {
		return nil, errors.NewPatchInvalidError(strings.Join(problems, "; "), nil)
	}
	if _, err := compileRules(&def); err != nil {
		return nil, errors.NewPatchInvalidError("invalid rule expression", err)
	}
	return &def, nil
}

// Marshal encodes a definition back to YAML.
func Marshal(def *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func validateStructure(raw any) error {
	// The schema validator works on JSON values.
	encoded, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return err
	}
	return definitionSchema.Validate(doc)
}

// normalizeYAML converts values yaml.v3 may produce that encoding/json cannot
// marshal.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func checkVersion(v string) error {
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("version %q: %w", v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("version %s does not satisfy %s", version, SupportedVersions)
	}
	return nil
}

func (d *Definition) validate() []string {
	var problems []string

	if utf8.RuneCountInString(d.Input.Delimiter) > 1 {
		problems = append(problems, fmt.Sprintf("input.delimiter %q must be a single character", d.Input.Delimiter))
	}

	names := make(map[string]bool)
	for _, c := range d.Columns {
		for _, n := range append([]string{c.Name}, c.Aliases...) {
			if names[n] {
				problems = append(problems, fmt.Sprintf("column name or alias %q declared twice", n))
			}
			names[n] = true
		}
	}

	outputs := make(map[string]string)
	for _, c := range d.Columns {
		out := d.OutputName(c.Name)
		if prev, ok := outputs[out]; ok {
			problems = append(problems, fmt.Sprintf("columns %q and %q both map to output %q", prev, c.Name, out))
		}
		outputs[out] = c.Name
	}
	for from := range d.Rename {
		if _, ok := d.Column(from); !ok {
			problems = append(problems, fmt.Sprintf("rename source %q is not a declared column", from))
		}
	}

	for i, r := range d.Rules {
		if r.Check == CheckExpr {
			if r.Expr == "" {
				problems = append(problems, fmt.Sprintf("rules[%d]: expr is required", i))
			}
			continue
		}
		if _, ok := d.Column(r.Column); !ok {
			problems = append(problems, fmt.Sprintf("rules[%d]: column %q is not declared", i, r.Column))
		}
		if r.Check == CheckRange && r.Min == nil && r.Max == nil {
			problems = append(problems, fmt.Sprintf("rules[%d]: range needs min or max", i))
		}
		if r.Check == CheckType && r.Type == "" {
			problems = append(problems, fmt.Sprintf("rules[%d]: type check needs a type", i))
		}
	}

	switch d.Output.Kind {
	case "", OutputNone:
	case OutputCSV:
		if d.Output.Path == "" {
			problems = append(problems, "output.path is required for csv output")
		}
	case OutputSQLite:
		if d.Output.Path == "" {
			problems = append(problems, "output.path is required for sqlite output")
		}
		if d.Output.Table == "" {
			problems = append(problems, "output.table is required for sqlite output")
		}
	case OutputPostgres:
		if d.Output.DSN == "" {
			problems = append(problems, "output.dsn is required for postgres output")
		}
		if d.Output.Table == "" {
			problems = append(problems, "output.table is required for postgres output")
		}
	}
	return problems
}
