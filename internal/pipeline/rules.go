package pipeline

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// compiledRule pairs a rule with its compiled expression, if any.
type compiledRule struct {
	Rule
	program cel.Program
}

var exprEnv = mustExprEnv()

func mustExprEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic("failed to create CEL environment: " + err.Error())
	}
	return env
}

func compileRules(def *Definition) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(def.Rules))
	for i, r := range def.Rules {
		cr := compiledRule{Rule: r}
		if r.Check == CheckExpr {
			ast, iss := exprEnv.Compile(r.Expr)
			if iss != nil && iss.Err() != nil {
				return nil, fmt.Errorf("rules[%d] %q: %w", i, r.Expr, iss.Err())
			}
			prg, err := exprEnv.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rules[%d] %q: %w", i, r.Expr, err)
			}
			cr.program = prg
		}
		out = append(out, cr)
	}
	return out, nil
}

// frame is the typed table the rules run against. Column names are the
// declared names, before renames.
type frame struct {
	columns []Column
	index   map[string]int
	rows    [][]any
}

func newFrame(columns []Column, rows [][]any) *frame {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c.Name] = i
	}
	return &frame{columns: columns, index: idx, rows: rows}
}

// evaluateRules runs every rule and returns one message per failing rule.
func evaluateRules(rules []compiledRule, f *frame) []string {
	var failures []string
	for _, r := range rules {
		if msg := r.evaluate(f); msg != "" {
			failures = append(failures, msg)
		}
	}
	return failures
}

func (r compiledRule) evaluate(f *frame) string {
	if r.Check == CheckExpr {
		return r.evaluateExpr(f)
	}

	col, ok := f.index[r.Column]
	if !ok {
		return fmt.Sprintf("column '%s' missing from data", r.Column)
	}

	switch r.Check {
	case CheckNotNull:
		nulls := 0
		for _, row := range f.rows {
			if isNull(row[col]) {
				nulls++
			}
		}
		if nulls > 0 {
			return fmt.Sprintf("column '%s' contains %d null values", r.Column, nulls)
		}

	case CheckUnique:
		seen := make(map[string]bool, len(f.rows))
		dups := 0
		for _, row := range f.rows {
			if isNull(row[col]) {
				continue
			}
			key := fmt.Sprint(row[col])
			if seen[key] {
				dups++
			}
			seen[key] = true
		}
		if dups > 0 {
			return fmt.Sprintf("column '%s' contains %d duplicate values", r.Column, dups)
		}

	case CheckType:
		bad := 0
		format := f.columns[col].dateFormat()
		for _, row := range f.rows {
			if isNull(row[col]) {
				continue
			}
			if _, err := coerce(formatValue(row[col], format), r.Type, format); err != nil {
				bad++
			}
		}
		if bad > 0 {
			return fmt.Sprintf("column '%s' expected %s, got %d non-conforming values", r.Column, r.Type, bad)
		}

	case CheckRange:
		below, above, nonNumeric := 0, 0, 0
		for _, row := range f.rows {
			if isNull(row[col]) {
				continue
			}
			n, ok := numeric(row[col])
			if !ok {
				nonNumeric++
				continue
			}
			if r.Min != nil && n < *r.Min {
				below++
			}
			if r.Max != nil && n > *r.Max {
				above++
			}
		}
		switch {
		case nonNumeric > 0:
			return fmt.Sprintf("column '%s' has %d non-numeric values for a range check", r.Column, nonNumeric)
		case below > 0:
			return fmt.Sprintf("column '%s' has %d values < %v", r.Column, below, *r.Min)
		case above > 0:
			return fmt.Sprintf("column '%s' has %d values > %v", r.Column, above, *r.Max)
		}
	}
	return ""
}

func (r compiledRule) evaluateExpr(f *frame) string {
	failed, first := 0, 0
	var evalErr error
	for i, row := range f.rows {
		vars := make(map[string]any, len(f.columns))
		for c, col := range f.columns {
			vars[col.Name] = row[c]
		}

		out, _, err := r.program.Eval(map[string]any{"row": vars})
		passed := false
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
		} else if b, ok := out.Value().(bool); ok {
			passed = b
		}
		if !passed {
			failed++
			if first == 0 {
				first = i + 1
			}
		}
	}

	if failed == 0 {
		return ""
	}
	msg := fmt.Sprintf("rule %q failed for %d rows (first at row %d)", r.Expr, failed, first)
	if evalErr != nil {
		msg += fmt.Sprintf(": %v", evalErr)
	}
	return msg
}
