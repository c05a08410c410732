package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// coerce converts a raw cell to the column's declared type. Blank cells
// become nil for every type except string.
func coerce(raw string, typ ColumnType, format string) (any, error) {
	v := strings.TrimSpace(raw)
	if typ == TypeString || typ == "" {
		return raw, nil
	}
	if v == "" {
		return nil, nil
	}

	switch typ {
	case TypeInt:
		return strconv.ParseInt(v, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(v, 64)
	case TypeBool:
		return strconv.ParseBool(v)
	case TypeDate:
		return time.Parse(format, v)
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}

// isNull reports whether a coerced value counts as missing.
func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// numeric returns a float for numeric values.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// formatValue renders a coerced value for text outputs.
func formatValue(v any, format string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if format == "" {
			format = DefaultDateFormat
		}
		return t.Format(format)
	default:
		return fmt.Sprint(t)
	}
}

// sqlType maps a column type to a column type accepted by sqlite and postgres.
func sqlType(typ ColumnType) string {
	switch typ {
	case TypeInt:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeBool:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}
