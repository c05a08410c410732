// Package diagnosis classifies pipeline failure text into categories with a
// suggested fix strategy for the repair prompt.
package diagnosis

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// Category is a failure class.
type Category string

const (
	SchemaDrift       Category = "schema_drift"
	TypeMismatch      Category = "type_mismatch"
	MissingDependency Category = "missing_dependency"
	APIError          Category = "api_error"
	DBConnection      Category = "db_connection"
	SyntaxError       Category = "syntax_error"
	FileIO            Category = "file_io"
	DataQuality       Category = "data_quality"
	Unknown           Category = "unknown"
)

// Diagnosis is the structured reading of a failure.
type Diagnosis struct {
	Category Category          `json:"category"`
	Code     errors.ErrorCode  `json:"code,omitempty"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	Strategy string            `json:"strategy"`
}

var (
	codePattern         = regexp.MustCompile(`\[([A-Z]+-\d{3})\]`)
	missingColumnCoded  = regexp.MustCompile(`required column "([^"]+)" not found in input header \[([^\]]*)\]`)
	typeColumnCoded     = regexp.MustCompile(`column "([^"]+)" row (\d+): cannot convert "([^"]*)" to (\w+)`)
	keyErrorPattern     = regexp.MustCompile(`KeyError: ['"]([^'"]+)['"]`)
	missingModule       = regexp.MustCompile(`No module named '([\w.]+)'`)
	missingFilePattern  = regexp.MustCompile(`No such file or directory: '(.+?)'`)
	fileNotFoundPattern = regexp.MustCompile(`file not found: (\S+)`)
)

// Analyze classifies raw failure text. Coded errors produced by this tool are
// recognized first; Python tracebacks from command pipelines second.
func Analyze(text string) Diagnosis {
	d := Diagnosis{
		Category: Unknown,
		Message:  lastMeaningfulLine(text),
		Context:  map[string]string{},
		Strategy: "Analyze the pipeline source and the error to find a fix.",
	}

	if m := codePattern.FindStringSubmatch(text); m != nil {
		d.Code = errors.ErrorCode(m[1])
		d.Message = firstLine(text)
		if analyzeCoded(&d, text) {
			return d
		}
	}

	analyzeTraceback(&d, text)
	return d
}

// FromError diagnoses an error value, preferring its code when present.
func FromError(err error) Diagnosis {
	if err == nil {
		return Diagnosis{Category: Unknown, Context: map[string]string{}}
	}
	if coded, ok := errors.As(err); ok {
		return Analyze(coded.Summary())
	}
	return Analyze(err.Error())
}

func analyzeCoded(d *Diagnosis, text string) bool {
	switch d.Code {
	case errors.ErrCodeMissingColumn:
		d.Category = SchemaDrift
		if m := missingColumnCoded.FindStringSubmatch(text); m != nil {
			d.Context["missing_column"] = m[1]
			d.Context["header"] = m[2]
			d.Strategy = fmt.Sprintf("The column '%s' is missing from the data; the header is now [%s]. Map the renamed column with an alias or adjust the declared columns.", m[1], m[2])
		} else {
			d.Strategy = "A required column is missing. Check for renamed columns and declare them as aliases."
		}
	case errors.ErrCodeColumnConflict:
		d.Category = SchemaDrift
		d.Strategy = "Two columns map to the same output name. Adjust the rename section."
	case errors.ErrCodeTypeMismatch:
		d.Category = TypeMismatch
		if m := typeColumnCoded.FindStringSubmatch(text); m != nil {
			d.Context["column"] = m[1]
			d.Context["row"] = m[2]
			d.Context["value"] = m[3]
			d.Strategy = fmt.Sprintf("Column '%s' holds %q which is not a valid %s. Change the declared type or format, or mark the column optional.", m[1], m[3], m[4])
		} else {
			d.Strategy = "Check declared column types and formats against the data."
		}
	case errors.ErrCodeMalformedRow:
		d.Category = TypeMismatch
		d.Strategy = "The input has malformed rows. Check the delimiter declared in the input section."
	case errors.ErrCodeDataQuality:
		d.Category = DataQuality
		d.Strategy = "Data quality issues detected. Consider relaxing the failing validation rules or marking columns optional."
		switch {
		case strings.Contains(text, "null values"):
			d.Context["issue"] = "null_values"
		case strings.Contains(text, "duplicate values"):
			d.Context["issue"] = "duplicates"
		case strings.Contains(text, "values <"), strings.Contains(text, "values >"):
			d.Context["issue"] = "out_of_range"
		}
	case errors.ErrCodeEmptyInput:
		d.Category = DataQuality
		d.Context["issue"] = "empty_input"
		d.Strategy = "The input holds no data. This cannot be fixed by changing the pipeline."
	case errors.ErrCodePatchInvalid:
		d.Category = SyntaxError
		d.Strategy = "The pipeline source is not a valid definition. Return well-formed YAML that follows the definition format."
	case errors.ErrCodeSinkFailed:
		d.Category = DBConnection
		d.Strategy = "Writing the output failed. Check the output section and its connection settings."
	case errors.ErrCodeFileNotFound, errors.ErrCodeFileReadFailed, errors.ErrCodeFileWriteFailed, errors.ErrCodeDirectoryFailed:
		d.Category = FileIO
		if m := fileNotFoundPattern.FindStringSubmatch(text); m != nil {
			d.Context["missing_file"] = m[1]
		}
		d.Strategy = "Check file paths and permissions."
	default:
		if d.Code.Category() == "PROVIDER" {
			d.Category = APIError
			d.Strategy = "Check network connection, API keys, and service status."
			return true
		}
		return false
	}
	return true
}

func analyzeTraceback(d *Diagnosis, text string) {
	switch {
	case strings.Contains(text, "DataValidationError"), strings.Contains(text, "Data Validation Failed"):
		d.Category = DataQuality
		d.Strategy = "Data quality issues detected. Consider cleaning the data or relaxing validation rules."
		if strings.Contains(text, "null values") {
			d.Context["issue"] = "null_values"
		} else if strings.Contains(text, "duplicate values") {
			d.Context["issue"] = "duplicates"
		}

	case strings.Contains(text, "ModuleNotFoundError"), strings.Contains(text, "ImportError"):
		d.Category = MissingDependency
		if m := missingModule.FindStringSubmatch(text); m != nil {
			d.Context["missing_module"] = m[1]
			d.Strategy = fmt.Sprintf("Add '%s' to the pipeline's dependencies or install it.", m[1])
		} else {
			d.Strategy = "Check imports and installed packages."
		}

	case strings.Contains(text, "KeyError"):
		d.Category = SchemaDrift
		if m := keyErrorPattern.FindStringSubmatch(text); m != nil {
			d.Context["missing_column"] = m[1]
			d.Strategy = fmt.Sprintf("The column '%s' is missing from the data. Check for schema changes or renamed columns.", m[1])
		} else {
			d.Strategy = "A required key or column is missing."
		}

	case strings.Contains(text, "TypeError"), strings.Contains(text, "ValueError"):
		switch {
		case strings.Contains(text, "Schema Mismatch"):
			d.Category = SchemaDrift
			d.Strategy = "The data schema does not match expectations. Update the code to handle the new schema."
		case strings.Contains(text, "invalid literal"):
			d.Category = TypeMismatch
			d.Strategy = "Data contains non-numeric values in a numeric column. Coerce or skip them."
		default:
			d.Category = TypeMismatch
			d.Strategy = "Check data types and function arguments. Ensure data matches the expected format."
		}

	case strings.Contains(text, "SyntaxError"), strings.Contains(text, "IndentationError"):
		d.Category = SyntaxError
		d.Strategy = "Fix the syntax errors in the pipeline source."

	case strings.Contains(text, "FileNotFoundError"):
		d.Category = FileIO
		if m := missingFilePattern.FindStringSubmatch(text); m != nil {
			d.Context["missing_file"] = m[1]
			d.Strategy = fmt.Sprintf("Ensure the file '%s' exists or check the path.", m[1])
		} else {
			d.Strategy = "Check file paths and permissions."
		}

	case strings.Contains(text, "OperationalError"), strings.Contains(text, "could not connect to server"), strings.Contains(text, "connection refused"):
		d.Category = DBConnection
		d.Strategy = "Check the database connection settings and that the server is reachable."

	case strings.Contains(text, "ConnectionError"), strings.Contains(text, "Timeout"), strings.Contains(text, "401 Client Error"):
		d.Category = APIError
		d.Strategy = "Check network connection, API keys, and service status."
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(line)
}

func lastMeaningfulLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// Prompt renders the diagnosis as the block included in repair requests.
func (d Diagnosis) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n", d.Category)
	if d.Code != "" {
		fmt.Fprintf(&b, "Code: %s\n", d.Code)
	}
	for _, k := range slices.Sorted(maps.Keys(d.Context)) {
		fmt.Fprintf(&b, "%s: %s\n", k, d.Context[k])
	}
	fmt.Fprintf(&b, "Strategy: %s\n", d.Strategy)
	return b.String()
}
