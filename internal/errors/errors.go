package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Schema errors (SCHEMA-001 to SCHEMA-099)
	ErrCodeMissingColumn  ErrorCode = "SCHEMA-001"
	ErrCodeColumnConflict ErrorCode = "SCHEMA-002"

	// Type errors (TYPE-001 to TYPE-099)
	ErrCodeTypeMismatch ErrorCode = "TYPE-001"
	ErrCodeMalformedRow ErrorCode = "TYPE-002"

	// Input errors (INPUT-001 to INPUT-099)
	ErrCodeEmptyInput  ErrorCode = "INPUT-001"
	ErrCodeDataQuality ErrorCode = "INPUT-002"

	// Fault injection errors (CHAOS-001 to CHAOS-099)
	ErrCodeInjection ErrorCode = "CHAOS-001"

	// Patch errors (PATCH-001 to PATCH-099)
	ErrCodePatchApply   ErrorCode = "PATCH-001"
	ErrCodePatchInvalid ErrorCode = "PATCH-002"

	// Backup errors (BACKUP-001 to BACKUP-099)
	ErrCodeRestore  ErrorCode = "BACKUP-001"
	ErrCodeSnapshot ErrorCode = "BACKUP-002"

	// Pipeline errors (PIPELINE-001 to PIPELINE-099)
	ErrCodePipelineRuntime ErrorCode = "PIPELINE-001"
	ErrCodeSinkFailed      ErrorCode = "PIPELINE-002"

	// Provider errors (PROVIDER-001 to PROVIDER-099)
	ErrCodeProviderNotFound  ErrorCode = "PROVIDER-001"
	ErrCodeProviderConfig    ErrorCode = "PROVIDER-002"
	ErrCodeProviderAuth      ErrorCode = "PROVIDER-003"
	ErrCodeProviderAPI       ErrorCode = "PROVIDER-004"
	ErrCodeProviderRateLimit ErrorCode = "PROVIDER-005"
	ErrCodeProviderNetwork   ErrorCode = "PROVIDER-006"

	// Healing errors (HEAL-001 to HEAL-099)
	ErrCodeExhausted ErrorCode = "HEAL-001"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid  ErrorCode = "CONFIG-001"
	ErrCodeConfigNotFound ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"

	// Notification errors (NOTIFY-001 to NOTIFY-099)
	ErrCodeNotifyDelivery ErrorCode = "NOTIFY-001"

	// Code hosting errors (VCS-001 to VCS-099)
	ErrCodePullRequest ErrorCode = "VCS-001"
)

const docsBase = "https://github.com/felixgeelhaar/pipemedic#"

// Error represents an enhanced error with code, suggestions, and documentation
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Summary returns the code and message without suggestions or docs.
// It is the form fed back to the repair agent and written to the metrics log.
func (e *Error) Summary() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *Error) WithDocs(url string) *Error {
	e.DocsURL = url
	return e
}

// As finds the first coded error in err's chain.
func As(err error) (*Error, bool) {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// CodeOf returns the code of the first coded error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if coded, ok := As(err); ok {
		return coded.Code
	}
	return ""
}

// Is reports whether err's chain contains a coded error with the given code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	for err != nil {
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}

// Category returns the family prefix of a code, e.g. "SCHEMA" for SCHEMA-001.
func (c ErrorCode) Category() string {
	if i := strings.IndexByte(string(c), '-'); i > 0 {
		return string(c)[:i]
	}
	return string(c)
}

// Common error constructors for the healing taxonomy

// NewMissingColumnError reports a required column absent from the input header
func NewMissingColumnError(column string, header []string) *Error {
	return New(ErrCodeMissingColumn, fmt.Sprintf("required column %q not found in input header %v", column, header)).
		WithSuggestion("Check the upstream export for renamed or dropped columns").
		WithSuggestion(fmt.Sprintf("Add an alias for %q to the pipeline definition", column)).
		WithDocs(docsBase + "schema-drift")
}

// NewTypeMismatchError reports a value that cannot be coerced to its declared type
func NewTypeMismatchError(column string, row int, value, typ string) *Error {
	return New(ErrCodeTypeMismatch, fmt.Sprintf("column %q row %d: cannot convert %q to %s", column, row, value, typ)).
		WithSuggestion("Check the column type and format in the pipeline definition").
		WithSuggestion("Mark the column optional or relax the type if the data is legitimately mixed")
}

// NewEmptyInputError reports an input file with no data to process
func NewEmptyInputError(path string) *Error {
	return New(ErrCodeEmptyInput, fmt.Sprintf("input contains no data: %s", path)).
		WithSuggestion("Verify the upstream export completed").
		WithSuggestion("Empty input cannot be repaired by patching the pipeline")
}

// NewValidationError aggregates data quality rule failures
func NewValidationError(failures []string) *Error {
	return New(ErrCodeDataQuality, fmt.Sprintf("data validation failed: %s", strings.Join(failures, "; "))).
		WithSuggestion("Clean the data or relax the failing validation rules")
}

// NewInjectionError reports a fault injection target absent from the file header
func NewInjectionError(column, path string) *Error {
	return New(ErrCodeInjection, fmt.Sprintf("column %q not present in header of %s", column, path)).
		WithSuggestion("Run 'pipemedic inject' without --column to pick a present column")
}

// NewPatchApplyError reports a candidate patch that could not be written
func NewPatchApplyError(path string, cause error) *Error {
	return Wrap(ErrCodePatchApply, fmt.Sprintf("failed to write candidate patch: %s", path), cause).
		WithSuggestion("Check permissions on the artifact directory")
}

// NewPatchInvalidError reports a pipeline source that cannot be parsed
func NewPatchInvalidError(details string, cause error) *Error {
	return Wrap(ErrCodePatchInvalid, fmt.Sprintf("invalid pipeline source: %s", details), cause).
		WithSuggestion("Run 'pipemedic run --dry-run' to see the parse error").
		WithDocs(docsBase + "pipeline-definition")
}

// NewRestoreError reports a snapshot that cannot be restored
func NewRestoreError(id string, cause error) *Error {
	return Wrap(ErrCodeRestore, fmt.Sprintf("cannot restore snapshot %s", id), cause).
		WithSuggestion("Run 'pipemedic backup list' to see available snapshots").
		WithDocs(docsBase + "rollback")
}

// NewProviderAuthError creates a provider authentication error
func NewProviderAuthError(provider string) *Error {
	return New(ErrCodeProviderAuth, fmt.Sprintf("authentication failed for provider: %s", provider)).
		WithSuggestion("Set PIPEMEDIC_AI_API_KEY or ai.api_key in the config file").
		WithSuggestion("Check if your API key is valid and not expired").
		WithSuggestion("Run 'pipemedic provider health' to verify connectivity").
		WithDocs(docsBase + "provider-configuration")
}

// NewProviderRateLimitError creates a rate limit error
func NewProviderRateLimitError(provider string, retryAfter string) *Error {
	msg := fmt.Sprintf("rate limit exceeded for provider: %s", provider)
	if retryAfter != "" {
		msg += fmt.Sprintf(" (retry after: %s)", retryAfter)
	}

	return New(ErrCodeProviderRateLimit, msg).
		WithSuggestion("Wait before retrying the request").
		WithSuggestion("Lower ai.rate_limit_per_minute")
}

// NewProviderNetworkError reports an unreachable or failing generation endpoint
func NewProviderNetworkError(provider string, cause error) *Error {
	return Wrap(ErrCodeProviderNetwork, fmt.Sprintf("generation endpoint unavailable for provider: %s", provider), cause).
		WithSuggestion("Check network connectivity and ai.base_url").
		WithSuggestion("Increase ai.timeout if the endpoint is slow")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *Error {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewConfigInvalidError lists every configuration problem found
func NewConfigInvalidError(problems []string) *Error {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", strings.Join(problems, "; "))).
		WithSuggestion("Run 'pipemedic config show' to inspect the resolved configuration").
		WithDocs(docsBase + "configuration")
}
