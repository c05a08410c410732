package exitcode

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates a healthy or healed pipeline
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// Exhausted indicates the repair loop ran out of attempts and rolled back
	Exhausted = 3

	// SchemaDrift indicates the pipeline failed on schema drift and healing was not attempted
	SchemaDrift = 4

	// AuthError indicates the generation endpoint rejected the credentials
	AuthError = 5

	// NetworkError indicates the generation endpoint or a webhook was unreachable
	NetworkError = 6

	// Interrupted indicates the user cancelled the operation (128 + SIGINT)
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code. Coded errors are mapped by
// code; anything else falls back to message heuristics.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if stderrors.Is(err, context.Canceled) {
		return Interrupted
	}

	if code := errors.CodeOf(err); code != "" {
		if exit, ok := codeExits[code]; ok {
			return exit
		}
		if code.Category() == "CONFIG" {
			return UsageError
		}
		return GeneralError
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized") {
		return AuthError
	}
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "unreachable") {
		return NetworkError
	}
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts ") {
		return UsageError
	}

	return GeneralError
}

var codeExits = map[errors.ErrorCode]int{
	errors.ErrCodeExhausted:       Exhausted,
	errors.ErrCodeMissingColumn:   SchemaDrift,
	errors.ErrCodeColumnConflict:  SchemaDrift,
	errors.ErrCodeProviderAuth:    AuthError,
	errors.ErrCodeProviderNetwork: NetworkError,
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments or configuration)"
	case Exhausted:
		return "Repair attempts exhausted, source rolled back"
	case SchemaDrift:
		return "Schema drift detected"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
