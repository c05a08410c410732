package exitcode

import (
	"context"
	"fmt"
	"testing"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: Success},
		{name: "cancelled", err: fmt.Errorf("heal: %w", context.Canceled), want: Interrupted},
		{name: "exhausted", err: errors.New(errors.ErrCodeExhausted, "3 attempts"), want: Exhausted},
		{
			name: "exhausted wrapping auth",
			err:  errors.Wrap(errors.ErrCodeExhausted, "gave up", errors.NewProviderAuthError("openai")),
			want: Exhausted,
		},
		{name: "schema drift", err: errors.NewMissingColumnError("user_id", nil), want: SchemaDrift},
		{name: "auth", err: errors.NewProviderAuthError("anthropic"), want: AuthError},
		{name: "network", err: errors.NewProviderNetworkError("openai", fmt.Errorf("refused")), want: NetworkError},
		{name: "config", err: errors.NewConfigInvalidError([]string{"x"}), want: UsageError},
		{name: "other coded", err: errors.NewRestoreError("snap", nil), want: GeneralError},
		{name: "plain auth message", err: fmt.Errorf("401 Unauthorized"), want: AuthError},
		{name: "plain timeout", err: fmt.Errorf("i/o timeout"), want: NetworkError},
		{name: "unknown flag", err: fmt.Errorf("unknown flag: --bogus"), want: UsageError},
		{name: "plain", err: fmt.Errorf("something broke"), want: GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.want {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	codes := []int{Success, GeneralError, UsageError, Exhausted, SchemaDrift, AuthError, NetworkError, Interrupted}
	seen := map[string]bool{}
	for _, code := range codes {
		desc := GetExitCodeDescription(code)
		if desc == "" || desc == "Unknown error" {
			t.Errorf("code %d has no description", code)
		}
		if seen[desc] {
			t.Errorf("duplicate description %q", desc)
		}
		seen[desc] = true
	}
	if GetExitCodeDescription(99) != "Unknown error" {
		t.Error("expected unknown description for 99")
	}
}
