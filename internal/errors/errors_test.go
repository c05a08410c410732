package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeMissingColumn, "test error message")

	if err.Code != ErrCodeMissingColumn {
		t.Errorf("expected code %s, got %s", ErrCodeMissingColumn, err.Code)
	}

	if err.Message != "test error message" {
		t.Errorf("expected message 'test error message', got '%s'", err.Message)
	}

	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeFileReadFailed, "failed to read file", cause)

	if err.Code != ErrCodeFileReadFailed {
		t.Errorf("expected code %s, got %s", ErrCodeFileReadFailed, err.Code)
	}

	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		wantParts []string
		notParts  []string
	}{
		{
			name:      "simple error",
			err:       New(ErrCodePatchInvalid, "bad yaml"),
			wantParts: []string{"[PATCH-002]", "bad yaml"},
			notParts:  []string{"Suggestions:", "Documentation:"},
		},
		{
			name:      "error with cause",
			err:       Wrap(ErrCodeFileReadFailed, "read failed", fmt.Errorf("permission denied")),
			wantParts: []string{"[IO-002]", "read failed: permission denied"},
		},
		{
			name:      "error with suggestions and docs",
			err:       New(ErrCodeRestore, "gone").WithSuggestions("one", "two").WithDocs("https://example.com"),
			wantParts: []string{"Suggestions:", "• one", "• two", "Documentation: https://example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(msg, part) {
					t.Errorf("expected %q in %q", part, msg)
				}
			}
			for _, part := range tt.notParts {
				if strings.Contains(msg, part) {
					t.Errorf("did not expect %q in %q", part, msg)
				}
			}
		})
	}
}

func TestSummaryOmitsSuggestions(t *testing.T) {
	err := NewMissingColumnError("user_id", []string{"uid", "email"})

	summary := err.Summary()
	if !strings.HasPrefix(summary, "[SCHEMA-001]") {
		t.Errorf("summary should start with the code, got %q", summary)
	}
	if strings.Contains(summary, "Suggestions") {
		t.Errorf("summary should not contain suggestions: %q", summary)
	}
	if !strings.Contains(summary, `"user_id"`) {
		t.Errorf("summary should name the missing column: %q", summary)
	}
}

func TestCodeOfAndIs(t *testing.T) {
	inner := NewProviderRateLimitError("openai", "30s")
	outer := Wrap(ErrCodeExhausted, "healing exhausted", inner)
	plain := fmt.Errorf("context: %w", outer)

	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
		is       []ErrorCode
		isNot    []ErrorCode
	}{
		{name: "nil", err: nil, wantCode: ""},
		{name: "plain error", err: fmt.Errorf("boom"), wantCode: "", isNot: []ErrorCode{ErrCodeExhausted}},
		{name: "direct", err: inner, wantCode: ErrCodeProviderRateLimit, is: []ErrorCode{ErrCodeProviderRateLimit}},
		{
			name:     "nested",
			err:      plain,
			wantCode: ErrCodeExhausted,
			is:       []ErrorCode{ErrCodeExhausted, ErrCodeProviderRateLimit},
			isNot:    []ErrorCode{ErrCodeProviderAuth},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.wantCode {
				t.Errorf("CodeOf() = %q, want %q", got, tt.wantCode)
			}
			for _, code := range tt.is {
				if !Is(tt.err, code) {
					t.Errorf("Is(%s) = false, want true", code)
				}
			}
			for _, code := range tt.isNot {
				if Is(tt.err, code) {
					t.Errorf("Is(%s) = true, want false", code)
				}
			}
		})
	}
}

func TestCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeMissingColumn:   "SCHEMA",
		ErrCodeProviderNetwork: "PROVIDER",
		ErrorCode("BARE"):      "BARE",
	}
	for code, want := range tests {
		if got := code.Category(); got != want {
			t.Errorf("%s.Category() = %q, want %q", code, got, want)
		}
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code ErrorCode
	}{
		{"missing column", NewMissingColumnError("user_id", nil), ErrCodeMissingColumn},
		{"type mismatch", NewTypeMismatchError("age", 3, "abc", "int"), ErrCodeTypeMismatch},
		{"empty input", NewEmptyInputError("users.csv"), ErrCodeEmptyInput},
		{"validation", NewValidationError([]string{"a", "b"}), ErrCodeDataQuality},
		{"injection", NewInjectionError("user_id", "users.csv"), ErrCodeInjection},
		{"patch apply", NewPatchApplyError("x", fmt.Errorf("denied")), ErrCodePatchApply},
		{"patch invalid", NewPatchInvalidError("yaml", nil), ErrCodePatchInvalid},
		{"restore", NewRestoreError("snap", nil), ErrCodeRestore},
		{"auth", NewProviderAuthError("openai"), ErrCodeProviderAuth},
		{"rate limit", NewProviderRateLimitError("openai", ""), ErrCodeProviderRateLimit},
		{"network", NewProviderNetworkError("openai", fmt.Errorf("refused")), ErrCodeProviderNetwork},
		{"file not found", NewFileNotFoundError("x"), ErrCodeFileNotFound},
		{"config", NewConfigInvalidError([]string{"bad"}), ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestValidationErrorJoinsFailures(t *testing.T) {
	err := NewValidationError([]string{"column id has duplicates", "column name has nulls"})
	if !strings.Contains(err.Message, "column id has duplicates; column name has nulls") {
		t.Errorf("unexpected message %q", err.Message)
	}
}
