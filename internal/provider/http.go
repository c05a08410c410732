package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// maxErrorBody bounds how much of an error response ends up in messages.
const maxErrorBody = 512

type apiErrorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// doJSON posts (or gets, when body is nil) JSON and decodes a 200 response
// into out. Non-200 responses become coded provider errors.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeProviderAPI, "marshal request", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderConfig, "create request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return errors.NewProviderNetworkError(provider, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.NewProviderNetworkError(provider, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return statusError(provider, httpResp.StatusCode, respBody, httpResp.Header.Get("Retry-After"))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI, "unmarshal response", err)
	}
	return nil
}

// statusError maps an HTTP status to the provider error taxonomy.
func statusError(provider string, status int, body []byte, retryAfter string) error {
	msg := string(body)
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	cause := fmt.Errorf("http %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e := errors.NewProviderAuthError(provider)
		e.Cause = cause
		return e
	case status == http.StatusTooManyRequests:
		e := errors.NewProviderRateLimitError(provider, retryAfter)
		e.Cause = cause
		return e
	case status >= 500:
		return errors.NewProviderNetworkError(provider, cause)
	default:
		return errors.Wrap(errors.ErrCodeProviderAPI, fmt.Sprintf("%s request rejected", provider), cause)
	}
}
