package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// exitTempFail is the sysexits code a script returns to ask for a retry.
const exitTempFail = 75

// newBackOff builds the retry schedule for one delivery.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func retry(ctx context.Context, tries uint, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(tries))
	return err
}

// postJSON sends payload and retries on transport errors, 429 and 5xx.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, tries uint) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return retry(ctx, tries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("endpoint returned status %d", resp.StatusCode))
		}
	})
}

func deliveryError(kind, name string, err error) error {
	return errors.Wrap(errors.ErrCodeNotifyDelivery, fmt.Sprintf("%s hook %s failed", kind, name), err)
}

func stringMap(v interface{}) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]interface{}:
		for key, value := range m {
			if s, ok := value.(string); ok {
				out[key] = s
			}
		}
	case map[string]string:
		for key, value := range m {
			out[key] = value
		}
	}
	return out
}

// WebhookHook POSTs the event as JSON.
type WebhookHook struct {
	name       string
	eventTypes []EventType
	enabled    bool
	url        string
	headers    map[string]string
	tries      uint
	client     *http.Client
}

// NewWebhookHook creates a new webhook hook
func NewWebhookHook(config *HookConfig) (Hook, error) {
	url, ok := config.Config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("webhook URL required")
	}

	return &WebhookHook{
		name:       config.Name,
		eventTypes: config.events(),
		enabled:    config.Enabled,
		url:        url,
		headers:    stringMap(config.Config["headers"]),
		tries:      config.maxTries(),
		client:     &http.Client{Timeout: config.timeout()},
	}, nil
}

func (h *WebhookHook) Name() string            { return h.name }
func (h *WebhookHook) EventTypes() []EventType { return h.eventTypes }
func (h *WebhookHook) Enabled() bool           { return h.enabled }

func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	if err := postJSON(ctx, h.client, h.url, h.headers, event, h.tries); err != nil {
		return deliveryError("webhook", h.name, err)
	}
	return nil
}

// SlackHook posts an attachment to a Slack incoming webhook.
type SlackHook struct {
	name       string
	eventTypes []EventType
	enabled    bool
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	tries      uint
	client     *http.Client
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

const (
	slackColorSuccess = "good"
	slackColorFailure = "danger"
)

// NewSlackHook creates a new Slack hook
func NewSlackHook(config *HookConfig) (Hook, error) {
	webhookURL, ok := config.Config["webhook_url"].(string)
	if !ok || webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL required")
	}

	hook := &SlackHook{
		name:       config.Name,
		eventTypes: config.events(),
		enabled:    config.Enabled,
		webhookURL: webhookURL,
		username:   "pipemedic",
		iconEmoji:  ":ambulance:",
		tries:      config.maxTries(),
		client:     &http.Client{Timeout: config.timeout()},
	}
	if channel, ok := config.Config["channel"].(string); ok && channel != "" {
		hook.channel = channel
	}
	if username, ok := config.Config["username"].(string); ok && username != "" {
		hook.username = username
	}
	if icon, ok := config.Config["icon_emoji"].(string); ok && icon != "" {
		hook.iconEmoji = icon
	}
	return hook, nil
}

func (h *SlackHook) Name() string            { return h.name }
func (h *SlackHook) EventTypes() []EventType { return h.eventTypes }
func (h *SlackHook) Enabled() bool           { return h.enabled }

func (h *SlackHook) Execute(ctx context.Context, event *Event) error {
	if err := postJSON(ctx, h.client, h.webhookURL, nil, h.payload(event), h.tries); err != nil {
		return deliveryError("slack", h.name, err)
	}
	return nil
}

func (h *SlackHook) payload(event *Event) slackPayload {
	color := slackColorFailure
	if event.Type.Success() {
		color = slackColorSuccess
	}

	fields := []slackField{{Title: "Session", Value: event.SessionID, Short: true}}
	if pipeline := event.GetString("pipeline"); pipeline != "" {
		fields = append(fields, slackField{Title: "Pipeline", Value: pipeline, Short: true})
	}
	fields = append(fields, slackField{Title: "Attempts", Value: fmt.Sprintf("%d", event.GetInt("attempts")), Short: true})
	if elapsed := event.GetFloat("elapsed_seconds"); elapsed > 0 {
		fields = append(fields, slackField{Title: "Elapsed", Value: fmt.Sprintf("%.1fs", elapsed), Short: true})
	}
	if msg := event.GetString("error"); msg != "" {
		fields = append(fields, slackField{Title: "Error", Value: msg})
	}
	if pr := event.GetString("pull_request"); pr != "" {
		fields = append(fields, slackField{Title: "Pull request", Value: pr})
	}

	return slackPayload{
		Channel:   h.channel,
		Username:  h.username,
		IconEmoji: h.iconEmoji,
		Text:      event.Summary,
		Attachments: []slackAttachment{{
			Color:  color,
			Title:  event.Title(),
			Text:   event.Summary,
			Fields: fields,
			Footer: "pipemedic",
			Ts:     event.Timestamp.Unix(),
		}},
	}
}

// ScriptHook runs a local executable with the event in its environment.
// An exit status of 75 is retried; any other failure is final.
type ScriptHook struct {
	name       string
	eventTypes []EventType
	enabled    bool
	scriptPath string
	args       []string
	shell      string
	tries      uint
	timeout    time.Duration
}

// NewScriptHook creates a new script hook
func NewScriptHook(config *HookConfig) (Hook, error) {
	scriptPath, ok := config.Config["script"].(string)
	if !ok || scriptPath == "" {
		return nil, fmt.Errorf("script path required")
	}

	hook := &ScriptHook{
		name:       config.Name,
		eventTypes: config.events(),
		enabled:    config.Enabled,
		scriptPath: scriptPath,
		shell:      "/bin/sh",
		tries:      config.maxTries(),
		timeout:    config.timeout(),
	}
	if argsList, ok := config.Config["args"].([]interface{}); ok {
		for _, arg := range argsList {
			if argStr, ok := arg.(string); ok {
				hook.args = append(hook.args, argStr)
			}
		}
	}
	if shell, ok := config.Config["shell"].(string); ok && shell != "" {
		hook.shell = shell
	}
	return hook, nil
}

func (h *ScriptHook) Name() string            { return h.name }
func (h *ScriptHook) EventTypes() []EventType { return h.eventTypes }
func (h *ScriptHook) Enabled() bool           { return h.enabled }

func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	env := append(os.Environ(), scriptEnv(event)...)
	args := append([]string{h.scriptPath}, h.args...)

	err := retry(ctx, h.tries, func() error {
		runCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, h.shell, args...)
		cmd.Env = env
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err == nil {
			return nil
		}
		err = fmt.Errorf("script failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))

		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail {
			return err
		}
		return backoff.Permanent(err)
	})
	if err != nil {
		return deliveryError("script", h.name, err)
	}
	return nil
}

// scriptEnv exposes the event as PIPEMEDIC_* variables, sorted by key.
func scriptEnv(event *Event) []string {
	env := []string{
		"PIPEMEDIC_EVENT=" + string(event.Type),
		"PIPEMEDIC_SESSION_ID=" + event.SessionID,
		"PIPEMEDIC_SUMMARY=" + event.Summary,
	}

	keys := make([]string, 0, len(event.Data))
	for key := range event.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name := "PIPEMEDIC_" + strings.ToUpper(key)
		switch v := event.Data[key].(type) {
		case string:
			env = append(env, name+"="+v)
		case int, int64, float64, bool:
			env = append(env, fmt.Sprintf("%s=%v", name, v))
		}
	}
	return env
}

// RegisterBuiltinHooks registers all built-in hook factories
func RegisterBuiltinHooks(registry *Registry) {
	registry.RegisterFactory("script", NewScriptHook)
	registry.RegisterFactory("webhook", NewWebhookHook)
	registry.RegisterFactory("slack", NewSlackHook)
}
