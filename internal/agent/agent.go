// Package agent turns a failing pipeline into a proposed replacement source
// by asking a generation provider for a fix.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/diagnosis"
	"github.com/felixgeelhaar/pipemedic/internal/log"
	"github.com/felixgeelhaar/pipemedic/internal/provider"
)

// DefaultMaxPatchBytes bounds accepted replacements.
const DefaultMaxPatchBytes = 500 * 1024

// ProposalKind tags a Proposal.
type ProposalKind string

const (
	PatchProposed ProposalKind = "proposed"
	PatchRefused  ProposalKind = "refused"
)

// Refusal reasons.
const (
	ReasonEmpty     = "empty response"
	ReasonUnchanged = "response identical to the failing source"
	ReasonTooLarge  = "response exceeds the patch size limit"
)

// Proposal is either PatchProposed with Patch set or PatchRefused with
// Reason set. Usage fields are filled for both when a call was made.
type Proposal struct {
	Kind   ProposalKind
	Patch  []byte
	Reason string

	Provider   string
	Model      string
	TokensUsed int
	Cached     bool
	Latency    time.Duration
}

// Proposed reports whether the proposal carries a patch.
func (p Proposal) Proposed() bool {
	return p.Kind == PatchProposed
}

// PriorAttempt is one earlier patch and what happened when it ran.
type PriorAttempt struct {
	Attempt int
	Patch   []byte
	Error   string
}

// RepairContext is everything the agent sees about a failure.
type RepairContext struct {
	// Attempt is 1-based.
	Attempt    int
	SourcePath string
	// Source is the failing source as it was when the session started.
	Source    []byte
	Error     string
	Diagnosis diagnosis.Diagnosis
	Header    []string
	Sample    [][]string
	Prior     []PriorAttempt
}

// Options configures an Agent.
type Options struct {
	Model         string
	MaxTokens     int
	MaxPatchBytes int
	Logger        *log.Logger
}

// Agent asks a provider for replacement sources.
type Agent struct {
	client        provider.ProviderClient
	model         string
	maxTokens     int
	maxPatchBytes int
	logger        *log.Logger
}

// New creates an Agent over client.
func New(client provider.ProviderClient, opts Options) *Agent {
	if opts.MaxPatchBytes <= 0 {
		opts.MaxPatchBytes = DefaultMaxPatchBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Agent{
		client:        client,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		maxPatchBytes: opts.MaxPatchBytes,
		logger:        opts.Logger.WithGroup("agent"),
	}
}

// Propose requests one replacement. Provider errors are returned as is so the
// caller can tell rate limits from auth failures; every other outcome is a
// Proposal. The agent never checks that the patch works.
func (a *Agent) Propose(ctx context.Context, rc RepairContext) (Proposal, error) {
	req := &provider.GenerateRequest{
		Prompt:       BuildPrompt(rc),
		SystemPrompt: systemPrompt(rc.SourcePath),
		Model:        a.model,
		MaxTokens:    a.maxTokens,
		Temperature:  0,
		Metadata: map[string]string{
			"attempt": fmt.Sprint(rc.Attempt),
		},
	}

	a.logger.DebugContext(ctx, "requesting patch", "attempt", rc.Attempt, "prompt_bytes", len(req.Prompt))

	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return Proposal{}, err
	}

	p := Proposal{
		Provider:   resp.Provider,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
		Cached:     resp.Cached,
		Latency:    resp.Latency,
	}

	patch := []byte(StripFences(resp.Content))
	switch {
	case len(bytes.TrimSpace(patch)) == 0:
		p.Kind, p.Reason = PatchRefused, ReasonEmpty
	case len(patch) > a.maxPatchBytes:
		p.Kind, p.Reason = PatchRefused, ReasonTooLarge
	case bytes.Equal(bytes.TrimSpace(patch), bytes.TrimSpace(current(rc))):
		p.Kind, p.Reason = PatchRefused, ReasonUnchanged
	default:
		p.Kind, p.Patch = PatchProposed, ensureNewline(patch)
	}

	a.logger.InfoContext(ctx, "repair response",
		"attempt", rc.Attempt,
		"kind", string(p.Kind),
		"reason", p.Reason,
		"tokens", p.TokensUsed,
		"cached", p.Cached,
	)
	return p, nil
}

// lastPatch returns the most recent prior attempt that produced a patch.
// Refusals and service errors carry none.
func (rc RepairContext) lastPatch() (PriorAttempt, bool) {
	for i := len(rc.Prior) - 1; i >= 0; i-- {
		if len(rc.Prior[i].Patch) > 0 {
			return rc.Prior[i], true
		}
	}
	return PriorAttempt{}, false
}

// current is the source the model was asked to improve.
func current(rc RepairContext) []byte {
	if last, ok := rc.lastPatch(); ok {
		return last.Patch
	}
	return rc.Source
}

// StripFences removes a surrounding markdown code block, with or without a
// language tag.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		// drop the info string (yaml, python, ...)
		if tag := strings.TrimSpace(content[:nl]); !strings.ContainsAny(tag, " :=") {
			content = content[nl+1:]
		}
	}
	if end := strings.LastIndex(content, "```"); end >= 0 {
		content = content[:end]
	}
	return strings.TrimSpace(content)
}

func ensureNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] != '\n' {
		return append(b, '\n')
	}
	return b
}

// sourceKind names the artifact for the prompt.
func sourceKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "YAML pipeline definition"
	case ".py":
		return "Python ETL script"
	default:
		return "pipeline source"
	}
}
