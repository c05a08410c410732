package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/felixgeelhaar/pipemedic/internal/checkpoint"
)

// RenderSessionMarkdown describes one checkpointed session.
func RenderSessionMarkdown(state *checkpoint.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", state.SessionID)
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Pipeline | %s |\n", cell(state.Pipeline))
	fmt.Fprintf(&b, "| Status | **%s** |\n", state.Status)
	fmt.Fprintf(&b, "| Started | %s |\n", state.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "| Elapsed | %s |\n", state.Elapsed().Round(time.Millisecond))
	if state.SourcePath != "" {
		fmt.Fprintf(&b, "| Source | `%s` |\n", state.SourcePath)
	}
	if state.DataPath != "" {
		fmt.Fprintf(&b, "| Data | `%s` |\n", state.DataPath)
	}
	if state.SnapshotID != "" {
		fmt.Fprintf(&b, "| Snapshot | `%s` |\n", state.SnapshotID)
	}
	if state.PullRequestURL != "" {
		fmt.Fprintf(&b, "| Pull request | %s |\n", state.PullRequestURL)
	}

	if state.Error != "" {
		b.WriteString("\n## Failure\n\n")
		if state.ErrorKind != "" {
			fmt.Fprintf(&b, "Kind: `%s`\n\n", state.ErrorKind)
		}
		fmt.Fprintf(&b, "```\n%s\n```\n", strings.TrimSpace(state.Error))
	}

	if len(state.Transitions) > 0 {
		b.WriteString("\n## State transitions\n\n")
		for _, t := range state.Transitions {
			fmt.Fprintf(&b, "- %s: %s → %s\n", t.At.Format("15:04:05.000"), t.From, t.To)
		}
	}

	if len(state.Attempts) > 0 {
		b.WriteString("\n## Attempts\n")
		for _, a := range state.Attempts {
			fmt.Fprintf(&b, "\n### Attempt %d: %s\n\n", a.Number, a.Result)
			fmt.Fprintf(&b, "Duration %s", a.CompletedAt.Sub(a.StartedAt).Round(time.Millisecond))
			if a.TokensUsed > 0 {
				fmt.Fprintf(&b, ", %d tokens", a.TokensUsed)
			}
			b.WriteString("\n")
			if a.Error != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.TrimSpace(a.Error))
			}
			if a.Diff != "" {
				fmt.Fprintf(&b, "\n```diff\n%s\n```\n", strings.TrimRight(a.Diff, "\n"))
			}
		}
	}
	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderMarkdown styles markdown for a terminal of the given width.
func RenderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
