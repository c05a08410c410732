package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/pipemedic/internal/heal"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func reportStyle(r *heal.Report) lipgloss.Style {
	if r.State == heal.StateExhausted || r.LiveRunFailed() {
		return failStyle
	}
	return okStyle
}

// printReport writes the final state with attempt count and elapsed time.
func printReport(w io.Writer, r *heal.Report) {
	fmt.Fprintln(w, reportStyle(r).Render(r.Summary()))      //nolint:errcheck
	fmt.Fprintln(w, dimStyle.Render("session "+r.SessionID)) //nolint:errcheck

	if !r.Initial.OK() && r.Initial.Message != "" {
		fmt.Fprintf(w, "  failure (%s): %s\n", r.Initial.Kind, firstLine(r.Initial.Message)) //nolint:errcheck
	}
	for _, a := range r.Attempts {
		line := fmt.Sprintf("  attempt %d: %s in %s", a.Number, a.Result, a.Duration.Round(time.Millisecond))
		if a.Error != "" {
			line += " - " + firstLine(a.Error)
		}
		fmt.Fprintln(w, line) //nolint:errcheck
	}
	if r.Candidate != nil {
		fmt.Fprintf(w, "  promoted %s (+%d -%d)\n", r.Candidate.Path, r.Candidate.Insertions, r.Candidate.Deletions) //nolint:errcheck
	}
	if r.State == heal.StateHealed && r.Final.Status != "" {
		line := fmt.Sprintf("  live run: %s in %s", r.Final.Status, r.Final.Duration.Round(time.Millisecond))
		if !r.Final.OK() {
			line += fmt.Sprintf(" (%s): %s", r.Final.Kind, firstLine(r.Final.Message))
		}
		fmt.Fprintln(w, line) //nolint:errcheck
	}
	if r.RolledBack {
		fmt.Fprintf(w, "  restored snapshot %s\n", r.SnapshotID) //nolint:errcheck
	}
	if r.PullRequestURL != "" {
		fmt.Fprintf(w, "  pull request %s\n", r.PullRequestURL) //nolint:errcheck
	}
	if r.PullRequestErr != nil {
		fmt.Fprintf(w, "  pull request failed: %v\n", r.PullRequestErr) //nolint:errcheck
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
