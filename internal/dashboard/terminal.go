package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/felixgeelhaar/pipemedic/internal/metrics"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	outcomeColors = map[metrics.Outcome]lipgloss.Color{
		metrics.OutcomeHealthy:   lipgloss.Color("2"),
		metrics.OutcomeHealed:    lipgloss.Color("4"),
		metrics.OutcomeExhausted: lipgloss.Color("1"),
	}
)

// RenderTerminal renders the summary and the most recent sessions as a
// styled table.
func RenderTerminal(entries []metrics.Entry, summary metrics.Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("pipemedic sessions"))
	b.WriteString("\n\n")

	stats := []struct {
		label string
		value string
	}{
		{"Sessions", fmt.Sprint(summary.Total)},
		{"Healthy", fmt.Sprint(summary.Healthy)},
		{"Healed", fmt.Sprint(summary.Healed)},
		{"Exhausted", fmt.Sprint(summary.Exhausted)},
		{"Success rate", fmt.Sprintf("%.1f%%", summary.SuccessRate)},
		{"MTTR", fmt.Sprintf("%.1fs", summary.MTTR.Seconds())},
		{"Tokens", fmt.Sprint(summary.TokensUsed)},
	}
	for _, s := range stats {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-13s", s.label+":")))
		b.WriteString(" " + s.value + "\n")
	}

	recent := metrics.Last(entries, RecentSessions)
	if len(recent) == 0 {
		b.WriteString("\nNo sessions recorded yet.\n")
		return b.String()
	}

	rows := make([][]string, 0, len(recent))
	for _, e := range recent {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.Pipeline,
			string(e.Outcome),
			fmt.Sprint(e.Attempts),
			fmt.Sprintf("%.1fs", e.ElapsedSeconds),
			metrics.Truncate(e.Error, 48),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(labelStyle).
		Headers("TIME", "PIPELINE", "OUTCOME", "ATTEMPTS", "ELAPSED", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(recent) {
				if color, ok := outcomeColors[recent[row].Outcome]; ok {
					return cellStyle.Foreground(color)
				}
			}
			return cellStyle
		})

	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
