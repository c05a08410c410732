// Package dashboard renders the metrics log for people: an HTML page, a
// terminal table and a per-session markdown report.
package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/metrics"
)

// RecentSessions is how many entries the dashboards show.
const RecentSessions = 10

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>pipemedic dashboard</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; color: #1f2328; }
.cards { display: flex; gap: 1rem; margin-bottom: 2rem; }
.card { border: 1px solid #d0d7de; border-radius: 6px; padding: 1rem 1.5rem; min-width: 8rem; }
.card .value { font-size: 1.8rem; font-weight: 600; }
.card .label { color: #656d76; font-size: 0.85rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #d0d7de; }
.healthy { color: #1a7f37; }
.healed { color: #0969da; }
.exhausted { color: #cf222e; }
.error { color: #656d76; font-family: monospace; font-size: 0.85rem; }
</style>
</head>
<body>
<h1>pipemedic</h1>
<p>Generated {{ .Generated.Format "2006-01-02 15:04:05 MST" }}</p>
<div class="cards">
  <div class="card"><div class="value">{{ .Summary.Total }}</div><div class="label">Sessions</div></div>
  <div class="card"><div class="value">{{ .Summary.Healed }}</div><div class="label">Healed</div></div>
  <div class="card"><div class="value">{{ .Summary.Exhausted }}</div><div class="label">Exhausted</div></div>
  <div class="card"><div class="value">{{ percent .Summary.SuccessRate }}</div><div class="label">Healing success rate</div></div>
  <div class="card"><div class="value">{{ seconds .Summary.MTTR }}</div><div class="label">MTTR</div></div>
</div>
<h2>Last {{ len .Entries }} sessions</h2>
{{ if .Entries -}}
<table>
<thead><tr><th>Time</th><th>Pipeline</th><th>Outcome</th><th>Attempts</th><th>Elapsed</th><th>Error</th></tr></thead>
<tbody>
{{ range .Entries -}}
<tr>
<td>{{ .Timestamp.Format "2006-01-02 15:04:05" }}</td>
<td>{{ .Pipeline }}</td>
<td class="{{ .Outcome }}">{{ .Outcome }}</td>
<td>{{ .Attempts }}</td>
<td>{{ printf "%.1fs" .ElapsedSeconds }}</td>
<td class="error">{{ .Error }}</td>
</tr>
{{ end -}}
</tbody>
</table>
{{- else -}}
<p>No sessions recorded yet.</p>
{{- end }}
</body>
</html>
`

var page = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
	"seconds": func(d time.Duration) string { return fmt.Sprintf("%.1fs", d.Seconds()) },
}).Parse(pageTemplate))

type pageData struct {
	Generated time.Time
	Summary   metrics.Summary
	Entries   []metrics.Entry
}

// RenderHTML writes a self-contained page with the summary over all entries
// and the most recent sessions, newest first. Entry text is escaped.
func RenderHTML(w io.Writer, entries []metrics.Entry, summary metrics.Summary) error {
	return renderHTML(w, entries, summary, time.Now())
}

func renderHTML(w io.Writer, entries []metrics.Entry, summary metrics.Summary, now time.Time) error {
	data := pageData{
		Generated: now.UTC(),
		Summary:   summary,
		Entries:   metrics.Last(entries, RecentSessions),
	}
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}
	return nil
}
