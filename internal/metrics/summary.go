package metrics

import "time"

// Summary aggregates a sequence of entries.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Healed    int `json:"healed"`
	Exhausted int `json:"exhausted"`

	// Failures counts sessions that needed healing.
	Failures int `json:"failures"`

	// SuccessRate is healed over failures, in percent.
	SuccessRate float64 `json:"success_rate"`

	// MTTR is the mean elapsed time of healed sessions.
	MTTR time.Duration `json:"mttr"`

	// AvgAttempts is the mean attempt count of healed sessions.
	AvgAttempts float64 `json:"avg_attempts"`

	TokensUsed int       `json:"tokens_used"`
	LastRun    time.Time `json:"last_run,omitempty"`
}

// Summarize computes totals, success rate and MTTR.
func Summarize(entries []Entry) Summary {
	var s Summary
	var healedSeconds float64
	var healedAttempts int

	for _, e := range entries {
		s.Total++
		s.TokensUsed += e.TokensUsed
		if e.Timestamp.After(s.LastRun) {
			s.LastRun = e.Timestamp
		}

		switch e.Outcome {
		case OutcomeHealthy:
			s.Healthy++
		case OutcomeHealed:
			s.Healed++
			healedSeconds += e.ElapsedSeconds
			healedAttempts += e.Attempts
		case OutcomeExhausted:
			s.Exhausted++
		}
	}

	s.Failures = s.Healed + s.Exhausted
	if s.Failures > 0 {
		s.SuccessRate = float64(s.Healed) / float64(s.Failures) * 100
	}
	if s.Healed > 0 {
		s.MTTR = time.Duration(healedSeconds / float64(s.Healed) * float64(time.Second))
		s.AvgAttempts = float64(healedAttempts) / float64(s.Healed)
	}
	return s
}

// Last returns the final n entries, newest first.
func Last(entries []Entry, n int) []Entry {
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, 0, n)
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		out = append(out, entries[i])
	}
	return out
}
