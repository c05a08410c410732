package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_AppendOnly(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "logs", "metrics.jsonl"))

	entries, err := r.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "missing log reads as empty")

	first := Entry{ID: "s1", Pipeline: "users", Outcome: OutcomeHealed, Success: true, Attempts: 1, ElapsedSeconds: 2.5}
	require.NoError(t, r.Record(first))

	before, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	require.NoError(t, r.Record(Entry{ID: "s2", Pipeline: "users", Outcome: OutcomeExhausted, Attempts: 3}))

	after, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(after), string(before)), "earlier bytes are unchanged")
	assert.Equal(t, 2, strings.Count(string(after), "\n"))

	entries, err = r.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s1", entries[0].ID)
	assert.Equal(t, "s2", entries[1].ID)
	assert.False(t, entries[0].Timestamp.IsZero(), "timestamp is filled in")
}

func TestRecorder_TruncatesError(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "metrics.jsonl"))

	require.NoError(t, r.Record(Entry{ID: "s", Error: strings.Repeat("x", 500)}))

	entries, err := r.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Error, MaxErrorLength)
}

func TestRecorder_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"ok\"}\n\nnot json\n"), 0600))

	_, err := NewRecorder(path).Entries()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	// "é" is two bytes; cutting inside it drops the partial rune
	assert.Equal(t, "a", Truncate("aé", 2))
	assert.Equal(t, "aé", Truncate("aé€", 4), "three-byte rune cut after its first byte")

	// a stray byte from a CSV cell must not cut the rest of the message
	msg := "bad value \xff in column \"signup_date\" " + strings.Repeat("x", 300)
	got := Truncate(msg, MaxErrorLength)
	assert.Len(t, got, MaxErrorLength)
	assert.Contains(t, got, "signup_date")
	assert.Equal(t, msg[:MaxErrorLength], got)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "1", Timestamp: base, Outcome: OutcomeHealthy, Success: true},
		{ID: "2", Timestamp: base.Add(time.Hour), Outcome: OutcomeHealed, Success: true, Attempts: 1, ElapsedSeconds: 4, TokensUsed: 100},
		{ID: "3", Timestamp: base.Add(2 * time.Hour), Outcome: OutcomeHealed, Success: true, Attempts: 2, ElapsedSeconds: 8, TokensUsed: 200},
		{ID: "4", Timestamp: base.Add(30 * time.Minute), Outcome: OutcomeExhausted, Attempts: 3, ElapsedSeconds: 20, TokensUsed: 300},
	}

	s := Summarize(entries)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Healthy)
	assert.Equal(t, 2, s.Healed)
	assert.Equal(t, 1, s.Exhausted)
	assert.Equal(t, 3, s.Failures)
	assert.InDelta(t, 66.67, s.SuccessRate, 0.01)
	assert.Equal(t, 6*time.Second, s.MTTR)
	assert.InDelta(t, 1.5, s.AvgAttempts, 0.001)
	assert.Equal(t, 600, s.TokensUsed)
	assert.Equal(t, base.Add(2*time.Hour), s.LastRun)

	empty := Summarize(nil)
	assert.Zero(t, empty.SuccessRate)
	assert.Zero(t, empty.MTTR)
}

func TestLast(t *testing.T) {
	entries := []Entry{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	last := Last(entries, 2)
	require.Len(t, last, 2)
	assert.Equal(t, "3", last[0].ID)
	assert.Equal(t, "2", last[1].ID)

	assert.Len(t, Last(entries, 10), 3)
	assert.Empty(t, Last(nil, 10))
}
