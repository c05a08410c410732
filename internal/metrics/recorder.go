// Package metrics records healing sessions in an append-only JSON lines log
// and exposes them as Prometheus metrics.
package metrics

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// MaxErrorLength bounds the error text stored per entry.
const MaxErrorLength = 200

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeHealthy   Outcome = "healthy"
	OutcomeHealed    Outcome = "healed"
	OutcomeExhausted Outcome = "exhausted"
)

// Entry is one persisted session summary.
type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Pipeline       string    `json:"pipeline"`
	Outcome        Outcome   `json:"outcome"`
	Success        bool      `json:"success"`
	Attempts       int       `json:"attempts"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	TokensUsed     int       `json:"tokens_used,omitempty"`
}

// Recorder appends entries to a JSON lines file. Existing lines are never
// rewritten.
type Recorder struct {
	path string
	mu   sync.Mutex
}

// NewRecorder creates a recorder for path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Path returns the log location.
func (r *Recorder) Path() string {
	return r.path
}

// Record appends one entry and syncs it to disk.
func (r *Recorder) Record(e Entry) error {
	e.Error = Truncate(e.Error, MaxErrorLength)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to encode metrics entry", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create metrics directory", err)
	}

	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to open metrics log", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to append metrics entry", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to sync metrics log", err)
	}
	return f.Close()
}

// Entries returns every entry in append order. A missing log is empty.
func (r *Recorder) Entries() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to open metrics log", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("corrupt metrics entry at line %d", lineNo), err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read metrics log", err)
	}
	return entries, nil
}

// Truncate shortens s to at most n bytes without splitting a rune. Invalid
// bytes before the cut are kept as they are.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for back := 0; n > 0 && back < utf8.UTFMax && !utf8.RuneStart(s[n]); back++ {
		n--
	}
	return s[:n]
}
