// Package checkpoint persists the state of healing sessions so they can be
// listed and inspected after the process exits.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
)

// Session status values.
const (
	StatusRunning   = "running"
	StatusHealthy   = "healthy"
	StatusHealed    = "healed"
	StatusExhausted = "exhausted"
	StatusAborted   = "aborted"
)

// State represents the checkpoint state of one healing session
type State struct {
	Version    string    `json:"version"`
	SessionID  string    `json:"session_id"`
	Pipeline   string    `json:"pipeline"`
	SourcePath string    `json:"source_path"`
	DataPath   string    `json:"data_path"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Status     string    `json:"status"`

	// Error is the failure that started the session, if any.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	Attempts    []Attempt    `json:"attempts"`
	Transitions []Transition `json:"transitions,omitempty"`

	SnapshotID     string            `json:"snapshot_id,omitempty"`
	PullRequestURL string            `json:"pull_request_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Attempt represents one diagnose/patch/verify cycle
type Attempt struct {
	Number      int       `json:"number"`
	Result      string    `json:"result"` // healed, failed, refused, service_error
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Candidate   string    `json:"candidate,omitempty"`
	Diff        string    `json:"diff,omitempty"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
}

// Transition records one state machine edge.
type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Manager handles checkpoint persistence and recovery
type Manager struct {
	checkpointDir string
}

// NewManager creates a new checkpoint manager
func NewManager(checkpointDir string) *Manager {
	return &Manager{checkpointDir: checkpointDir}
}

// NewState creates a new checkpoint state
func NewState(sessionID, pipeline string) *State {
	now := time.Now()
	return &State{
		Version:   "1.0",
		SessionID: sessionID,
		Pipeline:  pipeline,
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusRunning,
		Attempts:  []Attempt{},
		Metadata:  make(map[string]string),
	}
}

func (m *Manager) path(sessionID string) string {
	return filepath.Join(m.checkpointDir, fmt.Sprintf("%s.json", filepath.Base(sessionID)))
}

// Save persists the checkpoint state to disk
func (m *Manager) Save(state *State) error {
	if state == nil {
		return fmt.Errorf("checkpoint state is nil")
	}
	if state.SessionID == "" {
		return fmt.Errorf("checkpoint state has no session id")
	}

	// Update timestamp
	state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.checkpointDir, 0750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create checkpoint directory", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	if err := fsutil.WriteFileAtomic(m.path(state.SessionID), data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write checkpoint file", err)
	}
	return nil
}

// Load reads the checkpoint state from disk
func (m *Manager) Load(sessionID string) (*State, error) {
	data, err := os.ReadFile(m.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, fmt.Sprintf("session not found: %s", sessionID)).
				WithSuggestion("Run 'pipemedic session list' to see recorded sessions")
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read checkpoint file", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to unmarshal checkpoint state", err)
	}

	return &state, nil
}

// Exists checks if a checkpoint exists for the given session ID
func (m *Manager) Exists(sessionID string) bool {
	_, err := os.Stat(m.path(sessionID))
	return err == nil
}

// Delete removes a checkpoint file
func (m *Manager) Delete(sessionID string) error {
	if err := os.Remove(m.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpointed session IDs
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.checkpointDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var sessionIDs []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" && !strings.HasPrefix(entry.Name(), ".") {
			sessionIDs = append(sessionIDs, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}

	return sessionIDs, nil
}

// LoadAll returns every readable session, newest first. Unreadable
// checkpoints are skipped.
func (m *Manager) LoadAll() ([]*State, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}

	states := make([]*State, 0, len(ids))
	for _, id := range ids {
		state, err := m.Load(id)
		if err != nil {
			continue
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.After(states[j].StartedAt)
	})
	return states, nil
}

// AddAttempt appends an attempt record. Records are never modified after
// they are added.
func (s *State) AddAttempt(a Attempt) {
	s.Attempts = append(s.Attempts, a)
	s.UpdatedAt = time.Now()
}

// AddTransition records a state change.
func (s *State) AddTransition(from, to string, at time.Time) {
	s.Transitions = append(s.Transitions, Transition{From: from, To: to, At: at})
	s.UpdatedAt = time.Now()
}

// Finish sets the terminal status.
func (s *State) Finish(status string) {
	s.Status = status
	s.UpdatedAt = time.Now()
}

// IsComplete reports whether the session reached a terminal status
func (s *State) IsComplete() bool {
	return s.Status != StatusRunning
}

// Elapsed returns the time between start and last update.
func (s *State) Elapsed() time.Duration {
	return s.UpdatedAt.Sub(s.StartedAt)
}

// SetMetadata sets a metadata key-value pair
func (s *State) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// GetMetadata retrieves a metadata value
func (s *State) GetMetadata(key string) (string, bool) {
	if s.Metadata == nil {
		return "", false
	}
	value, ok := s.Metadata[key]
	return value, ok
}
