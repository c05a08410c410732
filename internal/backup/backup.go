// Package backup snapshots the live pipeline source before healing and
// restores it when a session is exhausted.
package backup

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
	"github.com/felixgeelhaar/pipemedic/internal/patch"
)

const (
	timestampLayout = "20060102T150405.000Z"
	historyFile     = "history.jsonl"
	digestSuffix    = ".blake3"
)

// SnapshotID names a snapshot file inside the backup directory.
type SnapshotID string

// Label identifies the session attempt a snapshot belongs to.
type Label struct {
	SessionID string `json:"session_id"`
	Attempt   int    `json:"attempt"`
}

func (l Label) String() string {
	return fmt.Sprintf("%s-a%d", l.SessionID, l.Attempt)
}

// Snapshot describes one stored copy of the live source.
type Snapshot struct {
	ID        SnapshotID `json:"id"`
	Label     Label      `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
	Size      int64      `json:"size"`
	Digest    string     `json:"digest"`
}

// Action is a history entry kind.
type Action string

const (
	ActionBackup  Action = "backup"
	ActionRestore Action = "restore"
	ActionPrune   Action = "prune"
)

// HistoryEntry is one line of the version history.
type HistoryEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Action    Action     `json:"action"`
	File      string     `json:"file"`
	Snapshot  SnapshotID `json:"snapshot"`
	Digest    string     `json:"digest,omitempty"`
}

// Manager owns the snapshots of one live source file.
type Manager struct {
	dir      string
	livePath string
	now      func() time.Time

	mu sync.Mutex
}

// NewManager creates a manager storing snapshots of livePath in dir.
func NewManager(dir, livePath string) *Manager {
	return &Manager{dir: dir, livePath: livePath, now: time.Now}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) base() string {
	return filepath.Base(m.livePath)
}

// Snapshot stores source under label. A label is snapshotted once: later
// calls return the existing ID and leave the stored copy untouched.
func (m *Manager) Snapshot(label Label, source []byte) (SnapshotID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok, err := m.find(label); err != nil {
		return "", err
	} else if ok {
		return existing.ID, nil
	}

	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return "", errors.Wrap(errors.ErrCodeSnapshot, "failed to create backup directory", err)
	}

	id := SnapshotID(fmt.Sprintf("%s.%s.%s.bak", m.base(), m.now().UTC().Format(timestampLayout), label))
	path := filepath.Join(m.dir, string(id))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeSnapshot, fmt.Sprintf("failed to create snapshot %s", id), err)
	}
	if _, err := f.Write(source); err != nil {
		_ = f.Close()
		return "", errors.Wrap(errors.ErrCodeSnapshot, "failed to write snapshot", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", errors.Wrap(errors.ErrCodeSnapshot, "failed to sync snapshot", err)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(errors.ErrCodeSnapshot, "failed to close snapshot", err)
	}

	digest := patch.Digest(source)
	if err := os.WriteFile(path+digestSuffix, []byte(digest+"\n"), 0600); err != nil {
		return "", errors.Wrap(errors.ErrCodeSnapshot, "failed to write snapshot digest", err)
	}

	if err := m.appendHistory(ActionBackup, id, digest); err != nil {
		return "", err
	}
	return id, nil
}

// Restore overwrites the live source with a snapshot after checking its
// digest.
func (m *Manager) Restore(id SnapshotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, filepath.Base(string(id)))
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewRestoreError(string(id), err)
	}

	want, err := os.ReadFile(path + digestSuffix)
	if err != nil {
		return errors.NewRestoreError(string(id), fmt.Errorf("missing digest: %w", err))
	}
	digest := patch.Digest(data)
	if strings.TrimSpace(string(want)) != digest {
		return errors.NewRestoreError(string(id), fmt.Errorf("digest mismatch: snapshot has been modified"))
	}

	if err := fsutil.WriteFileAtomic(m.livePath, data, fsutil.FileMode(m.livePath, 0644)); err != nil {
		return errors.NewRestoreError(string(id), err)
	}
	return m.appendHistory(ActionRestore, id, digest)
}

// Find returns the snapshot taken for label.
func (m *Manager) Find(label Label) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(label)
}

func (m *Manager) find(label Label) (Snapshot, bool, error) {
	snapshots, err := m.list()
	if err != nil {
		return Snapshot{}, false, err
	}
	for _, s := range snapshots {
		if s.Label == label {
			return s, true, nil
		}
	}
	return Snapshot{}, false, nil
}

// Latest returns the newest snapshot.
func (m *Manager) Latest() (Snapshot, bool, error) {
	snapshots, err := m.List()
	if err != nil || len(snapshots) == 0 {
		return Snapshot{}, false, err
	}
	return snapshots[len(snapshots)-1], true, nil
}

// List returns the snapshots of the live file, oldest first.
func (m *Manager) List() ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list()
}

func (m *Manager) list() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to read backup directory", err)
	}

	var snapshots []Snapshot
	for _, e := range entries {
		s, ok := m.parse(e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			s.Size = info.Size()
		}
		if d, err := os.ReadFile(filepath.Join(m.dir, e.Name()) + digestSuffix); err == nil {
			s.Digest = strings.TrimSpace(string(d))
		}
		snapshots = append(snapshots, s)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// parse reads <base>.<timestamp>.<session>-a<n>.bak.
func (m *Manager) parse(name string) (Snapshot, bool) {
	prefix := m.base() + "."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bak") {
		return Snapshot{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".bak")

	if len(rest) <= len(timestampLayout)+1 || rest[len(timestampLayout)] != '.' {
		return Snapshot{}, false
	}
	at, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
	if err != nil {
		return Snapshot{}, false
	}

	label := rest[len(timestampLayout)+1:]
	i := strings.LastIndex(label, "-a")
	if i <= 0 {
		return Snapshot{}, false
	}
	attempt, err := strconv.Atoi(label[i+2:])
	if err != nil {
		return Snapshot{}, false
	}

	return Snapshot{
		ID:        SnapshotID(name),
		Label:     Label{SessionID: label[:i], Attempt: attempt},
		CreatedAt: at,
	}, true
}

// Prune removes snapshots older than retention and returns their IDs.
func (m *Manager) Prune(retention time.Duration) ([]SnapshotID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots, err := m.list()
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-retention)
	var removed []SnapshotID
	for _, s := range snapshots {
		if !s.CreatedAt.Before(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, string(s.ID))
		if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return removed, errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to remove snapshot %s", s.ID), err)
		}
		_ = os.Remove(path + digestSuffix)
		if err := m.appendHistory(ActionPrune, s.ID, s.Digest); err != nil {
			return removed, err
		}
		removed = append(removed, s.ID)
	}
	return removed, nil
}

func (m *Manager) appendHistory(action Action, id SnapshotID, digest string) error {
	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create backup directory", err)
	}

	entry := HistoryEntry{
		Timestamp: m.now().UTC(),
		Action:    action,
		File:      m.livePath,
		Snapshot:  id,
		Digest:    digest,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to encode history entry", err)
	}

	f, err := os.OpenFile(filepath.Join(m.dir, historyFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to open version history", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to append version history", err)
	}
	return f.Sync()
}

// History returns the version history, oldest first.
func (m *Manager) History() ([]HistoryEntry, error) {
	f, err := os.Open(filepath.Join(m.dir, historyFile))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to open version history", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "corrupt version history line", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read version history", err)
	}
	return entries, nil
}
