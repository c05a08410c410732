package patch

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
)

// Store writes candidates under <dir>/<session>/.
type Store struct {
	dir  string
	diff *DiffGenerator
	now  func() time.Time
}

// NewStore creates a candidate store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:  dir,
		diff: NewDiffGenerator(),
		now:  time.Now,
	}
}

// SessionDir returns the directory holding a session's candidates.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.dir, sessionID)
}

func (s *Store) candidatePath(sessionID string, attempt int, ext string) string {
	return filepath.Join(s.SessionDir(sessionID), fmt.Sprintf("attempt-%d%s", attempt, ext))
}

func (s *Store) recordPath(sessionID string, attempt int) string {
	return filepath.Join(s.SessionDir(sessionID), fmt.Sprintf("attempt-%d.patch.json", attempt))
}

// WriteCandidate stores newSource as the candidate for one attempt, plus a
// JSON record with the diff against oldSource. A candidate is written once:
// a second write for the same attempt fails.
func (s *Store) WriteCandidate(sessionID string, attempt int, oldSource, newSource []byte, ext string) (*Candidate, error) {
	if err := os.MkdirAll(s.SessionDir(sessionID), 0750); err != nil {
		return nil, errors.NewPatchApplyError(s.SessionDir(sessionID), err)
	}

	path := s.candidatePath(sessionID, attempt, ext)
	if err := writeExclusive(path, newSource, 0400); err != nil {
		return nil, errors.NewPatchApplyError(path, err)
	}

	name := filepath.Base(path)
	insertions, deletions := s.diff.CountChanges(string(oldSource), string(newSource))
	c := &Candidate{
		SessionID:  sessionID,
		Attempt:    attempt,
		Timestamp:  s.now().UTC(),
		Path:       path,
		BaseDigest: Digest(oldSource),
		Digest:     Digest(newSource),
		Size:       len(newSource),
		Diff:       s.diff.UnifiedDiff(name, string(oldSource), string(newSource)),
		Insertions: insertions,
		Deletions:  deletions,
	}

	data, err := c.ToJSON()
	if err != nil {
		return nil, errors.NewPatchApplyError(path, fmt.Errorf("failed to serialize candidate: %w", err))
	}
	recordPath := s.recordPath(sessionID, attempt)
	if err := writeExclusive(recordPath, data, 0600); err != nil {
		return nil, errors.NewPatchApplyError(recordPath, err)
	}
	return c, nil
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadCandidate reads the record of one attempt.
func (s *Store) ReadCandidate(sessionID string, attempt int) (*Candidate, error) {
	path := s.recordPath(sessionID, attempt)
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read candidate record", err)
	}

	c, err := FromJSON(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to parse candidate record", err)
	}
	return c, nil
}

// ListCandidates returns a session's candidates ordered by attempt.
func (s *Store) ListCandidates(sessionID string) ([]*Candidate, error) {
	files, err := filepath.Glob(filepath.Join(s.SessionDir(sessionID), "attempt-*.patch.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob candidates: %w", err)
	}

	var candidates []*Candidate
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue // Skip unreadable files
		}
		c, err := FromJSON(data)
		if err != nil {
			continue // Skip unparseable files
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Attempt < candidates[j].Attempt
	})
	return candidates, nil
}

// Promote copies a verified candidate over the live source. The live file
// must still hold the source the candidate was diffed against, and the
// candidate file must still match its recorded digest.
func (s *Store) Promote(c *Candidate, livePath string) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return errors.NewPatchApplyError(livePath, fmt.Errorf("failed to read candidate: %w", err))
	}
	if Digest(data) != c.Digest {
		return errors.NewPatchApplyError(livePath, fmt.Errorf("candidate %s has been modified since it was written", c.Path))
	}

	live, err := os.ReadFile(livePath)
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.NewPatchApplyError(livePath, err)
	}
	if err == nil && Digest(live) != c.BaseDigest {
		return errors.NewPatchApplyError(livePath, fmt.Errorf("live source changed since attempt %d was proposed", c.Attempt)).
			WithSuggestion("Re-run the healing session against the current source")
	}

	if err := fsutil.WriteFileAtomic(livePath, data, fsutil.FileMode(livePath, 0644)); err != nil {
		return errors.NewPatchApplyError(livePath, err)
	}
	return nil
}

// Sessions lists the session IDs that have candidates.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read candidate directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
