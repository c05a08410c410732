package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

func TestNewState(t *testing.T) {
	state := NewState("sess-1", "users")

	if state.Version != "1.0" {
		t.Errorf("expected version 1.0, got %s", state.Version)
	}
	if state.SessionID != "sess-1" || state.Pipeline != "users" {
		t.Errorf("unexpected identity: %s/%s", state.SessionID, state.Pipeline)
	}
	if state.Status != StatusRunning {
		t.Errorf("expected status running, got %s", state.Status)
	}
	if state.IsComplete() {
		t.Error("new state should not be complete")
	}
	if state.Metadata == nil {
		t.Error("metadata map should be initialized")
	}
}

func TestManagerSaveLoad(t *testing.T) {
	manager := NewManager(t.TempDir())

	state := NewState("sess-save-load", "users")
	state.Error = `[SCHEMA-001] required column "user_id" not found`
	state.AddAttempt(Attempt{Number: 1, Result: "failed", Error: "[TYPE-001] bad"})
	state.AddAttempt(Attempt{Number: 2, Result: "healed", TokensUsed: 120, Diff: "+aliases: [uid]"})
	state.AddTransition("idle", "diagnosing", time.Now())
	state.SetMetadata("provider", "openrouter")
	state.Finish(StatusHealed)

	if err := manager.Save(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := manager.Load("sess-save-load")
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}

	if loaded.Status != StatusHealed {
		t.Errorf("expected status healed, got %s", loaded.Status)
	}
	if len(loaded.Attempts) != 2 || loaded.Attempts[1].TokensUsed != 120 {
		t.Errorf("unexpected attempts: %+v", loaded.Attempts)
	}
	if len(loaded.Transitions) != 1 || loaded.Transitions[0].To != "diagnosing" {
		t.Errorf("unexpected transitions: %+v", loaded.Transitions)
	}
	if value, ok := loaded.GetMetadata("provider"); !ok || value != "openrouter" {
		t.Errorf("expected metadata provider=openrouter, got %s (exists: %v)", value, ok)
	}
	if !loaded.IsComplete() {
		t.Error("healed state should be complete")
	}
}

func TestManagerSave_Errors(t *testing.T) {
	manager := NewManager(t.TempDir())

	if err := manager.Save(nil); err == nil {
		t.Error("expected error for nil state")
	}
	if err := manager.Save(&State{}); err == nil {
		t.Error("expected error for state without session id")
	}
}

func TestManagerLoad_NotFound(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Load("missing")
	if !errors.Is(err, errors.ErrCodeFileNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestManagerExistsDelete(t *testing.T) {
	manager := NewManager(t.TempDir())

	if manager.Exists("sess") {
		t.Error("checkpoint should not exist initially")
	}
	if err := manager.Save(NewState("sess", "users")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if !manager.Exists("sess") {
		t.Error("checkpoint should exist after save")
	}
	if err := manager.Delete("sess"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if manager.Exists("sess") {
		t.Error("checkpoint should not exist after delete")
	}
	if err := manager.Delete("sess"); err != nil {
		t.Errorf("deleting a missing checkpoint should succeed: %v", err)
	}
}

func TestManagerListAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	manager := NewManager(dir)

	ids, err := manager.List()
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty list, got %v (%v)", ids, err)
	}

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		state := NewState(id, "users")
		state.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := manager.Save(state); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ids, err = manager.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("expected 4 ids, got %v", ids)
	}

	states, err := manager.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 readable states, got %d", len(states))
	}
	if states[0].SessionID != "c" || states[2].SessionID != "a" {
		t.Errorf("expected newest first, got %s..%s", states[0].SessionID, states[2].SessionID)
	}
}

func TestStateElapsed(t *testing.T) {
	state := NewState("s", "p")
	state.StartedAt = time.Now().Add(-2 * time.Second)
	state.Finish(StatusExhausted)

	if state.Elapsed() < 2*time.Second {
		t.Errorf("expected elapsed >= 2s, got %s", state.Elapsed())
	}
}
