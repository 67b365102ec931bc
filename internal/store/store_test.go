package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"mediascribe/internal/domain"
)

// newTestStore builds a store backed by a throwaway snapshot file.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "tasks.json"), nil)
}

// TestCreateTaskIdempotentBySource verifies duplicate URL submissions while
// the first task is still active return the existing record.
func TestCreateTaskIdempotentBySource(t *testing.T) {
	s := newTestStore(t)

	first, created := s.CreateTask("https://example.com/talk")
	if !created {
		t.Fatal("first create should report created")
	}
	if first.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, want pending", first.Status)
	}

	second, created := s.CreateTask("https://example.com/talk")
	if created {
		t.Fatal("duplicate create should not report created")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate id = %s, want %s", second.ID, first.ID)
	}

	other, created := s.CreateTask("https://example.com/other")
	if !created || other.ID == first.ID {
		t.Fatalf("distinct URL should create a new task, created=%v id=%s", created, other.ID)
	}
}

// TestCreateTaskAfterTerminalState verifies a finished task does not block a
// fresh submission for the same source.
func TestCreateTaskAfterTerminalState(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.CreateTask("https://example.com/talk")
	if err := s.Transition(first.ID, domain.TaskStatusProcessing); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Transition(first.ID, domain.TaskStatusCompleted); err != nil {
		t.Fatalf("transition: %v", err)
	}

	second, created := s.CreateTask("https://example.com/talk")
	if !created {
		t.Fatal("expected a new task after the first completed")
	}
	if second.ID == first.ID {
		t.Fatal("new task reused completed task id")
	}
}

// TestTransitionRejectsInvalidEdges checks state machine constraints.
func TestTransitionRejectsInvalidEdges(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.CreateTask("https://example.com/a")

	if err := s.Transition(task.ID, domain.TaskStatusCompleted); err == nil {
		t.Fatal("pending -> completed should be rejected")
	}
	if err := s.Transition(task.ID, domain.TaskStatusProcessing); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := s.Transition(task.ID, domain.TaskStatusCompleted); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if err := s.Transition(task.ID, domain.TaskStatusProcessing); err == nil {
		t.Fatal("completed -> processing should be rejected")
	}
}

// TestCancelFlagLifecycle verifies request, observe and clear of the
// cooperative cancellation flag.
func TestCancelFlagLifecycle(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.CreateTask("https://example.com/a")

	if s.Cancelled(task.ID) {
		t.Fatal("fresh task should not be flagged")
	}
	if err := s.RequestCancel(task.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !s.Cancelled(task.ID) {
		t.Fatal("expected cancel flag set")
	}
	s.ClearCancel(task.ID)
	if s.Cancelled(task.ID) {
		t.Fatal("expected cancel flag cleared")
	}

	if err := s.RequestCancel("missing"); err != ErrNotFound {
		t.Fatalf("RequestCancel(missing) = %v, want ErrNotFound", err)
	}
}

// TestCancelAllProcessing verifies only processing tasks get flagged.
func TestCancelAllProcessing(t *testing.T) {
	s := newTestStore(t)
	pending, _ := s.CreateTask("https://example.com/a")
	active, _ := s.CreateTask("https://example.com/b")
	if err := s.Transition(active.ID, domain.TaskStatusProcessing); err != nil {
		t.Fatalf("transition: %v", err)
	}

	ids := s.CancelAllProcessing()
	if len(ids) != 1 || ids[0] != active.ID {
		t.Fatalf("flagged ids = %v, want [%s]", ids, active.ID)
	}
	if s.Cancelled(pending.ID) {
		t.Fatal("pending task should not be flagged")
	}
}

// TestPersistAndLoadRoundTrip checks snapshot fidelity across a restart.
func TestPersistAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s := New(path, nil)
	task, _ := s.CreateTask("https://example.com/a")
	if err := s.Update(task.ID, func(t *domain.Task) {
		t.Title = "talk"
		t.Transcript = "hello world"
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded := New(path, nil)
	if err := reloaded.LoadOnStartup(); err != nil {
		t.Fatalf("LoadOnStartup: %v", err)
	}
	got, err := reloaded.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "talk" || got.Transcript != "hello world" {
		t.Fatalf("reloaded task = %+v", got)
	}
}

// TestLoadOnStartupHealsOrphans verifies processing tasks found in the
// snapshot are rewritten to failed with the restart message.
func TestLoadOnStartupHealsOrphans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s := New(path, nil)
	orphan, _ := s.CreateTask("https://example.com/a")
	if err := s.Transition(orphan.ID, domain.TaskStatusProcessing); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Update(orphan.ID, func(t *domain.Task) { t.Progress = 55 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	done, _ := s.CreateTask("https://example.com/b")
	if err := s.Transition(done.ID, domain.TaskStatusProcessing); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Transition(done.ID, domain.TaskStatusCompleted); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded := New(path, nil)
	if err := reloaded.LoadOnStartup(); err != nil {
		t.Fatalf("LoadOnStartup: %v", err)
	}

	healed, err := reloaded.Get(orphan.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if healed.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", healed.Status)
	}
	if healed.ErrorMessage != RestartErrorMessage {
		t.Fatalf("error message = %q, want %q", healed.ErrorMessage, RestartErrorMessage)
	}
	if healed.Progress != 0 {
		t.Fatalf("progress = %d, want 0", healed.Progress)
	}

	untouched, err := reloaded.Get(done.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if untouched.Status != domain.TaskStatusCompleted {
		t.Fatalf("completed task status = %s, want completed", untouched.Status)
	}

	// The healed state must also be back on disk.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	for _, st := range snap.Tasks {
		if st.Status == domain.TaskStatusProcessing {
			t.Fatalf("snapshot still holds a processing task: %+v", st)
		}
	}
}

// TestLoadOnStartupMissingSnapshot checks first-run behavior.
func TestLoadOnStartupMissingSnapshot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "tasks.json"), nil)
	if err := s.LoadOnStartup(); err != nil {
		t.Fatalf("LoadOnStartup() error = %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Fatalf("tasks = %d, want 0", len(got))
	}
}

// TestLoadOnStartupRejectsNewerVersion checks forward-compat refusal.
func TestLoadOnStartupRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	body := []byte(`{"version": 99, "tasks": []}`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := New(path, nil)
	if err := s.LoadOnStartup(); err == nil {
		t.Fatal("expected version error")
	}
}

// TestPersistLeavesNoTempFiles checks the snapshot directory stays clean
// after the temp-write-rename sequence.
func TestPersistLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "tasks.json"), nil)
	if _, created := s.CreateTask("https://example.com/a"); !created {
		t.Fatal("create failed")
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "tasks.json" {
		t.Fatalf("unexpected snapshot dir contents: %v", entries)
	}
}

// TestDeleteRemovesTaskAndFlag verifies delete cleans the cancel flag too.
func TestDeleteRemovesTaskAndFlag(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.CreateTask("https://example.com/a")
	if err := s.RequestCancel(task.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	if err := s.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(task.ID); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if s.Cancelled(task.ID) {
		t.Fatal("cancel flag should be gone after delete")
	}
	if err := s.Delete(task.ID); err != ErrNotFound {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}
