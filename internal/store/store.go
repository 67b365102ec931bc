// Package store is the thread-safe task registry with atomic JSON
// persistence and crash recovery on load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediascribe/internal/domain"
)

// SnapshotVersion is the current on-disk snapshot schema version.
const SnapshotVersion = 1

// RestartErrorMessage marks tasks caught mid-processing by a restart.
const RestartErrorMessage = "interrupted by restart"

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// snapshot is the persisted shape of the whole registry.
type snapshot struct {
	Version int            `json:"version"`
	Tasks   []*domain.Task `json:"tasks"`
}

// Store owns the task map, per-task cancellation flags, and the snapshot
// file. All mutations go through one coarse mutex; file I/O happens outside
// the critical section.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*domain.Task
	cancels map[string]bool

	// writeMu serializes snapshot writes so a slow disk cannot interleave
	// two renames out of order.
	writeMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// New creates an empty store persisting to path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		logger:  logger,
		tasks:   make(map[string]*domain.Task),
		cancels: make(map[string]bool),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// CreateTask registers a URL-sourced task. Creation is idempotent by
// source: an existing task for the same URL that is still pending or
// processing is returned instead of a duplicate, with created=false.
func (s *Store) CreateTask(url string) (domain.Task, bool) {
	return s.create(&domain.Task{
		Kind: domain.SourceKindURL,
		URL:  url,
	})
}

// CreateUploadTask registers an upload-sourced task, with the same
// idempotence rule as CreateTask.
func (s *Store) CreateUploadTask(originalFilename string, kind domain.MediaKind) (domain.Task, bool) {
	return s.create(&domain.Task{
		Kind:             domain.SourceKindUpload,
		OriginalFilename: originalFilename,
		MediaKind:        kind,
	})
}

// create inserts t unless an active task with the same source exists.
func (s *Store) create(t *domain.Task) (domain.Task, bool) {
	s.mu.Lock()
	for _, existing := range s.tasks {
		if existing.SourceKey() == t.SourceKey() &&
			(existing.Status == domain.TaskStatusPending || existing.Status == domain.TaskStatusProcessing) {
			out := *existing
			s.mu.Unlock()
			return out, false
		}
	}

	t.ID = s.newID()
	t.Status = domain.TaskStatusPending
	t.Progress = 0
	t.CreatedAt = s.now()
	s.tasks[t.ID] = t
	out := *t
	s.mu.Unlock()

	s.persistBestEffort()
	return out, true
}

// Get returns a copy of the task, or ErrNotFound.
func (s *Store) Get(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return *t, nil
}

// List returns copies of all tasks, newest first.
func (s *Store) List() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Update applies fn to the task under the store lock and persists the
// result. The pipeline worker is the only caller for its own task id.
func (s *Store) Update(id string, fn func(t *domain.Task)) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	fn(t)
	s.mu.Unlock()

	s.persistBestEffort()
	return nil
}

// Transition validates and applies a status edge for the task.
func (s *Store) Transition(id string, status domain.TaskStatus) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if t.Status != status && !validTransition(t.Status, status) {
		from := t.Status
		s.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, status)
	}
	t.Status = status
	s.mu.Unlock()

	s.persistBestEffort()
	return nil
}

// Delete removes the task and its cancellation flag, then persists.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.tasks, id)
	delete(s.cancels, id)
	s.mu.Unlock()

	s.persistBestEffort()
	return nil
}

// RequestCancel flags the task for cooperative cancellation. The task
// record itself is untouched; the worker observes the flag at stage and
// segment boundaries.
func (s *Store) RequestCancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	s.cancels[id] = true
	return nil
}

// Cancelled reports whether cancellation was requested for the task.
func (s *Store) Cancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[id]
}

// ClearCancel drops the cancellation flag, typically when a run finishes.
func (s *Store) ClearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

// CancelAllProcessing flags every processing task for cancellation in one
// critical section and returns the affected ids.
func (s *Store) CancelAllProcessing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, t := range s.tasks {
		if t.Status == domain.TaskStatusProcessing {
			s.cancels[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Persist writes the full snapshot atomically: temp file in the same
// directory, fsync, rename over the real file.
func (s *Store) Persist() error {
	s.mu.Lock()
	snap := snapshot{Version: SnapshotVersion, Tasks: make([]*domain.Task, 0, len(s.tasks))}
	for _, t := range s.tasks {
		copied := *t
		snap.Tasks = append(snap.Tasks, &copied)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.writeAtomic(data)
}

// LoadOnStartup reads the snapshot and heals orphans: every task found in
// processing state was interrupted by a crash or restart and is rewritten
// to failed with progress reset, then the corrected set is written back.
func (s *Store) LoadOnStartup() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion)
	}

	healed := 0
	s.mu.Lock()
	for _, t := range snap.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		if t.Status == domain.TaskStatusProcessing {
			t.Status = domain.TaskStatusFailed
			t.ErrorMessage = RestartErrorMessage
			t.Progress = 0
			healed++
		}
		s.tasks[t.ID] = t
	}
	s.mu.Unlock()

	if healed > 0 {
		s.logger.Warn("healed orphaned tasks from previous run", "count", healed)
	}
	return s.Persist()
}

// persistBestEffort persists the snapshot but never fails the caller: an
// unwritable snapshot is a degraded condition, not a crash.
func (s *Store) persistBestEffort() {
	if err := s.Persist(); err != nil {
		s.logger.Error("task snapshot persist failed", "path", s.path, "err", err)
	}
}

// writeAtomic performs the temp-write, fsync, rename sequence.
func (s *Store) writeAtomic(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tasks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// validTransition enforces the allowed task status edges.
func validTransition(from, to domain.TaskStatus) bool {
	switch from {
	case domain.TaskStatusPending:
		return to == domain.TaskStatusProcessing || to == domain.TaskStatusFailed
	case domain.TaskStatusProcessing:
		return to == domain.TaskStatusCompleted || to == domain.TaskStatusFailed
	default:
		return false
	}
}
