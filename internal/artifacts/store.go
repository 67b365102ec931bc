// Package artifacts manages per-task working directories and enforces a
// bounded retention policy over their contents.
package artifacts

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry tracks the files registered for one task, ordered by creation time
// for retention purposes only.
type entry struct {
	taskID    string
	files     []string
	dir       string
	createdAt time.Time
}

// Store allocates private working directories per task and prunes the
// artifacts of tasks that fall outside the retention window.
type Store struct {
	tempRoot   string
	outputRoot string
	keep       int
	minAge     time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	entries []entry

	now       func() time.Time
	removeAll func(path string) error
	remove    func(path string) error
}

// New creates a store rooted at tempRoot and outputRoot, keeping the
// artifacts of the keep most-recent tasks. Entries younger than minAge are
// never pruned, so a sweep cannot race a worker still writing segments.
func New(tempRoot, outputRoot string, keep int, minAge time.Duration, logger *slog.Logger) *Store {
	if keep <= 0 {
		keep = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tempRoot:   tempRoot,
		outputRoot: outputRoot,
		keep:       keep,
		minAge:     minAge,
		logger:     logger,
		now:        time.Now,
		removeAll:  os.RemoveAll,
		remove:     os.Remove,
	}
}

// TaskWorkingDir returns (creating if needed) the private temp directory for
// one task.
func (s *Store) TaskWorkingDir(taskID string) (string, error) {
	dir := filepath.Join(s.tempRoot, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// TaskOutputDir returns (creating if needed) the durable output directory
// for one task.
func (s *Store) TaskOutputDir(taskID string) (string, error) {
	dir := filepath.Join(s.outputRoot, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Register merges paths into the task's entry, creating it when absent. When
// withDir is true the task's whole working directory is deleted on pruning,
// not just the listed files. Registration may trigger a retention sweep.
func (s *Store) Register(taskID string, paths []string, withDir bool) {
	s.mu.Lock()
	idx := s.find(taskID)
	if idx < 0 {
		e := entry{taskID: taskID, createdAt: s.now()}
		s.entries = append(s.entries, e)
		idx = len(s.entries) - 1
	}
	s.entries[idx].files = append(s.entries[idx].files, paths...)
	if withDir {
		s.entries[idx].dir = filepath.Join(s.tempRoot, taskID)
	}
	overflow := len(s.entries) > s.keep
	s.mu.Unlock()

	if overflow {
		s.PruneExcess()
	}
}

// PruneExcess deletes the artifacts of every registered task beyond the
// retention window, most recent first. Entries younger than the minimum age
// are left alone regardless of position.
func (s *Store) PruneExcess() {
	s.mu.Lock()
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].createdAt.After(s.entries[j].createdAt)
	})
	var victims []entry
	kept := s.entries[:0]
	cutoff := s.now().Add(-s.minAge)
	for i, e := range s.entries {
		if i < s.keep || e.createdAt.After(cutoff) {
			kept = append(kept, e)
			continue
		}
		victims = append(victims, e)
	}
	s.entries = kept
	s.mu.Unlock()

	for _, e := range victims {
		s.deleteEntry(e)
	}
}

// DeleteTask removes every artifact registered for the task, plus its temp
// and output directories. Invalid ids and escaping paths delete nothing.
func (s *Store) DeleteTask(taskID string) {
	if _, err := uuid.Parse(taskID); err != nil {
		s.logger.Warn("refusing artifact delete: task id is not a UUID", "task_id", taskID)
		return
	}

	s.mu.Lock()
	var victim entry
	if idx := s.find(taskID); idx >= 0 {
		victim = s.entries[idx]
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	} else {
		victim = entry{taskID: taskID}
	}
	victim.dir = filepath.Join(s.tempRoot, taskID)
	s.mu.Unlock()

	s.deleteEntry(victim)
	s.safeRemoveDir(taskID, filepath.Join(s.outputRoot, taskID), s.outputRoot)
}

// Registered returns the task ids currently inside the retention registry,
// most recent first.
func (s *Store) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]entry(nil), s.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].createdAt.After(sorted[j].createdAt)
	})
	ids := make([]string, 0, len(sorted))
	for _, e := range sorted {
		ids = append(ids, e.taskID)
	}
	return ids
}

// deleteEntry removes an entry's files individually, tolerating already
// missing ones, then removes its directory through the safety gate.
func (s *Store) deleteEntry(e entry) {
	for _, f := range e.files {
		if err := s.remove(f); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("artifact file removal failed", "task_id", e.taskID, "path", f, "err", err)
		}
	}
	if e.dir != "" {
		s.safeRemoveDir(e.taskID, e.dir, s.tempRoot)
	}
}

// safeRemoveDir recursively deletes dir only when taskID is a syntactically
// valid UUID and the resolved path of dir is contained in the resolved base
// root. Either check failing aborts the deletion with a warning; nothing is
// ever raised to the caller.
func (s *Store) safeRemoveDir(taskID, dir, base string) {
	if _, err := uuid.Parse(taskID); err != nil {
		s.logger.Warn("refusing artifact delete: task id is not a UUID", "task_id", taskID)
		return
	}

	resolvedBase, err := resolvePath(base)
	if err != nil {
		s.logger.Warn("refusing artifact delete: cannot resolve base", "base", base, "err", err)
		return
	}
	resolvedDir, err := resolvePath(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		s.logger.Warn("refusing artifact delete: cannot resolve target", "path", dir, "err", err)
		return
	}
	if !contains(resolvedBase, resolvedDir) {
		s.logger.Warn("refusing artifact delete: target escapes base directory", "path", dir, "base", base)
		return
	}

	if err := s.removeAll(resolvedDir); err != nil {
		s.logger.Warn("artifact directory removal failed", "task_id", taskID, "path", resolvedDir, "err", err)
	}
}

// find returns the index of the entry for taskID, or -1. Caller holds mu.
func (s *Store) find(taskID string) int {
	for i := range s.entries {
		if s.entries[i].taskID == taskID {
			return i
		}
	}
	return -1
}

// resolvePath returns the absolute, symlink-free form of path.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// contains reports whether child equals base or lives beneath it.
func contains(base, child string) bool {
	if base == child {
		return true
	}
	rel, err := filepath.Rel(base, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
