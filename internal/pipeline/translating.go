package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mediascribe/internal/domain"
	"mediascribe/internal/events"
)

// ErrNotTranslatable is returned when a task has no finished transcript to
// translate.
var ErrNotTranslatable = errors.New("task has no completed transcript")

// ErrTranslationRunning is returned when a translation is already active
// for the task.
var ErrTranslationRunning = errors.New("translation already in progress")

// Translate runs the bilingual sub-pipeline for an already-completed task.
// Its status flag is independent of the main task status, since the task
// finished long before translation may be requested.
func (r *Runner) Translate(ctx context.Context, taskID string) error {
	task, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusCompleted || task.Transcript == "" {
		return ErrNotTranslatable
	}
	if task.TranslationStatus == domain.TranslationStatusProcessing {
		return ErrTranslationRunning
	}

	provider, ok := r.registry.Get(r.provider)
	if !ok {
		return fmt.Errorf("no synthesis provider configured for translation")
	}

	if err := r.tasks.Update(taskID, func(t *domain.Task) {
		t.TranslationStatus = domain.TranslationStatusProcessing
	}); err != nil {
		return err
	}

	logger := r.logger.With("task_id", taskID)
	bilingual, err := provider.Bilingual(ctx, task.Transcript)
	if err != nil {
		logger.Warn("bilingual translation failed", "err", err)
		_ = r.tasks.Update(taskID, func(t *domain.Task) {
			t.TranslationStatus = domain.TranslationStatusFailed
		})
		return fmt.Errorf("bilingual translation: %w", err)
	}

	outDir, dirErr := r.artifacts.TaskOutputDir(taskID)
	if dirErr == nil {
		base := sanitizeTitle(task.Title)
		if base == "" {
			base = fallbackBase(taskID)
		}
		path := filepath.Join(outDir, base+"-bilingual.txt")
		if writeErr := os.WriteFile(path, []byte(bilingual), 0o644); writeErr != nil {
			logger.Warn("bilingual artifact write failed", "path", path, "err", writeErr)
		}
	} else {
		logger.Warn("cannot create output directory for translation", "err", dirErr)
	}

	if err := r.tasks.Update(taskID, func(t *domain.Task) {
		t.Translation = bilingual
		t.TranslationStatus = domain.TranslationStatusCompleted
	}); err != nil {
		return err
	}

	r.publish(events.Event{
		TaskID:  taskID,
		Type:    events.EventTypeResult,
		Message: "translation completed",
	})
	logger.Info("translation completed")
	return nil
}
