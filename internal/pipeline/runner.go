// Package pipeline drives a task through its stages: acquire metadata and
// audio, normalize and segment, transcribe with retry budgets, synthesize
// derived texts, and persist outputs. Cancellation is cooperative and
// observed at stage and segment boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediascribe/internal/artifacts"
	"mediascribe/internal/config"
	"mediascribe/internal/domain"
	"mediascribe/internal/events"
	"mediascribe/internal/media"
	"mediascribe/internal/store"
	"mediascribe/internal/synth"
	"mediascribe/internal/transcribe"
)

// Stage names reported to clients.
const (
	StageAcquiringInfo  = "acquiring_info"
	StageAcquiringAudio = "acquiring_audio"
	StagePreparingAudio = "preparing_audio"
	StageTranscribing   = "transcribing"
	StageSynthesizing   = "synthesizing"
	StagePersisting     = "persisting"
	StageDone           = "done"
)

// Progress anchors per stage. Transcription interpolates linearly between
// its two anchors proportional to segments attempted.
const (
	progressInfo            = 5
	progressAudio           = 20
	progressPrepared        = 30
	progressTranscribeStart = 30
	progressTranscribeEnd   = 80
	progressSynth           = 95
	progressDone            = 100
)

// minValidTextLen rejects transcription results shorter than this after
// trimming; such results count as failed attempts.
const minValidTextLen = 3

// AudioToolkit is the ffmpeg surface the pipeline needs.
type AudioToolkit interface {
	Probe(ctx context.Context, path string) (float64, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	Slice(ctx context.Context, src, outPath string, start, duration float64) error
}

// Runner executes the full pipeline for one task at a time per call.
type Runner struct {
	cfg         config.Pipeline
	tasks       *store.Store
	artifacts   *artifacts.Store
	acquirer    media.Acquirer
	audio       AudioToolkit
	transcriber transcribe.Transcriber
	registry    *synth.Registry
	provider    string
	bus         *events.Bus
	logger      *slog.Logger

	sleep        func(d time.Duration)
	removeUpload func(path string) error
}

// removeFile is the production upload-removal hook.
func removeFile(path string) error {
	return os.Remove(path)
}

// NewRunner wires the pipeline with its collaborators.
func NewRunner(
	cfg config.Pipeline,
	tasks *store.Store,
	artifactStore *artifacts.Store,
	acquirer media.Acquirer,
	audio AudioToolkit,
	transcriber transcribe.Transcriber,
	registry *synth.Registry,
	provider string,
	bus *events.Bus,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		tasks:       tasks,
		artifacts:   artifactStore,
		acquirer:    acquirer,
		audio:       audio,
		transcriber: transcriber,
		registry:    registry,
		provider:    provider,
		bus:         bus,
		logger:      logger,
		sleep:        time.Sleep,
		removeUpload: removeFile,
	}
}

// Run executes every stage for the task and records the terminal outcome.
// It never panics out and never leaves the task in processing state.
func (r *Runner) Run(ctx context.Context, taskID string) {
	logger := r.logger.With("task_id", taskID)

	defer r.tasks.ClearCancel(taskID)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("pipeline worker panicked", "panic", rec)
			r.fail(taskID, fmt.Errorf("internal error: %v", rec), false)
		}
	}()

	if _, err := r.tasks.Get(taskID); err != nil {
		logger.Warn("task vanished before worker start")
		return
	}
	if err := r.tasks.Transition(taskID, domain.TaskStatusProcessing); err != nil {
		logger.Warn("task not startable", "err", err)
		return
	}
	r.publishStatus(taskID, domain.TaskStatusProcessing, StageAcquiringInfo, 0, "task started")

	err := r.runStages(ctx, taskID, logger)
	if err == nil {
		r.complete(taskID, logger)
		return
	}
	if errors.Is(err, errCancelled) {
		logger.Info("task cancelled by user")
		r.fail(taskID, errCancelled, true)
		return
	}
	logger.Error("task failed", "err", err)
	r.fail(taskID, err, false)
}

// runStages executes the stage sequence, returning nil on full success.
func (r *Runner) runStages(ctx context.Context, taskID string, logger *slog.Logger) error {
	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	if err := r.acquireInfo(ctx, taskID, logger); err != nil {
		return err
	}

	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	if err := r.acquireAudio(ctx, taskID, logger); err != nil {
		return err
	}

	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	segments, err := r.prepareAudio(ctx, taskID, logger)
	if err != nil {
		return err
	}

	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	transcript, language, err := r.transcribeAll(ctx, taskID, segments, logger)
	if err != nil {
		return err
	}
	if err := r.tasks.Update(taskID, func(t *domain.Task) {
		t.Transcript = transcript
		t.TranscriptLang = language
	}); err != nil {
		return err
	}

	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	r.synthesize(ctx, taskID, logger)

	if err := r.checkCancelled(taskID); err != nil {
		return err
	}
	return r.persistOutputs(taskID, logger)
}

// acquireInfo populates title, duration, and uploader for the source.
func (r *Runner) acquireInfo(ctx context.Context, taskID string, logger *slog.Logger) error {
	r.setStage(taskID, StageAcquiringInfo, "fetching source metadata", progressInfo)

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}

	var info domain.MediaInfo
	switch task.Kind {
	case domain.SourceKindUpload:
		name := strings.TrimSuffix(task.OriginalFilename, filepath.Ext(task.OriginalFilename))
		if strings.TrimSpace(name) == "" {
			name = "untitled"
		}
		info = domain.MediaInfo{Title: name, Uploader: "upload"}
		if task.AudioFilePath != "" {
			if d, probeErr := r.audio.Probe(ctx, task.AudioFilePath); probeErr == nil {
				info.DurationSeconds = d
			}
		}
	default:
		info, err = r.acquirer.GetInfo(ctx, task.URL)
		if err != nil {
			return stageErr(StageAcquiringInfo, acquireFailureMessage(err), err)
		}
	}

	logger.Info("source metadata acquired", "title", info.Title, "duration_s", info.DurationSeconds)
	return r.tasks.Update(taskID, func(t *domain.Task) {
		t.Title = info.Title
		t.DurationSeconds = info.DurationSeconds
		t.Uploader = info.Uploader
	})
}

// acquireAudio downloads remote audio, or extracts audio from an uploaded
// video and deletes the original to reclaim space.
func (r *Runner) acquireAudio(ctx context.Context, taskID string, logger *slog.Logger) error {
	r.setStage(taskID, StageAcquiringAudio, "preparing source audio", progressAudio)

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}

	switch task.Kind {
	case domain.SourceKindUpload:
		if task.AudioFilePath == "" {
			return stageErr(StageAcquiringAudio, "uploaded file is missing", nil)
		}
		if task.MediaKind != domain.MediaKindVideo {
			return nil
		}

		workDir, err := r.artifacts.TaskWorkingDir(taskID)
		if err != nil {
			return stageErr(StageAcquiringAudio, "cannot allocate working directory", err)
		}
		audioPath := filepath.Join(workDir, "extracted-audio.wav")
		if err := r.audio.ExtractAudio(ctx, task.AudioFilePath, audioPath); err != nil {
			return stageErr(StageAcquiringAudio, "audio extraction failed", err)
		}
		if err := r.removeUpload(task.AudioFilePath); err != nil {
			logger.Warn("original video removal failed", "path", task.AudioFilePath, "err", err)
		}
		r.artifacts.Register(taskID, []string{audioPath}, true)
		return r.tasks.Update(taskID, func(t *domain.Task) {
			t.AudioFilePath = audioPath
		})

	default:
		audioPath, err := r.acquirer.FetchAudio(ctx, task.URL, taskID)
		if err != nil {
			return stageErr(StageAcquiringAudio, acquireFailureMessage(err), err)
		}
		r.artifacts.Register(taskID, []string{audioPath}, true)
		return r.tasks.Update(taskID, func(t *domain.Task) {
			t.AudioFilePath = audioPath
		})
	}
}

// prepareAudio probes duration and produces the normalized segment files.
// Short media becomes a single whole-file segment.
func (r *Runner) prepareAudio(ctx context.Context, taskID string, logger *slog.Logger) ([]domain.Segment, error) {
	r.setStage(taskID, StagePreparingAudio, "probing and segmenting audio", progressAudio)

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	duration, err := r.audio.Probe(ctx, task.AudioFilePath)
	if err != nil {
		return nil, stageErr(StagePreparingAudio, "cannot determine audio duration", err)
	}

	workDir, err := r.artifacts.TaskWorkingDir(taskID)
	if err != nil {
		return nil, stageErr(StagePreparingAudio, "cannot allocate working directory", err)
	}

	var segments []domain.Segment
	if duration <= r.cfg.LongAudioThreshold {
		outPath := filepath.Join(workDir, "segment-000.wav")
		if err := r.audio.ExtractAudio(ctx, task.AudioFilePath, outPath); err != nil {
			return nil, stageErr(StagePreparingAudio, "audio normalization failed", err)
		}
		segments = []domain.Segment{{Path: outPath, Start: 0, End: duration, Index: 0}}
	} else {
		segments = media.PlanSegments(duration, r.cfg.SegmentDuration)
		for i := range segments {
			if err := r.checkCancelled(taskID); err != nil {
				return nil, err
			}
			outPath := filepath.Join(workDir, fmt.Sprintf("segment-%03d.wav", segments[i].Index))
			window := segments[i].End - segments[i].Start
			if err := r.audio.Slice(ctx, task.AudioFilePath, outPath, segments[i].Start, window); err != nil {
				return nil, stageErr(StagePreparingAudio,
					fmt.Sprintf("segment %d re-encode failed", segments[i].Index), err)
			}
			segments[i].Path = outPath
		}
	}

	paths := make([]string, 0, len(segments))
	for _, seg := range segments {
		paths = append(paths, seg.Path)
	}
	r.artifacts.Register(taskID, paths, true)

	logger.Info("audio prepared", "duration_s", duration, "segments", len(segments))
	err = r.tasks.Update(taskID, func(t *domain.Task) {
		t.DurationSeconds = duration
		t.TotalSegments = len(segments)
		t.ProcessedSegments = 0
		if progressPrepared > t.Progress {
			t.Progress = progressPrepared
		}
	})
	return segments, err
}

// complete marks the task done, publishes the result, and prunes aged
// artifacts so old input audio does not accumulate.
func (r *Runner) complete(taskID string, logger *slog.Logger) {
	_ = r.tasks.Update(taskID, func(t *domain.Task) {
		t.Progress = progressDone
		t.Stage = StageDone
		t.StageDetail = ""
	})
	if err := r.tasks.Transition(taskID, domain.TaskStatusCompleted); err != nil {
		logger.Error("completion transition failed", "err", err)
	}
	r.publishStatus(taskID, domain.TaskStatusCompleted, StageDone, progressDone, "task completed")
	r.artifacts.PruneExcess()
	logger.Info("task completed")
}

// fail marks the task failed. Cancellation resets progress to zero; other
// failures keep the last progress value.
func (r *Runner) fail(taskID string, cause error, cancelled bool) {
	_ = r.tasks.Update(taskID, func(t *domain.Task) {
		if t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed {
			return
		}
		t.ErrorMessage = cause.Error()
		if cancelled {
			t.Progress = 0
		}
	})
	task, err := r.tasks.Get(taskID)
	if err != nil || task.IsDone() {
		return
	}
	if err := r.tasks.Transition(taskID, domain.TaskStatusFailed); err != nil {
		r.logger.Error("failure transition failed", "task_id", taskID, "err", err)
	}
	r.publish(events.Event{
		TaskID:  taskID,
		Type:    events.EventTypeError,
		Status:  domain.TaskStatusFailed,
		Message: cause.Error(),
	})
	r.artifacts.PruneExcess()
}

// checkCancelled returns errCancelled when the task's flag is set.
func (r *Runner) checkCancelled(taskID string) error {
	if r.tasks.Cancelled(taskID) {
		return errCancelled
	}
	return nil
}

// setStage records the stage label and monotone progress on the task.
func (r *Runner) setStage(taskID, stage, detail string, progress int) {
	_ = r.tasks.Update(taskID, func(t *domain.Task) {
		t.Stage = stage
		t.StageDetail = detail
		if progress > t.Progress {
			t.Progress = progress
		}
	})
	r.publish(events.Event{
		TaskID:   taskID,
		Type:     events.EventTypeProgress,
		Stage:    stage,
		Progress: progress,
		Message:  detail,
	})
}

// publishStatus emits a status event for subscribers.
func (r *Runner) publishStatus(taskID string, status domain.TaskStatus, stage string, progress int, message string) {
	r.publish(events.Event{
		TaskID:   taskID,
		Type:     events.EventTypeStatus,
		Status:   status,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}

// progressEvent builds a progress event payload.
func progressEvent(taskID, stage string, progress int, message string) events.Event {
	return events.Event{
		TaskID:   taskID,
		Type:     events.EventTypeProgress,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	}
}

// publish forwards an event when a bus is configured.
func (r *Runner) publish(event events.Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}

// acquireFailureMessage maps classified acquisition errors onto user-facing
// text distinguishing unavailable links from other failures.
func acquireFailureMessage(err error) string {
	switch {
	case errors.Is(err, media.ErrAuthRequired):
		return "source requires authentication"
	case errors.Is(err, media.ErrNotFound), errors.Is(err, media.ErrSourceUnavailable):
		return "link unavailable or unsupported"
	default:
		return fmt.Sprintf("media acquisition failed: %v", err)
	}
}
