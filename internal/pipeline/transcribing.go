package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mediascribe/internal/domain"
)

// transcribeAll converts the prepared segments into a merged transcript.
// Short media (a single segment) uses a bounded retry loop; long media
// walks segments in index order under a consecutive-failure budget.
func (r *Runner) transcribeAll(ctx context.Context, taskID string, segments []domain.Segment, logger *slog.Logger) (string, string, error) {
	r.setStage(taskID, StageTranscribing, "recognizing speech", progressTranscribeStart)

	if len(segments) == 0 {
		return "", "", stageErr(StageTranscribing, "no audio segments to transcribe", nil)
	}
	if len(segments) == 1 {
		return r.transcribeShort(ctx, taskID, segments[0], logger)
	}
	return r.transcribeLong(ctx, taskID, segments, logger)
}

// transcribeShort retries the single segment up to the configured budget.
// Results shorter than the minimum valid length count as failed attempts.
func (r *Runner) transcribeShort(ctx context.Context, taskID string, segment domain.Segment, logger *slog.Logger) (string, string, error) {
	retries := r.cfg.ShortAudioMaxRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := r.checkCancelled(taskID); err != nil {
			return "", "", err
		}

		speech, err := r.transcriber.Transcribe(ctx, segment.Path)
		text := strings.TrimSpace(speech.Text)
		if err == nil && len(text) >= minValidTextLen {
			r.markSegmentsProcessed(taskID, 1, 1)
			return text, languageOrUnknown(speech.Language), nil
		}

		if err != nil {
			lastErr = err
			logger.Warn("short transcription attempt failed", "attempt", attempt, "err", err)
		} else {
			lastErr = fmt.Errorf("result too short (%d chars)", len(text))
			logger.Warn("short transcription attempt produced invalid text", "attempt", attempt, "chars", len(text))
		}
		if attempt < retries {
			r.sleep(r.cfg.RetrySleepLong)
		}
	}

	return "", "", stageErr(StageTranscribing,
		fmt.Sprintf("transcription produced no usable text after %d attempts", retries), lastErr)
}

// transcribeLong walks segments strictly in index order. Each failed attempt
// increments a consecutive-failure counter and retries the same segment
// after a long sleep; a success resets the counter and moves on after a
// short courtesy sleep. Reaching the budget abandons the remaining segments
// and the transcript degrades to the successes gathered so far. Only zero
// successes fails the task.
func (r *Runner) transcribeLong(ctx context.Context, taskID string, segments []domain.Segment, logger *slog.Logger) (string, string, error) {
	var (
		texts               []string
		language            string
		consecutiveFailures int
		resolved            int
		lastErr             error
	)

	total := len(segments)
	budget := r.cfg.MaxConsecutiveFailures
	if budget <= 0 {
		budget = 1
	}

segments:
	for _, segment := range segments {
		for {
			if err := r.checkCancelled(taskID); err != nil {
				return "", "", err
			}

			speech, err := r.transcriber.Transcribe(ctx, segment.Path)
			text := strings.TrimSpace(speech.Text)
			if err == nil && len(text) >= minValidTextLen {
				consecutiveFailures = 0
				texts = append(texts, text)
				if language == "" {
					language = strings.TrimSpace(speech.Language)
				}
				resolved++
				r.markSegmentsProcessed(taskID, resolved, total)
				r.sleep(r.cfg.RetrySleepShort)
				continue segments
			}

			consecutiveFailures++
			if err != nil {
				lastErr = err
			} else {
				lastErr = fmt.Errorf("segment %d result too short (%d chars)", segment.Index, len(text))
			}
			logger.Warn("segment transcription failed",
				"segment", segment.Index,
				"consecutive_failures", consecutiveFailures,
				"err", lastErr)

			if consecutiveFailures >= budget {
				logger.Warn("consecutive-failure budget reached, abandoning remaining segments",
					"segment", segment.Index, "resolved", resolved, "total", total)
				break segments
			}
			r.sleep(r.cfg.RetrySleepLong)
		}
	}

	if len(texts) == 0 {
		return "", "", stageErr(StageTranscribing, "every audio segment failed to transcribe", lastErr)
	}
	return strings.Join(texts, " "), languageOrUnknown(language), nil
}

// markSegmentsProcessed updates segment counters and interpolates progress
// linearly across the transcribing stage.
func (r *Runner) markSegmentsProcessed(taskID string, resolved, total int) {
	progress := progressTranscribeStart
	if total > 0 {
		span := progressTranscribeEnd - progressTranscribeStart
		progress = progressTranscribeStart + span*resolved/total
	}
	_ = r.tasks.Update(taskID, func(t *domain.Task) {
		t.ProcessedSegments = resolved
		if progress > t.Progress {
			t.Progress = progress
		}
	})
	r.publish(progressEvent(taskID, StageTranscribing, progress,
		fmt.Sprintf("transcribed %d/%d segments", resolved, total)))
}

// languageOrUnknown defaults an unreported language tag.
func languageOrUnknown(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "unknown"
	}
	return lang
}
