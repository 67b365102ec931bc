package pipeline

import (
	"context"
	"log/slog"
	"time"

	"mediascribe/internal/domain"
	"mediascribe/internal/synth"
)

// synthesize runs the optional text-synthesis stage: transcript rewrite,
// named summary sections, and a structured analysis. Every sub-step is
// best-effort; nothing here can fail the task. When no provider is
// configured the stage is skipped and the raw transcript stands.
func (r *Runner) synthesize(ctx context.Context, taskID string, logger *slog.Logger) {
	if r.registry == nil || r.registry.Empty() {
		logger.Info("no synthesis provider configured, keeping raw transcript")
		return
	}
	provider, ok := r.registry.Get(r.provider)
	if !ok {
		logger.Warn("configured synthesis provider not registered, skipping stage", "provider", r.provider)
		return
	}

	r.setStage(taskID, StageSynthesizing, "synthesizing derived texts", progressTranscribeEnd)

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return
	}
	transcript := task.Transcript

	started := time.Now()
	rewritten, err := provider.Rewrite(ctx, transcript)
	logger.Info("transcript rewrite finished", "duration", time.Since(started), "ok", err == nil)
	if err != nil {
		logger.Warn("transcript rewrite failed, keeping raw transcript", "err", err)
	} else if rewritten != "" {
		transcript = rewritten
	}

	started = time.Now()
	summary := make(map[string]string, len(synth.SummarySections))
	for _, section := range synth.SummarySections {
		text, err := provider.SummarizeSection(ctx, section, transcript)
		if err != nil {
			logger.Warn("summary section failed", "section", section, "err", err)
			summary[section] = synth.SectionPlaceholder
			continue
		}
		summary[section] = text
	}
	logger.Info("summary finished", "duration", time.Since(started), "sections", len(summary))

	started = time.Now()
	var analysis map[string]any
	raw, err := provider.Analyze(ctx, transcript)
	if err != nil {
		logger.Warn("content analysis failed", "err", err)
		analysis = map[string]any{"error": err.Error()}
	} else {
		analysis = synth.ParseAnalysis(raw)
	}
	logger.Info("analysis finished", "duration", time.Since(started))

	_ = r.tasks.Update(taskID, func(t *domain.Task) {
		t.Transcript = transcript
		t.Summary = summary
		t.Analysis = analysis
		if progressSynth > t.Progress {
			t.Progress = progressSynth
		}
	})
}
