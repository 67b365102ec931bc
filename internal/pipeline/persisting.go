package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// persistOutputs writes transcript, summary, and analysis artifacts plus a
// full task snapshot into the per-task output directory. Filenames derive
// from the sanitized title with degraded fallbacks on write failure.
func (r *Runner) persistOutputs(taskID string, logger *slog.Logger) error {
	r.setStage(taskID, StagePersisting, "writing output artifacts", progressSynth)

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}

	outDir, err := r.artifacts.TaskOutputDir(taskID)
	if err != nil {
		return stageErr(StagePersisting, "cannot create output directory", err)
	}

	base := sanitizeTitle(task.Title)
	if base == "" {
		base = fallbackBase(taskID)
	}

	if err := writeWithFallback(outDir, base, "transcript.txt", []byte(task.Transcript), fallbackBase(taskID), logger); err != nil {
		return stageErr(StagePersisting, "cannot write transcript", err)
	}
	if len(task.Summary) > 0 {
		data := renderSummary(task.Summary)
		if err := writeWithFallback(outDir, base, "summary.md", data, fallbackBase(taskID), logger); err != nil {
			logger.Warn("summary artifact write failed", "err", err)
		}
	}
	if len(task.Analysis) > 0 {
		data, err := json.MarshalIndent(task.Analysis, "", "  ")
		if err == nil {
			if err := writeWithFallback(outDir, base, "analysis.json", data, fallbackBase(taskID), logger); err != nil {
				logger.Warn("analysis artifact write failed", "err", err)
			}
		}
	}

	snapshot, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return stageErr(StagePersisting, "cannot encode task snapshot", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "task.json"), snapshot, 0o644); err != nil {
		return stageErr(StagePersisting, "cannot write task snapshot", err)
	}

	logger.Info("outputs persisted", "dir", outDir, "base", base)
	return nil
}

// writeWithFallback writes <base>-<suffix>, retrying once under a degraded
// filename when the primary write fails.
func writeWithFallback(dir, base, suffix string, data []byte, fallback string, logger *slog.Logger) error {
	primary := filepath.Join(dir, base+"-"+suffix)
	err := os.WriteFile(primary, data, 0o644)
	if err == nil {
		return nil
	}
	logger.Warn("primary artifact name failed, using fallback", "path", primary, "err", err)

	degraded := filepath.Join(dir, fallback+"-"+suffix)
	if err := os.WriteFile(degraded, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", degraded, err)
	}
	return nil
}

// renderSummary lays the named sections out as a small markdown document.
func renderSummary(summary map[string]string) []byte {
	var sb strings.Builder
	for _, section := range orderedSections(summary) {
		sb.WriteString("## ")
		sb.WriteString(section)
		sb.WriteString("\n\n")
		sb.WriteString(summary[section])
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

// orderedSections returns section names sorted for stable output.
func orderedSections(summary map[string]string) []string {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// sanitizeTitle reduces a media title to a safe filename stem. Returns ""
// when nothing usable survives.
func sanitizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}

// fallbackBase derives a degraded filename stem from the task id.
func fallbackBase(taskID string) string {
	if len(taskID) >= 8 {
		return "task-" + taskID[:8]
	}
	return "task-output"
}
