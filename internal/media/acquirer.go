// Package media defines the acquisition contract for remote and uploaded
// sources and the ffmpeg adapter used for probing, extraction, and
// segment slicing.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"mediascribe/internal/domain"
)

// Classified acquisition errors. The pipeline maps these to user-facing
// failure messages without inspecting provider internals.
var (
	ErrSourceUnavailable = errors.New("source unavailable or unsupported")
	ErrAuthRequired      = errors.New("source requires authentication")
	ErrNotFound          = errors.New("source not found")
)

// Acquirer turns a source descriptor into a local audio file plus metadata.
type Acquirer interface {
	GetInfo(ctx context.Context, source string) (domain.MediaInfo, error)
	FetchAudio(ctx context.Context, source, taskID string) (string, error)
}

// CommandAcquirer shells out to yt-dlp for remote sources.
type CommandAcquirer struct {
	ytdlpPath string
	workDir   func(taskID string) (string, error)
	runner    CommandRunner
}

// NewCommandAcquirer builds an acquirer using the given yt-dlp binary and a
// per-task working directory allocator.
func NewCommandAcquirer(ytdlpPath string, workDir func(taskID string) (string, error)) *CommandAcquirer {
	return &CommandAcquirer{
		ytdlpPath: ytdlpPath,
		workDir:   workDir,
		runner:    &ExecRunner{},
	}
}

// ytdlpInfo is the subset of yt-dlp's JSON dump the pipeline consumes.
type ytdlpInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
}

// GetInfo fetches title, duration, and uploader without downloading media.
// Missing optional fields come back as safe defaults, never as errors.
func (a *CommandAcquirer) GetInfo(ctx context.Context, source string) (domain.MediaInfo, error) {
	result, err := a.runner.Run(ctx, a.ytdlpPath, "--dump-json", "--no-download", source)
	if err != nil {
		return domain.MediaInfo{}, classifyAcquireError(result.Stderr, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: unreadable metadata", ErrSourceUnavailable)
	}

	out := domain.MediaInfo{
		Title:           strings.TrimSpace(info.Title),
		DurationSeconds: info.Duration,
		Uploader:        strings.TrimSpace(info.Uploader),
	}
	if out.Title == "" {
		out.Title = "untitled"
	}
	if out.Uploader == "" {
		out.Uploader = "unknown"
	}
	return out, nil
}

// FetchAudio downloads the best audio stream into the task's working
// directory and returns the local file path.
func (a *CommandAcquirer) FetchAudio(ctx context.Context, source, taskID string) (string, error) {
	dir, err := a.workDir(taskID)
	if err != nil {
		return "", fmt.Errorf("allocate working directory: %w", err)
	}

	outPath := filepath.Join(dir, "source-audio.m4a")
	args := []string{
		"--no-playlist",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "m4a",
		"-o", outPath,
		source,
	}
	result, err := a.runner.Run(ctx, a.ytdlpPath, args...)
	if err != nil {
		return "", classifyAcquireError(result.Stderr, err)
	}
	return outPath, nil
}

// classifyAcquireError maps provider stderr chatter onto the sentinel error
// taxonomy so callers can branch on cause.
func classifyAcquireError(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "sign in") || strings.Contains(lower, "login") ||
		strings.Contains(lower, "authentication") || strings.Contains(lower, "private video"):
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist") || strings.Contains(lower, "unavailable"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(lower, "unsupported url"):
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	default:
		return fmt.Errorf("acquire media: %w", err)
	}
}

// NewCommandAcquirerForTests constructs an acquirer with an injected runner.
func NewCommandAcquirerForTests(ytdlpPath string, workDir func(taskID string) (string, error), runner CommandRunner) *CommandAcquirer {
	return &CommandAcquirer{ytdlpPath: ytdlpPath, workDir: workDir, runner: runner}
}
