package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries for duration probing, audio
// extraction, and segment slicing.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
}

// NewFFmpeg builds the production adapter with OS process execution.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &ExecRunner{},
	}
}

// Probe returns the media duration in seconds via ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	result, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}

	raw := strings.TrimSpace(result.Stdout)
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q", raw)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("ffprobe returned non-positive duration %v", duration)
	}
	return duration, nil
}

// ExtractAudio strips the audio track from a video file into a normalized
// mono 16kHz PCM WAV.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	args := append([]string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
	}, normalizeArgs(outPath)...)

	if _, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg audio extraction: %w", err)
	}
	return nil
}

// Slice re-encodes one fixed-length window of src into a normalized
// waveform at outPath.
func (f *FFmpeg) Slice(ctx context.Context, src, outPath string, start, duration float64) error {
	args := append([]string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", src,
	}, normalizeArgs(outPath)...)

	if _, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg segment slice [%s+%s]: %w", formatSeconds(start), formatSeconds(duration), err)
	}
	return nil
}

// normalizeArgs builds the shared mono 16k PCM output arguments.
func normalizeArgs(outPath string) []string {
	return []string{
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// formatSeconds renders a float seconds value for ffmpeg CLI args.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// NewFFmpegForTests constructs the adapter with an injected runner.
func NewFFmpegForTests(ffmpegPath, ffprobePath string, runner CommandRunner) *FFmpeg {
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}
