// Package transcribe defines the speech recognition contract and the
// whisper.cpp adapter that fulfils it locally.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mediascribe/internal/domain"
	"mediascribe/internal/media"
)

// Transcriber converts one audio file into recognized text. Results may be
// empty or short; callers enforce minimum length and retry policy.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (domain.Speech, error)
}

// Whisper runs whisper.cpp against a local model file.
type Whisper struct {
	binaryPath string
	modelPath  string
	language   string
	runner     media.CommandRunner
	stat       func(name string) (os.FileInfo, error)
	readDir    func(name string) ([]os.DirEntry, error)
	readFile   func(name string) ([]byte, error)
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
}

// NewWhisper builds the production transcriber with OS dependencies.
func NewWhisper(binaryPath, modelPath, language string) *Whisper {
	return &Whisper{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   language,
		runner:     &media.ExecRunner{},
		stat:       os.Stat,
		readDir:    os.ReadDir,
		readFile:   os.ReadFile,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
}

// Transcribe runs whisper.cpp on audioPath and returns the recognized text
// plus the detected language when the tool reports one.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (domain.Speech, error) {
	modelPath, err := w.resolveModelPath()
	if err != nil {
		return domain.Speech{}, err
	}

	tempDir, err := w.mkdirTemp("", "mediascribe-whisper-*")
	if err != nil {
		return domain.Speech{}, fmt.Errorf("create whisper workspace: %w", err)
	}
	defer func() { _ = w.removeAll(tempDir) }()

	textBase := filepath.Join(tempDir, "segment")
	args := buildWhisperArgs(modelPath, audioPath, textBase, w.language)

	result, runErr := w.runner.Run(ctx, w.binaryPath, args...)
	if runErr != nil {
		return domain.Speech{}, fmt.Errorf("whisper.cpp failed (exit=%d): %w", result.ExitCode, runErr)
	}

	content, err := w.readFile(textBase + ".txt")
	if err != nil {
		return domain.Speech{}, fmt.Errorf("whisper.cpp completed but transcript file is missing: %w", err)
	}

	return domain.Speech{
		Text:     strings.TrimSpace(string(content)),
		Language: detectLanguage(result.Stderr),
	}, nil
}

// resolveModelPath returns the model file from a file or directory input,
// preferring the lexicographically first .bin or .gguf file.
func (w *Whisper) resolveModelPath() (string, error) {
	modelPath := strings.TrimSpace(w.modelPath)
	if modelPath == "" {
		return "", fmt.Errorf("whisper model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access whisper model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read whisper model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// detectLanguage extracts the auto-detected language whisper.cpp prints on
// stderr, e.g. "auto-detected language: en". Empty when not reported.
func detectLanguage(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		lower := strings.ToLower(line)
		idx := strings.Index(lower, "detected language:")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len("detected language:"):])
		if fields := strings.Fields(rest); len(fields) > 0 {
			return strings.Trim(fields[0], "(),.")
		}
	}
	return ""
}

// NewWhisperForTests constructs a transcriber with injected dependencies.
func NewWhisperForTests(
	binaryPath string,
	modelPath string,
	language string,
	runner media.CommandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
	readDir func(name string) ([]os.DirEntry, error),
	readFile func(name string) ([]byte, error),
) *Whisper {
	return &Whisper{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   language,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		stat:       stat,
		readDir:    readDir,
		readFile:   readFile,
	}
}
