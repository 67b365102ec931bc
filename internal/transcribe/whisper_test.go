package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mediascribe/internal/media"
)

// fakeRunner simulates whisper.cpp invocations.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (media.CommandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	if f.run == nil {
		return media.CommandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// argValue returns the value following flag in args, or empty.
func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether flag appears in args.
func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// mustWriteFile writes a small file, failing the test on error.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// newTestWhisper wires a Whisper against real OS temp dirs and an injected
// runner.
func newTestWhisper(modelPath, language string, runner media.CommandRunner) *Whisper {
	return NewWhisperForTests(
		"whisper-bin", modelPath, language,
		runner,
		os.MkdirTemp, os.RemoveAll, os.Stat, os.ReadDir, os.ReadFile,
	)
}

// TestTranscribeSuccessAutoLanguage checks the happy path and that auto
// language passes no -l flag.
func TestTranscribeSuccessAutoLanguage(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "ggml-base.bin")
	mustWriteFile(t, modelPath, "model")

	var gotArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			if name != "whisper-bin" {
				t.Fatalf("command = %q, want whisper-bin", name)
			}
			gotArgs = append([]string{}, args...)
			mustWriteFile(t, argValue(args, "-of")+".txt", "  hello world \n")
			return media.CommandResult{Stderr: "whisper_init: auto-detected language: en (p = 0.97)"}, nil
		},
	}

	w := newTestWhisper(modelPath, "auto", runner)
	speech, err := w.Transcribe(context.Background(), "/in/segment-000.wav")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if speech.Text != "hello world" {
		t.Fatalf("text = %q, want %q", speech.Text, "hello world")
	}
	if speech.Language != "en" {
		t.Fatalf("language = %q, want en", speech.Language)
	}
	if argValue(gotArgs, "-m") != modelPath {
		t.Fatalf("-m = %q, want %q", argValue(gotArgs, "-m"), modelPath)
	}
	if argValue(gotArgs, "-f") != "/in/segment-000.wav" {
		t.Fatalf("-f = %q", argValue(gotArgs, "-f"))
	}
	if !hasArg(gotArgs, "-otxt") {
		t.Fatalf("missing -otxt, args = %v", gotArgs)
	}
	if hasArg(gotArgs, "-l") {
		t.Fatalf("auto language should not pass -l, args = %v", gotArgs)
	}
}

// TestTranscribeExplicitLanguage checks the -l flag is forwarded.
func TestTranscribeExplicitLanguage(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "model.bin")
	mustWriteFile(t, modelPath, "model")

	var gotArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			gotArgs = append([]string{}, args...)
			mustWriteFile(t, argValue(args, "-of")+".txt", "bonjour")
			return media.CommandResult{}, nil
		},
	}

	w := newTestWhisper(modelPath, "fr", runner)
	if _, err := w.Transcribe(context.Background(), "/in/a.wav"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if argValue(gotArgs, "-l") != "fr" {
		t.Fatalf("-l = %q, want fr", argValue(gotArgs, "-l"))
	}
}

// TestTranscribeRunnerFailure checks command errors propagate.
func TestTranscribeRunnerFailure(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "model.bin")
	mustWriteFile(t, modelPath, "model")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			return media.CommandResult{ExitCode: 3}, errors.New("exit status 3")
		},
	}

	w := newTestWhisper(modelPath, "auto", runner)
	if _, err := w.Transcribe(context.Background(), "/in/a.wav"); err == nil {
		t.Fatal("expected error")
	}
}

// TestTranscribeMissingTranscriptFile checks the post-run file check.
func TestTranscribeMissingTranscriptFile(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "model.bin")
	mustWriteFile(t, modelPath, "model")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			return media.CommandResult{}, nil
		},
	}

	w := newTestWhisper(modelPath, "auto", runner)
	if _, err := w.Transcribe(context.Background(), "/in/a.wav"); err == nil {
		t.Fatal("expected missing transcript error")
	}
}

// TestResolveModelPathDirectory checks the first model file in a directory
// wins, in lexical order.
func TestResolveModelPathDirectory(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "readme.txt"), "x")
	mustWriteFile(t, filepath.Join(dir, "b-model.gguf"), "x")
	mustWriteFile(t, filepath.Join(dir, "a-model.bin"), "x")

	w := newTestWhisper(dir, "auto", &fakeRunner{})
	got, err := w.resolveModelPath()
	if err != nil {
		t.Fatalf("resolveModelPath() error = %v", err)
	}
	if got != filepath.Join(dir, "a-model.bin") {
		t.Fatalf("model = %q, want a-model.bin", got)
	}
}

// TestResolveModelPathEmptyDirectory checks the no-models error.
func TestResolveModelPathEmptyDirectory(t *testing.T) {
	w := newTestWhisper(t.TempDir(), "auto", &fakeRunner{})
	if _, err := w.resolveModelPath(); err == nil {
		t.Fatal("expected error for directory without models")
	}
}

// TestDetectLanguage checks stderr parsing variants.
func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		stderr string
		want   string
	}{
		{stderr: "whisper_init: auto-detected language: en (p = 0.95)", want: "en"},
		{stderr: "noise\nDetected language: ru\nmore", want: "ru"},
		{stderr: "no language line here", want: ""},
		{stderr: "", want: ""},
	}

	for _, tt := range tests {
		if got := detectLanguage(tt.stderr); got != tt.want {
			t.Fatalf("detectLanguage(%q) = %q, want %q", tt.stderr, got, tt.want)
		}
	}
}
