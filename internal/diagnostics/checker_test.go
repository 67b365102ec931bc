package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mediascribe/internal/config"
	"mediascribe/internal/domain"
)

// testConfig builds a config whose paths live under a temp root.
func testConfig(t *testing.T, modelPath string) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Tools.WhisperModel = modelPath
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.OutputDir = filepath.Join(root, "output")
	cfg.Paths.TempDir = filepath.Join(root, "tmp")
	return cfg
}

// TestCheckerRunAllPass validates the happy-path report.
func TestCheckerRunAllPass(t *testing.T) {
	modelDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(testConfig(t, modelDir))
	if report.HasFailures {
		t.Fatalf("unexpected failures: %+v", report.Items)
	}
	if len(report.Items) != 8 {
		t.Fatalf("items = %d, want 8", len(report.Items))
	}
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("item %s = %s: %s", item.ID, item.Status, item.Message)
		}
	}
}

// TestCheckerMissingTools reports PATH lookup failures without aborting.
func TestCheckerMissingTools(t *testing.T) {
	modelDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modelDir, "model.gguf"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(testConfig(t, modelDir))
	if !report.HasFailures {
		t.Fatal("expected failures for missing tools")
	}
	failed := 0
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			failed++
			if item.Hint == "" {
				t.Fatalf("failed item %s has no hint", item.ID)
			}
		}
	}
	if failed != 4 {
		t.Fatalf("failed items = %d, want the 4 tools", failed)
	}
}

// TestCheckerExplicitToolPath validates stat-based resolution for absolute
// tool paths.
func TestCheckerExplicitToolPath(t *testing.T) {
	root := t.TempDir()
	ffmpeg := filepath.Join(root, "bin", "ffmpeg")
	if err := os.MkdirAll(filepath.Dir(ffmpeg), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "", errors.New("PATH lookup should not happen") },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	item := checker.checkTool("ffmpeg", ffmpeg)
	if item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("explicit path check = %s: %s", item.Status, item.Message)
	}

	missing := checker.checkTool("ffmpeg", filepath.Join(root, "bin", "absent"))
	if missing.Status != domain.DiagnosticStatusFail {
		t.Fatal("missing explicit path should fail")
	}
}

// TestCheckerModelPath covers file, valid directory, and empty directory.
func TestCheckerModelPath(t *testing.T) {
	checker := NewChecker()

	root := t.TempDir()
	modelFile := filepath.Join(root, "ggml-tiny.bin")
	if err := os.WriteFile(modelFile, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if item := checker.checkModelPath(modelFile); item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("model file check = %s: %s", item.Status, item.Message)
	}
	if item := checker.checkModelPath(root); item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("model dir check = %s: %s", item.Status, item.Message)
	}
	if item := checker.checkModelPath(t.TempDir()); item.Status != domain.DiagnosticStatusFail {
		t.Fatal("empty model dir should fail")
	}
	if item := checker.checkModelPath(""); item.Status != domain.DiagnosticStatusFail {
		t.Fatal("empty model path should fail")
	}
	if item := checker.checkModelPath(filepath.Join(root, "nope.bin")); item.Status != domain.DiagnosticStatusFail {
		t.Fatal("missing model path should fail")
	}
}

// TestCheckerUnwritableDir reports directories that reject writes.
func TestCheckerUnwritableDir(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		func(dir, pattern string) (*os.File, error) { return nil, errors.New("read-only fs") },
		os.Remove,
	)

	item := checker.checkWritableDir("output_dir", t.TempDir())
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("unwritable dir check = %s, want fail", item.Status)
	}
}
