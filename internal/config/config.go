// Package config provides hierarchical configuration loading.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Server   Server   `yaml:"server"`
	NATS     NATS     `yaml:"nats"`
	Paths    Paths    `yaml:"paths"`
	Tools    Tools    `yaml:"tools"`
	Pipeline Pipeline `yaml:"pipeline"`
	Synth    Synth    `yaml:"synth"`
	Logging  Logging  `yaml:"logging"`
}

// Server holds HTTP listener configuration.
type Server struct {
	Addr string `yaml:"addr"`
}

// NATS holds the optional event-mirroring broker configuration.
// An empty URL disables NATS publishing entirely.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Paths holds the on-disk roots the service owns.
type Paths struct {
	DataDir   string `yaml:"data_dir"`   // task snapshot lives here
	OutputDir string `yaml:"output_dir"` // durable per-task outputs
	TempDir   string `yaml:"temp_dir"`   // per-task working directories
}

// Tools holds external binary locations and the whisper model path.
type Tools struct {
	FFmpeg       string `yaml:"ffmpeg"`
	FFprobe      string `yaml:"ffprobe"`
	Whisper      string `yaml:"whisper"`
	WhisperModel string `yaml:"whisper_model"`
	YtDlp        string `yaml:"ytdlp"`
}

// Pipeline holds stage sequencing and retry tunables.
type Pipeline struct {
	MaxWorkers             int           `yaml:"max_workers"`
	LongAudioThreshold     float64       `yaml:"long_audio_threshold"` // seconds
	SegmentDuration        float64       `yaml:"segment_duration"`     // seconds
	ShortAudioMaxRetries   int           `yaml:"short_audio_max_retries"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	RetrySleepShort        time.Duration `yaml:"retry_sleep_short"`
	RetrySleepLong         time.Duration `yaml:"retry_sleep_long"`
	RetentionTasks         int           `yaml:"retention_tasks"`
	RetentionMinAge        time.Duration `yaml:"retention_min_age"`
}

// Synth selects the text-synthesis provider. Empty means the synthesizing
// stage is skipped and raw transcripts are final.
type Synth struct {
	Provider string `yaml:"provider"`
}

// Logging holds log output configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8466"},
		NATS:   NATS{Subject: "mediascribe.tasks"},
		Paths: Paths{
			DataDir:   "./data",
			OutputDir: "./data/outputs",
			TempDir:   "./data/tmp",
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Whisper: "whisper.cpp",
			YtDlp:   "yt-dlp",
		},
		Pipeline: Pipeline{
			MaxWorkers:             4,
			LongAudioThreshold:     600,
			SegmentDuration:        300,
			ShortAudioMaxRetries:   3,
			MaxConsecutiveFailures: 3,
			RetrySleepShort:        time.Second,
			RetrySleepLong:         6 * time.Second,
			RetentionTasks:         3,
			RetentionMinAge:        10 * time.Minute,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SnapshotPath returns the task snapshot location under the data dir.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.Paths.DataDir, "tasks.json")
}

// validate rejects tunables that would break stage sequencing.
func (c Config) validate() error {
	if c.Pipeline.SegmentDuration <= 0 {
		return fmt.Errorf("pipeline.segment_duration must be positive (got %v)", c.Pipeline.SegmentDuration)
	}
	if c.Pipeline.LongAudioThreshold <= 0 {
		return fmt.Errorf("pipeline.long_audio_threshold must be positive (got %v)", c.Pipeline.LongAudioThreshold)
	}
	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("pipeline.max_workers must be positive (got %d)", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.RetentionTasks <= 0 {
		return fmt.Errorf("pipeline.retention_tasks must be positive (got %d)", c.Pipeline.RetentionTasks)
	}
	return nil
}

// applyEnv overlays MEDIASCRIBE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "MEDIASCRIBE_ADDR")
	setString(&cfg.NATS.URL, "MEDIASCRIBE_NATS_URL")
	setString(&cfg.NATS.Subject, "MEDIASCRIBE_NATS_SUBJECT")
	setString(&cfg.Paths.DataDir, "MEDIASCRIBE_DATA_DIR")
	setString(&cfg.Paths.OutputDir, "MEDIASCRIBE_OUTPUT_DIR")
	setString(&cfg.Paths.TempDir, "MEDIASCRIBE_TEMP_DIR")
	setString(&cfg.Tools.FFmpeg, "MEDIASCRIBE_FFMPEG")
	setString(&cfg.Tools.FFprobe, "MEDIASCRIBE_FFPROBE")
	setString(&cfg.Tools.Whisper, "MEDIASCRIBE_WHISPER")
	setString(&cfg.Tools.WhisperModel, "MEDIASCRIBE_WHISPER_MODEL")
	setString(&cfg.Tools.YtDlp, "MEDIASCRIBE_YTDLP")
	setString(&cfg.Synth.Provider, "MEDIASCRIBE_SYNTH_PROVIDER")
	setString(&cfg.Logging.Level, "MEDIASCRIBE_LOG_LEVEL")
	setInt(&cfg.Pipeline.MaxWorkers, "MEDIASCRIBE_MAX_WORKERS")
	setInt(&cfg.Pipeline.RetentionTasks, "MEDIASCRIBE_RETENTION_TASKS")
}

// setString overwrites dst when the env var is non-empty.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the env var parses as an integer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
