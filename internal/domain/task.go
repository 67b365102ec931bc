package domain

import "time"

// TaskStatus tracks the lifecycle of one transcription task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// SourceKind discriminates URL-sourced tasks from uploaded files.
type SourceKind string

const (
	SourceKindURL    SourceKind = "url"
	SourceKindUpload SourceKind = "upload"
)

// MediaKind describes what an uploaded file claims to contain.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// TranslationStatus tracks the bilingual sub-pipeline independently of the
// main task status, since translation may run after the task completed.
type TranslationStatus string

const (
	TranslationStatusNone       TranslationStatus = ""
	TranslationStatusProcessing TranslationStatus = "processing"
	TranslationStatusCompleted  TranslationStatus = "completed"
	TranslationStatusFailed     TranslationStatus = "failed"
)

// Task is one end-to-end transcription job, URL- or upload-sourced.
// Mutated only by the single worker driving it through the pipeline.
type Task struct {
	ID   string     `json:"id"`
	Kind SourceKind `json:"kind"`

	// Source, one of the two depending on Kind.
	URL              string    `json:"url,omitempty"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	MediaKind        MediaKind `json:"mediaKind,omitempty"`

	// AudioFilePath points at the current working audio artifact and is
	// reassigned as stages produce derived files.
	AudioFilePath string `json:"audioFilePath,omitempty"`

	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	StageDetail string     `json:"stageDetail,omitempty"`

	ProcessedSegments int `json:"processedSegments,omitempty"`
	TotalSegments     int `json:"totalSegments,omitempty"`

	Title           string  `json:"title,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Uploader        string  `json:"uploader,omitempty"`

	Transcript        string            `json:"transcript,omitempty"`
	TranscriptLang    string            `json:"transcriptLang,omitempty"`
	Summary           map[string]string `json:"summary,omitempty"`
	Analysis          map[string]any    `json:"analysis,omitempty"`
	Translation       string            `json:"translation,omitempty"`
	TranslationStatus TranslationStatus `json:"translationStatus,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SourceKey identifies a task's source for create-time deduplication.
func (t *Task) SourceKey() string {
	if t.Kind == SourceKindUpload {
		return string(SourceKindUpload) + ":" + t.OriginalFilename
	}
	return string(SourceKindURL) + ":" + t.URL
}

// IsDone reports whether the task reached a terminal state.
func (t *Task) IsDone() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Segment is a fixed-duration slice of audio produced for long-media
// transcription. It lives only for the duration of one pipeline run.
type Segment struct {
	Path  string
	Start float64
	End   float64
	Index int
}

// MediaInfo carries source metadata reported before any download happens.
type MediaInfo struct {
	Title           string
	DurationSeconds float64
	Uploader        string
}

// Speech is one transcription result for a single audio file or segment.
type Speech struct {
	Text     string
	Language string
}
