// Package synth defines the text-synthesis contract consumed by the
// pipeline. Providers are registered by name; an empty registry means the
// synthesizing stage is skipped and raw transcripts are final.
package synth

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// SummarySections are the named summary outputs produced per task. Each
// section fails independently without aborting the stage.
var SummarySections = []string{"overview", "key_points", "conclusions"}

// SectionPlaceholder replaces a summary section whose synthesis failed.
const SectionPlaceholder = "(section unavailable)"

// Synthesizer produces derived text artifacts from a raw transcript.
type Synthesizer interface {
	// Rewrite returns a cleaned, readable version of the transcript.
	Rewrite(ctx context.Context, text string) (string, error)
	// SummarizeSection produces one named summary section.
	SummarizeSection(ctx context.Context, section, text string) (string, error)
	// Analyze returns a structured content analysis, expected to be JSON.
	Analyze(ctx context.Context, text string) (string, error)
	// Bilingual returns a line-interleaved bilingual rendition.
	Bilingual(ctx context.Context, text string) (string, error)
}

// Registry maps provider names to synthesizer implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Synthesizer
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Synthesizer)}
}

// Register adds or replaces a provider by name.
func (r *Registry) Register(name string, s Synthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = s
}

// Get returns the provider by name, or the sole registered provider when
// name is empty.
func (r *Registry) Get(name string) (Synthesizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		s, ok := r.providers[strings.ToLower(name)]
		return s, ok
	}
	for _, s := range r.providers {
		return s, true
	}
	return nil, false
}

// Empty reports whether no provider is configured.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) == 0
}

// ParseAnalysis decodes a provider's analysis output as JSON, tolerating
// markdown code fences. A parse failure yields an error-shaped value, never
// an error: analysis is best-effort by contract.
func ParseAnalysis(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return map[string]any{
			"error": "analysis output was not valid JSON",
			"raw":   raw,
		}
	}
	return parsed
}
