package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the terminal state of a story generation
type GenerationStatus string

const (
	GenerationStatusSucceeded GenerationStatus = "succeeded"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// GenerationLog is the persisted record of one orchestrated generation.
// It exists for support and analytics; the generation path never reads it.
type GenerationLog struct {
	ID        uuid.UUID `json:"id"`
	RequestID string    `json:"request_id,omitempty"`

	// Personalization metadata supplied by the caller
	ChildName string `json:"child_name,omitempty"`
	Theme     string `json:"theme,omitempty"`

	// Outcome
	Status       GenerationStatus `json:"status"`
	Provider     string           `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	Attempts     int              `json:"attempts"`
	FallbackUsed bool             `json:"fallback_used"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	// Sizing and timing
	PromptChars int   `json:"prompt_chars"`
	StoryChars  int   `json:"story_chars"`
	LatencyMs   int64 `json:"latency_ms"`

	CreatedAt time.Time `json:"created_at"`
}
