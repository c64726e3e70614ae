package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SubjectStoryGenerated = "story.generated"
	SubjectStoryFailed    = "story.failed"
)

// StoryGeneratedEvent is published after a successful generation
type StoryGeneratedEvent struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	FallbackUsed bool      `json:"fallback_used"`
	StoryChars   int       `json:"story_chars"`
	CreatedAt    time.Time `json:"created_at"`
}

// StoryFailedEvent is published when both providers are exhausted or a
// terminal auth failure occurs
type StoryFailedEvent struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Provider     string    `json:"provider"`
	ErrorKind    string    `json:"error_kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublishStoryGenerated emits a story.generated event, best effort
func (b *Bus) PublishStoryGenerated(evt StoryGeneratedEvent) {
	b.emit(SubjectStoryGenerated, evt)
}

// PublishStoryFailed emits a story.failed event, best effort
func (b *Bus) PublishStoryFailed(evt StoryFailedEvent) {
	b.emit(SubjectStoryFailed, evt)
}

func (b *Bus) emit(subject string, evt interface{}) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.publish(subject, payload); err != nil {
		b.logger.Warn("publish event failed", zap.String("subject", subject), zap.Error(err))
	}
}
