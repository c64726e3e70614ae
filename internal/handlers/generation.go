package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/choicestory/api/internal/eventbus"
	"github.com/choicestory/api/internal/middleware"
	"github.com/choicestory/api/internal/models"
	"github.com/choicestory/api/internal/provider"
	"github.com/choicestory/api/internal/store"
	"github.com/choicestory/api/internal/textgen"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/choicestory/api/internal/handlers")

// storyGenerator is the orchestrator surface the handler depends on
type storyGenerator interface {
	Generate(ctx context.Context, req textgen.Request) (textgen.Outcome, error)
}

// GenerationHandler handles story generation endpoints
type GenerationHandler struct {
	generator storyGenerator
	logs      *store.GenerationLogStore
	bus       *eventbus.Bus
	breaker   *middleware.CircuitBreaker
	logger    *zap.Logger
}

// NewGenerationHandler creates a new generation handler. logs, bus and
// breaker may be nil in degraded deployments.
func NewGenerationHandler(generator storyGenerator, logs *store.GenerationLogStore, bus *eventbus.Bus, breaker *middleware.CircuitBreaker, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		generator: generator,
		logs:      logs,
		bus:       bus,
		breaker:   breaker,
		logger:    logger,
	}
}

// GenerateStoryRequest is the request body for generating a story
type GenerateStoryRequest struct {
	Prompt          string `json:"prompt" binding:"required"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	ChildName       string `json:"child_name"`
	Theme           string `json:"theme"`
}

// GenerateStoryResponse is returned on success
type GenerateStoryResponse struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Story        string    `json:"story"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	FallbackUsed bool      `json:"fallback_used"`
}

// GenerateStory runs one orchestrated story generation
func (h *GenerationHandler) GenerateStory(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GenerateStory")
	defer span.End()

	var req GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}

	generationID := uuid.New()
	start := time.Now()

	out, err := h.generator.Generate(ctx, textgen.Request{
		Prompt:          req.Prompt,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		// Only context cancellation reaches here; the client is gone.
		h.logger.Warn("generation cancelled",
			zap.String("generation_id", generationID.String()),
			zap.Error(err),
		)
		c.AbortWithStatus(http.StatusGatewayTimeout)
		return
	}

	h.recordOutcome(generationID, c.GetString(middleware.RequestIDKey), req, out, time.Since(start))

	if !out.Success {
		if h.breaker != nil {
			h.breaker.RecordFailure()
		}
		h.respondFailure(c, out)
		return
	}

	if h.breaker != nil {
		h.breaker.RecordSuccess()
	}
	c.JSON(http.StatusOK, GenerateStoryResponse{
		GenerationID: generationID,
		Story:        out.Text,
		Provider:     out.Provider,
		Model:        out.Model,
		FallbackUsed: out.Fallback,
	})
}

// respondFailure maps a failed outcome to a structured error. Raw provider
// messages stay in the logs; callers see which providers were attempted,
// never upstream error text.
func (h *GenerationHandler) respondFailure(c *gin.Context, out textgen.Outcome) {
	attempted := "gemini"
	if out.Fallback {
		attempted = "gemini, openai"
	}

	if out.ErrorKind == provider.KindAuthError {
		middleware.RespondErrorWithDetails(c, http.StatusBadGateway,
			middleware.ErrCodeProviderAuth,
			"Story generation is misconfigured, our team has been notified",
			"provider: "+out.Provider,
		)
		return
	}

	middleware.RespondErrorWithDetails(c, http.StatusBadGateway,
		middleware.ErrCodeGenerationFailed,
		"Story generation failed, please try again",
		"providers attempted: "+attempted,
	)
}

// recordOutcome persists the generation log and publishes the lifecycle
// event. Both are best effort on a background context so a slow database
// never delays the response, mirroring how results reach downstream
// consumers (email, analytics).
func (h *GenerationHandler) recordOutcome(id uuid.UUID, requestID string, req GenerateStoryRequest, out textgen.Outcome, latency time.Duration) {
	status := models.GenerationStatusSucceeded
	if !out.Success {
		status = models.GenerationStatusFailed
	}

	rec := &models.GenerationLog{
		ID:           id,
		RequestID:    requestID,
		ChildName:    req.ChildName,
		Theme:        req.Theme,
		Status:       status,
		Provider:     out.Provider,
		Model:        out.Model,
		Attempts:     out.Attempts,
		FallbackUsed: out.Fallback,
		ErrorKind:    string(out.ErrorKind),
		ErrorMessage: out.Message,
		PromptChars:  utf8.RuneCountInString(req.Prompt),
		StoryChars:   utf8.RuneCountInString(out.Text),
		LatencyMs:    latency.Milliseconds(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if h.logs != nil {
			if err := h.logs.Insert(ctx, rec); err != nil {
				h.logger.Error("failed to persist generation log",
					zap.String("generation_id", id.String()),
					zap.Error(err),
				)
			}
		}

		if h.bus != nil {
			if out.Success {
				h.bus.PublishStoryGenerated(eventbus.StoryGeneratedEvent{
					GenerationID: id,
					Provider:     out.Provider,
					Model:        out.Model,
					FallbackUsed: out.Fallback,
					StoryChars:   rec.StoryChars,
					CreatedAt:    time.Now().UTC(),
				})
			} else {
				h.bus.PublishStoryFailed(eventbus.StoryFailedEvent{
					GenerationID: id,
					Provider:     out.Provider,
					ErrorKind:    string(out.ErrorKind),
					CreatedAt:    time.Now().UTC(),
				})
			}
		}
	}()

	h.logger.Info("generation finished",
		zap.String("generation_id", id.String()),
		zap.String("status", string(status)),
		zap.String("provider", out.Provider),
		zap.String("model", out.Model),
		zap.Int("attempts", out.Attempts),
		zap.Bool("fallback_used", out.Fallback),
		zap.Int64("latency_ms", rec.LatencyMs),
	)
}

// GetGeneration returns the persisted record of one generation
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.BadRequest(c, "invalid generation ID")
		return
	}

	if h.logs == nil {
		middleware.RespondError(c, http.StatusServiceUnavailable,
			middleware.ErrCodeStorageUnavailable, "generation history is not available")
		return
	}

	rec, err := h.logs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			middleware.NotFound(c, "generation not found")
			return
		}
		h.logger.Error("failed to load generation log", zap.Error(err))
		middleware.InternalError(c, "could not load generation")
		return
	}

	c.JSON(http.StatusOK, rec)
}
