package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/choicestory/api/internal/database"
	"github.com/choicestory/api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a generation log row does not exist.
var ErrNotFound = errors.New("generation log not found")

// GenerationLogStore persists generation outcomes to Postgres
type GenerationLogStore struct {
	db *database.Postgres
}

// NewGenerationLogStore creates a new store
func NewGenerationLogStore(db *database.Postgres) *GenerationLogStore {
	return &GenerationLogStore{db: db}
}

// Insert writes a generation log row
func (s *GenerationLogStore) Insert(ctx context.Context, rec *models.GenerationLog) error {
	query := `
		INSERT INTO generation_logs (
			id, request_id, child_name, theme, status, provider, model,
			attempts, fallback_used, error_kind, error_message,
			prompt_chars, story_chars, latency_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
	`
	_, err := s.db.Pool().Exec(ctx, query,
		rec.ID, rec.RequestID, rec.ChildName, rec.Theme, rec.Status,
		rec.Provider, rec.Model, rec.Attempts, rec.FallbackUsed,
		rec.ErrorKind, rec.ErrorMessage,
		rec.PromptChars, rec.StoryChars, rec.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

// GetByID fetches a generation log row
func (s *GenerationLogStore) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationLog, error) {
	query := `
		SELECT id, request_id, child_name, theme, status, provider, model,
		       attempts, fallback_used, error_kind, error_message,
		       prompt_chars, story_chars, latency_ms, created_at
		FROM generation_logs
		WHERE id = $1
	`
	var rec models.GenerationLog
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.RequestID, &rec.ChildName, &rec.Theme, &rec.Status,
		&rec.Provider, &rec.Model, &rec.Attempts, &rec.FallbackUsed,
		&rec.ErrorKind, &rec.ErrorMessage,
		&rec.PromptChars, &rec.StoryChars, &rec.LatencyMs, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get generation log: %w", err)
	}
	return &rec, nil
}
