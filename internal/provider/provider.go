package provider

import "context"

// Client is the minimal surface the orchestrator needs from an LLM backend.
// Implementations return plain generated text or a classified *Error.
type Client interface {
	// GenerateText runs a single completion against the named model.
	GenerateText(ctx context.Context, model string, prompt string, maxOutputTokens int) (string, error)

	// Name identifies the provider in outcomes, logs and metrics.
	Name() string
}
