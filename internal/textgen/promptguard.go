package textgen

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/choicestory/api/internal/provider"
	"go.uber.org/zap"
)

const (
	// promptCharLimit is the ceiling a prompt must fit under before the
	// first generation attempt.
	promptCharLimit = 4000

	// summaryTargetFloor stops the shrinking recursion: below this target a
	// summary would lose too much of the prompt, so we hard-truncate instead.
	summaryTargetFloor = 1000

	summaryRetryBudget    = 2
	summaryMaxOutputToken = 1024
)

// Guard compresses prompts that exceed the character ceiling. Summarization
// runs against the primary provider with its own small retry loop; hard
// truncation is the terminal fallback, so Fit never fails.
type Guard struct {
	provider     provider.Client
	models       []string
	initialDelay time.Duration
	logger       *zap.Logger
	sleep        func(context.Context, time.Duration) error
}

func newGuard(p provider.Client, models []string, initialDelay time.Duration, logger *zap.Logger) *Guard {
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	return &Guard{
		provider:     p,
		models:       models,
		initialDelay: initialDelay,
		logger:       logger,
		sleep:        sleepContext,
	}
}

// Fit returns prompt unchanged when it is within the ceiling, otherwise a
// version guaranteed to be at most promptCharLimit characters.
func (g *Guard) Fit(ctx context.Context, prompt string) string {
	if utf8.RuneCountInString(prompt) <= promptCharLimit {
		return prompt
	}
	g.logger.Info("prompt over character ceiling, summarizing",
		zap.Int("chars", utf8.RuneCountInString(prompt)),
		zap.Int("ceiling", promptCharLimit),
	)
	return g.shrink(ctx, prompt, promptCharLimit)
}

// shrink summarizes text toward target, reducing the target by 20% per
// round until the result fits or the target falls below the floor.
func (g *Guard) shrink(ctx context.Context, text string, target int) string {
	summary, err := g.summarize(ctx, text, target)
	if err != nil {
		g.logger.Warn("summarization failed, truncating prompt", zap.Error(err))
		return truncateToLimit(text)
	}
	if utf8.RuneCountInString(summary) <= promptCharLimit {
		return summary
	}

	next := target * 4 / 5
	if next < summaryTargetFloor {
		g.logger.Warn("summary target below floor, truncating prompt",
			zap.Int("target", next),
		)
		return truncateToLimit(summary)
	}
	return g.shrink(ctx, summary, next)
}

func (g *Guard) summarize(ctx context.Context, text string, target int) (string, error) {
	instruction := fmt.Sprintf(
		"Shorten the following children's story prompt to at most %d characters. "+
			"Keep every detail about the main character, the scene, and the illustration style. "+
			"Trim prose, filler and repetition first. Reply with the shortened prompt only.\n\n%s",
		target, text,
	)

	models := g.models
	if len(models) == 0 {
		models = []string{""}
	}

	modelIdx := 0
	attempt := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		summary, err := g.provider.GenerateText(ctx, models[modelIdx], instruction, summaryMaxOutputToken)
		if err == nil {
			return summary, nil
		}

		kind := provider.Classify(err)
		switch {
		case kind == provider.KindAuthError:
			return "", err
		case kind == provider.KindModelUnavailable && modelIdx+1 < len(models):
			modelIdx++
			continue
		default:
			attempt++
			lastErr = err
			if attempt >= summaryRetryBudget {
				return "", lastErr
			}
			if err := g.sleep(ctx, g.initialDelay<<uint(attempt-1)); err != nil {
				return "", err
			}
		}
	}
}

// truncateToLimit cuts text to the ceiling minus room for an ellipsis. The
// guaranteed terminal fallback: it cannot fail.
func truncateToLimit(text string) string {
	runes := []rune(text)
	if len(runes) <= promptCharLimit {
		return text
	}
	return string(runes[:promptCharLimit-3]) + "..."
}
