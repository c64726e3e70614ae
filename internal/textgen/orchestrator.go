package textgen

import (
	"context"
	"strings"
	"time"

	"github.com/choicestory/api/internal/provider"
	"go.uber.org/zap"
)

// Request is a single story-text generation request.
type Request struct {
	Prompt          string
	MaxOutputTokens int
}

// Outcome is the terminal result of a generation. Success implies non-empty
// Text; failure implies a defined ErrorKind.
type Outcome struct {
	Success   bool
	Text      string
	Provider  string
	Model     string
	Attempts  int
	Fallback  bool
	ErrorKind provider.ErrorKind
	Message   string
}

// Config tunes the retry loop. Zero values fall back to the defaults below.
type Config struct {
	PrimaryModels  []string
	SecondaryModel string
	MaxAttempts    int
	InitialDelay   time.Duration
}

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 1000 * time.Millisecond
)

// Recorder receives orchestrator metrics. A nil Recorder disables reporting.
type Recorder interface {
	ObserveGeneration(providerName, status string, duration time.Duration)
	ObserveRetry(providerName string)
	ObserveFallback()
}

// Orchestrator drives generation against a primary provider with bounded
// retries and model rotation, falling over to a secondary provider once the
// primary's attempt budget is spent. One call in flight at a time, no state
// shared across calls.
type Orchestrator struct {
	primary   provider.Client
	secondary provider.Client
	cfg       Config
	guard     *Guard
	logger    *zap.Logger
	metrics   Recorder
	sleep     func(context.Context, time.Duration) error
}

// New creates an orchestrator. metrics may be nil.
func New(primary, secondary provider.Client, cfg Config, logger *zap.Logger, metrics Recorder) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	o := &Orchestrator{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		sleep:     sleepContext,
	}
	o.guard = newGuard(primary, cfg.PrimaryModels, cfg.InitialDelay, logger)
	o.guard.sleep = func(ctx context.Context, d time.Duration) error { return o.sleep(ctx, d) }
	return o
}

// Generate runs the full primary-retry / secondary-fallback sequence. The
// returned error is non-nil only when ctx is cancelled mid-flight; every
// provider failure is folded into the Outcome.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return Outcome{
			Success:   false,
			ErrorKind: provider.KindUnknown,
			Message:   "prompt is empty",
		}, nil
	}

	prompt := o.guard.Fit(ctx, req.Prompt)

	out, err := o.tryPrimary(ctx, prompt, req.MaxOutputTokens)
	if err != nil {
		return Outcome{}, err
	}
	if out.Success || out.ErrorKind == provider.KindAuthError {
		o.observe(out, start)
		return out, nil
	}

	// Primary spent its attempt budget; one non-retried shot at the secondary.
	primaryErr := out.Message
	out, err = o.trySecondary(ctx, prompt, req.MaxOutputTokens, primaryErr)
	if err != nil {
		return Outcome{}, err
	}
	o.observe(out, start)
	return out, nil
}

func (o *Orchestrator) tryPrimary(ctx context.Context, prompt string, maxTokens int) (Outcome, error) {
	models := o.cfg.PrimaryModels
	if len(models) == 0 {
		models = []string{""}
	}

	modelIdx := 0
	attempt := 0
	var lastErr error
	var lastKind provider.ErrorKind

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		model := models[modelIdx]
		text, err := o.primary.GenerateText(ctx, model, prompt, maxTokens)
		if err == nil {
			return Outcome{
				Success:  true,
				Text:     text,
				Provider: o.primary.Name(),
				Model:    model,
				Attempts: attempt + 1,
			}, nil
		}

		kind := provider.Classify(err)
		switch {
		case kind == provider.KindAuthError:
			// A misconfigured key must surface loudly, not degrade into
			// the fallback provider.
			o.logger.Error("primary provider auth failure",
				zap.String("provider", o.primary.Name()),
				zap.String("model", model),
			)
			return Outcome{
				Success:   false,
				Provider:  o.primary.Name(),
				Model:     model,
				Attempts:  attempt + 1,
				ErrorKind: provider.KindAuthError,
				Message:   err.Error(),
			}, nil

		case kind == provider.KindModelUnavailable && modelIdx+1 < len(models):
			// Rotation does not consume a retry attempt.
			o.logger.Warn("primary model unavailable, rotating",
				zap.String("provider", o.primary.Name()),
				zap.String("from_model", model),
				zap.String("to_model", models[modelIdx+1]),
			)
			modelIdx++
			continue

		default:
			attempt++
			lastErr = err
			lastKind = kind
			if attempt >= o.cfg.MaxAttempts {
				o.logger.Warn("primary provider retry budget exhausted",
					zap.String("provider", o.primary.Name()),
					zap.String("model", model),
					zap.Int("attempts", attempt),
					zap.String("error_kind", string(kind)),
				)
				return Outcome{
					Success:   false,
					Provider:  o.primary.Name(),
					Model:     model,
					Attempts:  attempt,
					ErrorKind: lastKind,
					Message:   lastErr.Error(),
				}, nil
			}

			delay := o.cfg.InitialDelay << uint(attempt-1)
			if o.metrics != nil {
				o.metrics.ObserveRetry(o.primary.Name())
			}
			o.logger.Info("retrying primary provider",
				zap.String("provider", o.primary.Name()),
				zap.String("model", model),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.String("error_kind", string(kind)),
			)
			if err := o.sleep(ctx, delay); err != nil {
				return Outcome{}, err
			}
		}
	}
}

func (o *Orchestrator) trySecondary(ctx context.Context, prompt string, maxTokens int, primaryErr string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if o.metrics != nil {
		o.metrics.ObserveFallback()
	}
	o.logger.Info("falling back to secondary provider",
		zap.String("provider", o.secondary.Name()),
		zap.String("model", o.cfg.SecondaryModel),
	)

	text, err := o.secondary.GenerateText(ctx, o.cfg.SecondaryModel, prompt, maxTokens)
	if err == nil {
		return Outcome{
			Success:  true,
			Text:     text,
			Provider: o.secondary.Name(),
			Model:    o.cfg.SecondaryModel,
			Attempts: 1,
			Fallback: true,
		}, nil
	}

	kind := provider.Classify(err)
	if kind == provider.KindAuthError {
		o.logger.Error("secondary provider auth failure",
			zap.String("provider", o.secondary.Name()),
		)
		return Outcome{
			Success:   false,
			Provider:  o.secondary.Name(),
			Model:     o.cfg.SecondaryModel,
			Attempts:  1,
			Fallback:  true,
			ErrorKind: provider.KindAuthError,
			Message:   err.Error(),
		}, nil
	}

	// Both providers spent: attach both messages for diagnostics.
	return Outcome{
		Success:   false,
		Provider:  o.secondary.Name(),
		Model:     o.cfg.SecondaryModel,
		Attempts:  1,
		Fallback:  true,
		ErrorKind: kind,
		Message:   o.primary.Name() + ": " + primaryErr + "; " + o.secondary.Name() + ": " + err.Error(),
	}, nil
}

func (o *Orchestrator) observe(out Outcome, start time.Time) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if !out.Success {
		status = "failure"
	}
	o.metrics.ObserveGeneration(out.Provider, status, time.Since(start))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
