package evaluate

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edulab/autochecker/internal/models"
	"github.com/edulab/autochecker/pkg/ai"
)

// minMeaningfulLength is the minimum number of non-alphanumeric characters a
// response must contain to be accepted. Degenerate or templated non-answers
// collapse to almost nothing under this filter.
const minMeaningfulLength = 60

var (
	latinAlnum = regexp.MustCompile(`[A-Za-z0-9]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// TextGenerator is the slice of the rate-limited client the evaluator needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
	HandleQuota(ctx context.Context, cause error, attempt int) (int, error)
}

// Config tunes the evaluator retry loop.
type Config struct {
	Models         []string
	MaxAttempts    int
	ShortRetryWait time.Duration
}

// Evaluator asks the grading model for authorship signals and the binary
// pass/fail verdict, iterating over candidate models until one answers.
type Evaluator struct {
	client TextGenerator
	cfg    Config
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEvaluator constructs the evaluator.
func NewEvaluator(client TextGenerator, cfg Config, logger zerolog.Logger) *Evaluator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.ShortRetryWait <= 0 {
		cfg.ShortRetryWait = 5 * time.Second
	}

	return &Evaluator{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "evaluator").Logger(),
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Answer sends the prompt and submission text to each candidate model in
// preference order, retrying per model up to the attempt ceiling. A response
// counts only when, with Latin alphanumerics stripped and whitespace
// collapsed, more than minMeaningfulLength characters remain. Returns false
// when every model is exhausted.
func (e *Evaluator) Answer(ctx context.Context, text, prompt string) (string, bool) {
	full := prompt + "\n" + text

	for _, model := range e.cfg.Models {
		attempt := 1

		for attempt <= e.cfg.MaxAttempts {
			if ctx.Err() != nil {
				return "", false
			}

			e.logger.Info().Str("model", model).Int("attempt", attempt).Int("max_attempts", e.cfg.MaxAttempts).Msg("requesting evaluation")

			response, err := e.client.Generate(ctx, full, model)
			if err == nil {
				if meaningful(response) {
					e.logger.Info().Str("model", model).Msg("valid response received")
					return strings.TrimSpace(response), true
				}

				e.logger.Warn().Str("model", model).Msg("response too short")
				if attempt >= e.cfg.MaxAttempts {
					break
				}
				if e.sleep(ctx, e.cfg.ShortRetryWait) != nil {
					return "", false
				}
				attempt++
				continue
			}

			e.logger.Warn().Err(err).Str("model", model).Int("attempt", attempt).Msg("model request failed")

			switch {
			case ai.IsQuotaError(err):
				next, waitErr := e.client.HandleQuota(ctx, err, attempt)
				if waitErr != nil {
					return "", false
				}
				attempt = next
				if attempt > e.cfg.MaxAttempts {
					e.logger.Error().Str("model", model).Msg("attempt ceiling exceeded after quota errors")
				}
			case ai.IsModelUnavailable(err):
				e.logger.Warn().Str("model", model).Msg("model unavailable, trying next model")
				attempt = e.cfg.MaxAttempts + 1
			default:
				if attempt >= e.cfg.MaxAttempts {
					e.logger.Error().Str("model", model).Int("attempts", attempt).Msg("model failed after all attempts")
					attempt++
					break
				}
				if e.sleep(ctx, e.cfg.ShortRetryWait) != nil {
					return "", false
				}
				attempt++
			}
		}
	}

	e.logger.Error().Msg("all models failed")
	return "", false
}

// DetectAuthorship analyzes the text for machine-authorship signals. Returns
// nil when no structured detector verdict could be obtained.
func (e *Evaluator) DetectAuthorship(ctx context.Context, text string) *models.AuthorshipCheck {
	e.logger.Info().Msg("running authorship detection")

	response, ok := e.Answer(ctx, text, authorshipPrompt(text))
	if !ok {
		return nil
	}

	check, parsed := parseAuthorship(response)
	if !parsed {
		e.logger.Warn().Msg("authorship response not parseable")
		return nil
	}
	return check
}

// Evaluate requests the binary verdict for the submission text. The rubric
// template depends on whether authorship checking is enabled; free-text room
// instructions are prepended when present. Returns false when no model
// produced a usable response.
func (e *Evaluator) Evaluate(ctx context.Context, text, rubricText, roomPrompt, aiConfidence string, aiCheckEnabled bool) (models.GradingVerdict, bool) {
	e.logger.Info().Bool("ai_check", aiCheckEnabled).Msg("requesting binary evaluation")

	var prompt string
	if aiCheckEnabled {
		prompt = rubricPromptWithAuthorship(rubricText, text, aiConfidence)
	} else {
		prompt = rubricPromptPlain(rubricText, text)
	}

	if extra := strings.TrimSpace(roomPrompt); extra != "" {
		prompt = "Дополнительные пожелания к проверке:\n" + extra + "\n\n" + prompt
	}

	response, ok := e.Answer(ctx, text, prompt)
	if !ok {
		return models.GradingVerdict{}, false
	}

	return ExtractBinaryResult(response), true
}

func meaningful(response string) bool {
	if response == "" {
		return false
	}
	clear := latinAlnum.ReplaceAllString(response, "")
	clear = whitespace.ReplaceAllString(strings.TrimSpace(clear), " ")
	return len([]rune(clear)) > minMeaningfulLength
}
