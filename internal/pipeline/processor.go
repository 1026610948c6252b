package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edulab/autochecker/internal/models"
)

const (
	// Texts shorter than this many characters are treated as suspicious:
	// either a bare template or an underfilled submission.
	shortTextThreshold = 70

	emptyTextMarker    = "Работа не содержит текста"
	templateOnlyMarker = "Предоставлен только шаблон без заполнения"

	evaluationFailedComment = "Ошибка при получении оценки от AI"

	highConfidenceNote = "\n\nПричина: высокая уверенность детекции AI-генерации."
	lowConfidenceNote  = "\n\nЗАМЕЧАНИЕ: возможные признаки AI-генерации (уверенность не высокая)."
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.\x{0400}-\x{04FF}]+`)

// TextExtractor converts a submission file into plain text.
type TextExtractor interface {
	Extract(path string, kind models.FileKind) string
}

// VerdictEvaluator produces authorship checks and binary verdicts.
type VerdictEvaluator interface {
	DetectAuthorship(ctx context.Context, text string) *models.AuthorshipCheck
	Evaluate(ctx context.Context, text, rubricText, roomPrompt, aiConfidence string, aiCheckEnabled bool) (models.GradingVerdict, bool)
}

// ProcessorConfig tunes the submission processor.
type ProcessorConfig struct {
	GraderTag   string
	PersistWait time.Duration

	// OfflineEval bypasses the model and scores by text length, for running
	// the pipeline without external calls.
	OfflineEval      bool
	OfflineThreshold int
}

// Processor grades one submission file: extracts text, asks the evaluator,
// applies the authorship override and persists the result record. Processing
// is idempotent: an existing result file short-circuits the whole run.
type Processor struct {
	extractor TextExtractor
	evaluator VerdictEvaluator
	cfg       ProcessorConfig
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewProcessor constructs the submission processor.
func NewProcessor(extractor TextExtractor, evaluator VerdictEvaluator, cfg ProcessorConfig, logger zerolog.Logger) *Processor {
	if cfg.GraderTag == "" {
		cfg.GraderTag = "SFEDU"
	}
	if cfg.PersistWait <= 0 {
		cfg.PersistWait = 3 * time.Second
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 400
	}

	return &Processor{
		extractor: extractor,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger.With().Str("component", "processor").Logger(),
		now:       time.Now,
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

// Process grades one submission and returns its result record. A persistent
// failure is absorbed after two attempts and reported as nil.
func (p *Processor) Process(ctx context.Context, desc models.SubmissionDescriptor, rubricText, roomPrompt string, aiCheckEnabled bool) *models.ResultRecord {
	record, err := p.processOnce(ctx, desc, rubricText, roomPrompt, aiCheckEnabled)
	if err == nil {
		return record
	}

	p.logger.Warn().Err(err).Str("file", desc.FilePath).Msg("processing failed, retrying once")
	if p.sleep(ctx, p.cfg.PersistWait) != nil {
		return nil
	}

	record, err = p.processOnce(ctx, desc, rubricText, roomPrompt, aiCheckEnabled)
	if err != nil {
		p.logger.Error().Err(err).Str("file", desc.FilePath).Msg("processing failed")
		return nil
	}
	return record
}

// ResultPath returns the deterministic per-file result location for a
// submission: the owner's results directory plus the sanitized file name.
func ResultPath(desc models.SubmissionDescriptor) string {
	base := filepath.Base(desc.FilePath)
	safe := unsafeNameChars.ReplaceAllString(base, "_")
	return filepath.Join(desc.OwnerDir, "results", safe+".json")
}

func (p *Processor) processOnce(ctx context.Context, desc models.SubmissionDescriptor, rubricText, roomPrompt string, aiCheckEnabled bool) (*models.ResultRecord, error) {
	resultPath := ResultPath(desc)

	if cached, ok := p.loadExisting(resultPath); ok {
		p.logger.Info().Str("file", filepath.Base(desc.FilePath)).Msg("already processed, skipping")
		return cached, nil
	}

	text := p.prepareText(desc)
	p.logger.Info().Str("file", desc.FilePath).Int("length", len([]rune(text))).Msg("text extracted")

	var (
		check      *models.AuthorshipCheck
		confidence string
	)
	if aiCheckEnabled && p.evaluator != nil {
		check = p.evaluator.DetectAuthorship(ctx, text)
		if check != nil {
			confidence = check.Confidence
		}
	}

	verdict := p.score(ctx, text, rubricText, roomPrompt, confidence, aiCheckEnabled)

	// Hard override only on high-confidence detection; anything lower is a
	// non-binding remark.
	if aiCheckEnabled && check != nil && check.Detected {
		if check.Confidence == models.ConfidenceHigh {
			verdict = models.GradingVerdict{
				Result:  models.VerdictFail,
				Comment: verdict.Comment + highConfidenceNote,
			}
		} else {
			verdict.Comment += lowConfidenceNote
		}
	}

	record := &models.ResultRecord{
		Student:    filepath.Base(desc.OwnerDir),
		File:       filepath.Base(desc.FilePath),
		Date:       p.now().Format(models.DateLayout),
		Result:     verdict.Result,
		Comment:    verdict.Comment,
		Authorship: check,
		CheckedBy:  p.cfg.GraderTag,
	}

	if err := p.persist(resultPath, record); err != nil {
		return nil, err
	}

	p.logger.Info().Str("path", resultPath).Str("result", string(record.Result)).Msg("result saved")
	return record, nil
}

func (p *Processor) loadExisting(resultPath string) (*models.ResultRecord, bool) {
	content, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, false
	}

	var record models.ResultRecord
	if err := json.Unmarshal(content, &record); err != nil {
		p.logger.Warn().Err(err).Str("path", resultPath).Msg("existing result unreadable")
		return nil, true
	}
	return &record, true
}

// prepareText extracts the submission text and applies the short/empty-text
// policy.
func (p *Processor) prepareText(desc models.SubmissionDescriptor) string {
	text := strings.TrimSpace(p.extractor.Extract(desc.FilePath, desc.Kind))

	length := len([]rune(text))
	switch {
	case length == 0:
		p.logger.Warn().Str("file", desc.FilePath).Msg("empty text")
		return emptyTextMarker
	case length < shortTextThreshold:
		p.logger.Warn().Str("file", desc.FilePath).Int("length", length).Msg("very short text")
		lower := strings.ToLower(text)
		if strings.Contains(lower, "шаблон") || strings.Contains(lower, "template") {
			return templateOnlyMarker
		}
		return fmt.Sprintf("ТЕКСТ СЛИШКОМ КОРОТКИЙ (%d символов): %s", length, text)
	default:
		return text
	}
}

func (p *Processor) score(ctx context.Context, text, rubricText, roomPrompt, confidence string, aiCheckEnabled bool) models.GradingVerdict {
	if p.cfg.OfflineEval {
		collapsed := strings.Join(strings.Fields(text), " ")
		length := len([]rune(collapsed))
		result := models.VerdictFail
		if length >= p.cfg.OfflineThreshold {
			result = models.VerdictPass
		}
		return models.GradingVerdict{
			Result:  result,
			Comment: fmt.Sprintf("Автономная оценка: длина текста %d символов, порог %d.", length, p.cfg.OfflineThreshold),
		}
	}

	if p.evaluator == nil {
		return models.GradingVerdict{Result: models.VerdictFail, Comment: evaluationFailedComment}
	}

	verdict, ok := p.evaluator.Evaluate(ctx, text, rubricText, roomPrompt, confidence, aiCheckEnabled)
	if !ok {
		return models.GradingVerdict{Result: models.VerdictFail, Comment: evaluationFailedComment}
	}
	return verdict
}

func (p *Processor) persist(resultPath string, record *models.ResultRecord) error {
	if err := os.MkdirAll(filepath.Dir(resultPath), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if err := os.WriteFile(resultPath, content, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
