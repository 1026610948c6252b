package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edulab/autochecker/internal/models"
)

// ErrTemplateNotFound reports a missing rubric template file.
var ErrTemplateNotFound = errors.New("rubric template not found")

// ErrNoSubmissions reports that discovery found nothing to grade.
var ErrNoSubmissions = errors.New("no submissions found")

// fallbackRubric replaces an unreadable or empty rubric template. A missing
// template file is fatal instead.
const fallbackRubric = "Критерии оценки не определены. Оцените работу по общим требованиям."

// SummaryBuilder aggregates per-file result records into the final report.
type SummaryBuilder interface {
	Aggregate(rootDir string) ([]models.AggregatedRow, string, error)
}

// Driver runs the whole pipeline: discovery, pooled processing, aggregation.
type Driver struct {
	extractor  TextExtractor
	pool       *WorkerPool
	aggregator SummaryBuilder
	logger     zerolog.Logger
}

// NewDriver constructs the pipeline driver.
func NewDriver(extractor TextExtractor, pool *WorkerPool, aggregator SummaryBuilder, logger zerolog.Logger) *Driver {
	return &Driver{
		extractor:  extractor,
		pool:       pool,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "driver").Logger(),
	}
}

// Run grades every submission under rootDir against the rubric template and
// writes the aggregated report. Stage transitions go through the progress
// callback: collecting_submissions, processing_submissions (with counts),
// generating_summary, finished; failed on a fatal error.
func (d *Driver) Run(ctx context.Context, rootDir, templatePath, roomPrompt string, aiCheckEnabled bool, progress ProgressFunc) ([]models.AggregatedRow, string, error) {
	d.logger.Info().Str("root", rootDir).Bool("ai_check", aiCheckEnabled).Msg("starting check run")

	fail := func(err error) ([]models.AggregatedRow, string, error) {
		if progress != nil {
			progress(StageFailed, 0, 0)
		}
		return nil, "", err
	}

	if _, err := os.Stat(templatePath); err != nil {
		return fail(fmt.Errorf("%w: %s", ErrTemplateNotFound, templatePath))
	}

	rubricText := strings.TrimSpace(d.extractor.Extract(templatePath, templateKind(templatePath)))
	if rubricText == "" {
		d.logger.Warn().Str("template", templatePath).Msg("rubric template empty, using generic criteria")
		rubricText = fallbackRubric
	}

	descriptors, err := FindSubmissions(rootDir)
	if err != nil {
		return fail(fmt.Errorf("discover submissions: %w", err))
	}
	if len(descriptors) == 0 {
		return fail(fmt.Errorf("%w: %s", ErrNoSubmissions, rootDir))
	}

	total := len(descriptors)
	if progress != nil {
		progress(StageCollecting, 0, total)
	}

	processed := 0
	for _, desc := range descriptors {
		if _, err := os.Stat(ResultPath(desc)); err == nil {
			processed++
		}
	}
	d.logger.Info().Int("total", total).Int("already_processed", processed).Int("remaining", total-processed).Msg("submissions collected")

	d.pool.Run(ctx, descriptors, rubricText, roomPrompt, aiCheckEnabled, progress)

	if progress != nil {
		progress(StageSummary, 0, 1)
	}
	rows, reportPath, err := d.aggregator.Aggregate(rootDir)
	if err != nil {
		return fail(fmt.Errorf("generate summary: %w", err))
	}
	if progress != nil {
		progress(StageSummary, 1, 1)
		progress(StageFinished, total, total)
	}

	d.logger.Info().Str("report", reportPath).Int("rows", len(rows)).Msg("check run finished")
	return rows, reportPath, nil
}

func templateKind(path string) models.FileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return models.FileKindPDF
	case ".html", ".htm":
		return models.FileKindHTML
	case ".doc":
		return models.FileKindDoc
	default:
		return models.FileKindDocx
	}
}
