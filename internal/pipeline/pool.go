package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/edulab/autochecker/internal/models"
)

// ProgressFunc receives stage transitions and completion counts.
type ProgressFunc func(stage string, completed, total int)

// Progress stage names reported to callers.
const (
	StageCollecting = "collecting_submissions"
	StageProcessing = "processing_submissions"
	StageSummary    = "generating_summary"
	StageFinished   = "finished"
	StageFailed     = "failed"
)

// SubmissionRunner grades a single submission.
type SubmissionRunner interface {
	Process(ctx context.Context, desc models.SubmissionDescriptor, rubricText, roomPrompt string, aiCheckEnabled bool) *models.ResultRecord
}

// WorkerPool runs submission processing concurrently behind a weighted
// admission bound. The default bound of 1 serializes all grading calls, which
// is what the free service tier tolerates.
type WorkerPool struct {
	runner SubmissionRunner
	bound  int64
	logger zerolog.Logger
}

// NewWorkerPool constructs the pool.
func NewWorkerPool(runner SubmissionRunner, bound int, logger zerolog.Logger) *WorkerPool {
	if bound <= 0 {
		bound = 1
	}
	return &WorkerPool{
		runner: runner,
		bound:  int64(bound),
		logger: logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run processes every descriptor and returns results in descriptor order,
// with nil in the slot of any submission that failed. The progress callback
// is invoked before any work starts and after each completion; completion
// order across tasks is not defined, the completed count is exact.
func (w *WorkerPool) Run(ctx context.Context, descriptors []models.SubmissionDescriptor, rubricText, roomPrompt string, aiCheckEnabled bool, progress ProgressFunc) []*models.ResultRecord {
	total := len(descriptors)
	results := make([]*models.ResultRecord, total)

	if progress != nil {
		progress(StageProcessing, 0, total)
	}
	if total == 0 {
		return results
	}

	sem := semaphore.NewWeighted(w.bound)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, desc := range descriptors {
		wg.Add(1)
		go func(slot int, desc models.SubmissionDescriptor) {
			defer wg.Done()
			defer func() {
				mu.Lock()
				completed++
				done := completed
				mu.Unlock()
				if progress != nil {
					progress(StageProcessing, done, total)
				}
			}()

			if err := sem.Acquire(ctx, 1); err != nil {
				w.logger.Warn().Err(err).Str("owner", desc.OwnerDir).Msg("submission skipped")
				return
			}
			defer sem.Release(1)

			defer func() {
				if r := recover(); r != nil {
					w.logger.Error().Interface("panic", r).Str("owner", desc.OwnerDir).Msg("submission processing panicked")
				}
			}()

			results[slot] = w.runner.Process(ctx, desc, rubricText, roomPrompt, aiCheckEnabled)
		}(i, desc)
	}

	wg.Wait()
	w.logger.Info().Int("total", total).Msg("all submissions processed")
	return results
}
