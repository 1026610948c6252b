package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edulab/autochecker/internal/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]bool
	panicOn string
}

func (f *fakeRunner) Process(ctx context.Context, desc models.SubmissionDescriptor, rubricText, roomPrompt string, aiCheckEnabled bool) *models.ResultRecord {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if desc.OwnerDir == f.panicOn {
		panic("boom")
	}
	if f.failFor[desc.OwnerDir] {
		return nil
	}
	return &models.ResultRecord{Student: desc.OwnerDir, Result: models.VerdictPass}
}

func descriptors(owners ...string) []models.SubmissionDescriptor {
	out := make([]models.SubmissionDescriptor, 0, len(owners))
	for _, owner := range owners {
		out = append(out, models.SubmissionDescriptor{
			OwnerDir: owner,
			FilePath: owner + "/essay.docx",
			Kind:     models.FileKindDocx,
		})
	}
	return out
}

func TestPoolRunReportsExactProgress(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewWorkerPool(runner, 2, zerolog.New(io.Discard))

	var (
		mu     sync.Mutex
		counts []int
		stages []string
	)
	progress := func(stage string, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, stage)
		counts = append(counts, completed)
		require.Equal(t, 3, total)
	}

	results := pool.Run(context.Background(), descriptors("a", "b", "c"), "критерии", "", false, progress)

	require.Len(t, results, 3)
	for i, record := range results {
		require.NotNil(t, record, "slot %d", i)
	}
	require.Equal(t, 3, runner.calls)

	require.ElementsMatch(t, []int{0, 1, 2, 3}, counts, "one call before work, then one per completion")
	require.Equal(t, 0, counts[0], "initial call precedes any completion")
	for _, stage := range stages {
		require.Equal(t, StageProcessing, stage)
	}
}

func TestPoolRunKeepsDescriptorOrder(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewWorkerPool(runner, 3, zerolog.New(io.Discard))

	results := pool.Run(context.Background(), descriptors("first", "second", "third"), "критерии", "", false, nil)

	require.Len(t, results, 3)
	require.Equal(t, "first", results[0].Student)
	require.Equal(t, "second", results[1].Student)
	require.Equal(t, "third", results[2].Student)
}

func TestPoolRunNilSlotOnFailure(t *testing.T) {
	runner := &fakeRunner{failFor: map[string]bool{"b": true}}
	pool := NewWorkerPool(runner, 1, zerolog.New(io.Discard))

	results := pool.Run(context.Background(), descriptors("a", "b", "c"), "критерии", "", false, nil)

	require.NotNil(t, results[0])
	require.Nil(t, results[1])
	require.NotNil(t, results[2])
}

func TestPoolRunSurvivesPanic(t *testing.T) {
	runner := &fakeRunner{panicOn: "b"}
	pool := NewWorkerPool(runner, 1, zerolog.New(io.Discard))

	var (
		mu          sync.Mutex
		completions int
	)
	progress := func(stage string, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		if completed > completions {
			completions = completed
		}
	}

	results := pool.Run(context.Background(), descriptors("a", "b", "c"), "критерии", "", false, progress)

	require.Nil(t, results[1])
	require.NotNil(t, results[0])
	require.NotNil(t, results[2])
	require.Equal(t, 3, completions, "panicked task still counts as completed")
}

func TestPoolRunEmptyInput(t *testing.T) {
	pool := NewWorkerPool(&fakeRunner{}, 1, zerolog.New(io.Discard))

	var calls int
	results := pool.Run(context.Background(), nil, "критерии", "", false, func(string, int, int) { calls++ })

	require.Empty(t, results)
	require.Equal(t, 1, calls)
}
