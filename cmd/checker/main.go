package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/edulab/autochecker/internal/config"
	"github.com/edulab/autochecker/internal/evaluate"
	"github.com/edulab/autochecker/internal/extract"
	"github.com/edulab/autochecker/internal/pipeline"
	"github.com/edulab/autochecker/internal/summary"
	"github.com/edulab/autochecker/pkg/ai"
)

func main() {
	var (
		rootDir      string
		templatePath string
		roomPrompt   string
		aiCheck      bool
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "checker",
		Short: "Grade student submissions with a generative model and build the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			driver, err := buildDriver(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rows, reportPath, err := driver.Run(ctx, rootDir, templatePath, roomPrompt, aiCheck, newProgressRenderer())
			if err != nil {
				return err
			}

			fmt.Printf("Report saved to %s (%d students)\n", reportPath, len(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&rootDir, "root", "", "directory with student submission folders")
	cmd.Flags().StringVar(&templatePath, "template", "", "rubric template document")
	cmd.Flags().StringVar(&roomPrompt, "prompt", "", "extra free-text grading instructions")
	cmd.Flags().BoolVar(&aiCheck, "ai-check", true, "detect machine-authored submissions")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("template")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildDriver(cfg config.Config, logger zerolog.Logger) (*pipeline.Driver, error) {
	extractor := extract.New(logger)

	var evaluator pipeline.VerdictEvaluator
	if !cfg.OfflineEval {
		client, err := ai.NewClient(ai.Config{
			APIKeys:        cfg.APIKeys,
			BaseURL:        cfg.BaseURL,
			ProxyURL:       cfg.ProxyURL,
			MinDelay:       cfg.MinDelay,
			MaxDelay:       cfg.MaxDelay,
			RequestTimeout: cfg.RequestTimeout,
			BackoffBase:    cfg.BackoffBase,
			RetryHintPad:   cfg.RetryHintPad,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create ai client: %w", err)
		}

		evaluator = evaluate.NewEvaluator(client, evaluate.Config{
			Models:         cfg.Models,
			MaxAttempts:    cfg.MaxAttempts,
			ShortRetryWait: cfg.ShortRetryWait,
		}, logger)
	}

	processor := pipeline.NewProcessor(extractor, evaluator, pipeline.ProcessorConfig{
		GraderTag:        cfg.GraderTag,
		OfflineEval:      cfg.OfflineEval,
		OfflineThreshold: cfg.OfflineThreshold,
	}, logger)

	pool := pipeline.NewWorkerPool(processor, cfg.Concurrency, logger)
	aggregator := summary.NewAggregator(logger)

	return pipeline.NewDriver(extractor, pool, aggregator, logger), nil
}

// newProgressRenderer maps pipeline progress callbacks onto a terminal bar.
func newProgressRenderer() pipeline.ProgressFunc {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)

	return func(stage string, completed, total int) {
		mu.Lock()
		defer mu.Unlock()

		switch stage {
		case pipeline.StageProcessing:
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Checking submissions"),
					progressbar.OptionSetWidth(18),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(completed)
		case pipeline.StageSummary:
			if completed == 0 {
				fmt.Fprintln(os.Stderr, "Generating summary...")
			}
		case pipeline.StageFinished:
			fmt.Fprintln(os.Stderr, "Done.")
		case pipeline.StageFailed:
			fmt.Fprintln(os.Stderr, "Run failed.")
		}
	}
}
