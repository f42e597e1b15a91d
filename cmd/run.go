package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/config"
	"github.com/JakeFAU/news-archiver/internal/dispatcher"
	"github.com/JakeFAU/news-archiver/internal/server"
)

// runner is what the run command needs from the assembled application.
type runner interface {
	RunOnce(ctx context.Context, sources []archiver.Source) (dispatcher.Summary, error)
	RunContinuous(ctx context.Context, sources []archiver.Source) error
	Close() error
}

// buildApp is a variable so tests can swap in a fake runner.
var buildApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runner, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type runOptions struct {
	source     string
	continuous bool
	interval   time.Duration
	noEnrich   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the enabled sources once, or continuously",
		Long: `Runs one ingestion pass over every enabled source. Individual source
failures are logged and summarized; the command only fails when configuration
is invalid or storage is unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "poll only the source with this slug")
	cmd.Flags().BoolVar(&opts.continuous, "continuous", false, "keep polling until interrupted")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "pause between continuous passes (default pipeline.interval)")
	cmd.Flags().BoolVar(&opts.noEnrich, "no-enrich", false, "skip landing-page metadata enrichment")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts runOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := *e.cfg
	if opts.noEnrich {
		cfg.Pipeline.Enrich = false
	}
	if opts.interval > 0 {
		cfg.Pipeline.Interval = opts.interval
	}

	sources, err := selectSources(&cfg, opts.source)
	if err != nil {
		return configError{err}
	}
	if len(sources) == 0 {
		e.logger.Warn("no enabled sources configured")
		return nil
	}

	app, err := buildApp(cmd.Context(), &cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			e.logger.Warn("close application failed", zap.Error(cerr))
		}
	}()

	if opts.continuous {
		return app.RunContinuous(cmd.Context(), sources)
	}

	summary, err := app.RunOnce(cmd.Context(), sources)
	printSummary(e, summary)
	return err
}

func selectSources(cfg *config.Config, slug string) ([]archiver.Source, error) {
	if slug == "" {
		return cfg.EnabledSources(), nil
	}
	src, ok := cfg.Source(slug)
	if !ok || !src.Enabled {
		return nil, fmt.Errorf("source %q not found or not enabled", slug)
	}
	return []archiver.Source{src}, nil
}

func printSummary(e *env, s dispatcher.Summary) {
	fmt.Fprintf(e.out, "run %s: %d sources, %d found, %d stored, %d duplicates, %d failed\n",
		s.RunID, s.Sources, s.Found, s.Stored, s.Duplicates, s.Failed)
	if len(s.FailedSources) > 0 {
		fmt.Fprintf(e.out, "failed sources: %s\n", strings.Join(s.FailedSources, ", "))
	}
}
