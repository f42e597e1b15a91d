// Package cmd defines and implements the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/config"
	"github.com/JakeFAU/news-archiver/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// configError marks failures caused by invalid configuration.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand receives from the root command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

// loadConfig is a variable so tests can inject configuration.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Ingest, deduplicate and archive articles from configured news sources.",
		Long: `archiver polls syndication feeds and listing pages of the configured
sources, resolves full article text (falling back through a chain of paywall
bypass strategies when a source allows it), and stores sanitized,
searchable records.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return configError{fmt.Errorf("load config: %w", err)}
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return configError{fmt.Errorf("logger init failed: %w", err)}
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), envKey, &env{cfg: &cfg, logger: logger, out: cmd.OutOrStdout()})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newSearchCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitFailure
}
