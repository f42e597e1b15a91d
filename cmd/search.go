package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/config"
	"github.com/JakeFAU/news-archiver/internal/server"
)

// readStore is the read side plus Close.
type readStore interface {
	archiver.ArticleReader
	Close() error
}

// openReader is a variable so tests can substitute an in-memory store.
var openReader = func(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (readStore, error) {
	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newSearchCmd() *cobra.Command {
	var filter archiver.ArticleFilter
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored articles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openReader(cmd.Context(), e.cfg.Storage, e.logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					e.logger.Warn("close store failed", zap.Error(cerr))
				}
			}()

			results, err := store.Search(cmd.Context(), strings.Join(args, " "), filter)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Fprintln(e.out, "no matching articles")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(e.out, "%d\t%s\t%s\t%s\n", r.ID, r.SortTime().Format("2006-01-02"), r.SourceSlug, r.Headline)
				fmt.Fprintf(e.out, "\t%s\n", r.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Category, "category", "", "restrict to a category")
	cmd.Flags().StringVar(&filter.Source, "source", "", "restrict to a source slug")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum results")
	return cmd
}
