package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/config"
	"github.com/JakeFAU/news-archiver/internal/dispatcher"
	"github.com/JakeFAU/news-archiver/internal/storage/memory"
)

type fakeRunner struct {
	cfg        *config.Config
	sources    []archiver.Source
	continuous bool
	err        error
	closed     bool
}

func (f *fakeRunner) RunOnce(_ context.Context, sources []archiver.Source) (dispatcher.Summary, error) {
	f.sources = sources
	return dispatcher.Summary{RunID: "run-1", Sources: len(sources), Found: 3, Stored: 2, Duplicates: 1, FailedSources: []string{"beta"}}, f.err
}

func (f *fakeRunner) RunContinuous(_ context.Context, sources []archiver.Source) error {
	f.sources = sources
	f.continuous = true
	return f.err
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func stubConfig(t *testing.T, cfg config.Config, err error) {
	t.Helper()
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfig = prev })
}

func stubRunner(t *testing.T, r *fakeRunner) {
	t.Helper()
	prev := buildApp
	buildApp = func(_ context.Context, cfg *config.Config, _ *zap.Logger) (runner, error) {
		r.cfg = cfg
		return r, nil
	}
	t.Cleanup(func() { buildApp = prev })
}

func sampleConfig() config.Config {
	return config.Config{
		Pipeline: config.PipelineConfig{Enrich: true, Interval: 15 * time.Minute},
		Sources: []archiver.Source{
			{Slug: "alpha", Name: "Alpha Daily", Category: "world", Enabled: true, BypassEnabled: true,
				Feeds: []archiver.FeedEndpoint{{URL: "https://alpha.example.com/rss"}}},
			{Slug: "beta", Enabled: true, Feeds: []archiver.FeedEndpoint{{URL: "https://beta.example.com/rss"}}},
			{Slug: "paused", Enabled: false, BaseURL: "https://paused.example.com"},
		},
	}
}

func run(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	code := execute(context.Background(), root, args)
	return code, out.String(), errOut.String()
}

func TestRunAllEnabledSources(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	r := &fakeRunner{}
	stubRunner(t, r)

	code, out, _ := run("run")
	require.Equal(t, ExitOK, code)
	require.Len(t, r.sources, 2)
	require.True(t, r.closed)
	require.True(t, r.cfg.Pipeline.Enrich)
	require.Contains(t, out, "2 stored")
	require.Contains(t, out, "failed sources: beta")
}

func TestRunSingleSourceWithoutEnrichment(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	r := &fakeRunner{}
	stubRunner(t, r)

	code, _, _ := run("run", "--source", "alpha", "--no-enrich")
	require.Equal(t, ExitOK, code)
	require.Len(t, r.sources, 1)
	require.Equal(t, "alpha", r.sources[0].Slug)
	require.False(t, r.cfg.Pipeline.Enrich)
}

func TestRunUnknownOrDisabledSourceIsConfigError(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	stubRunner(t, &fakeRunner{})

	code, _, errOut := run("run", "--source", "paused")
	require.Equal(t, ExitConfigError, code)
	require.Contains(t, errOut, "not found or not enabled")
}

func TestRunContinuousUsesInterval(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	r := &fakeRunner{}
	stubRunner(t, r)

	code, _, _ := run("run", "--continuous", "--interval", "5m")
	require.Equal(t, ExitOK, code)
	require.True(t, r.continuous)
	require.Equal(t, 5*time.Minute, r.cfg.Pipeline.Interval)
}

func TestRunStorageUnavailableFails(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	stubRunner(t, &fakeRunner{err: fmt.Errorf("run pass: %w", archiver.ErrStorageUnavailable)})

	code, _, errOut := run("run")
	require.Equal(t, ExitFailure, code)
	require.Contains(t, errOut, "storage unavailable")
}

func TestInvalidConfigExitCode(t *testing.T) {
	stubConfig(t, config.Config{}, errors.New("pipeline.source_concurrency must be > 0"))

	code, _, errOut := run("sources")
	require.Equal(t, ExitConfigError, code)
	require.Contains(t, errOut, "load config")
}

func TestSourcesListsEnabled(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)

	code, out, _ := run("sources")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Alpha Daily")
	require.Contains(t, out, "beta")
	require.NotContains(t, out, "paused")

	_, out, _ = run("sources", "--all")
	require.Contains(t, out, "paused")
}

func TestSearchPrintsMatches(t *testing.T) {
	stubConfig(t, sampleConfig(), nil)
	store := memory.NewArticleStore()
	_, err := store.Store(context.Background(), archiver.ArticleRecord{
		URL:          "https://alpha.example.com/harbor",
		SourceSlug:   "alpha",
		Headline:     "Harbor reopens after storm",
		DiscoveredAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	prev := openReader
	openReader = func(context.Context, config.StorageConfig, *zap.Logger) (readStore, error) { return store, nil }
	t.Cleanup(func() { openReader = prev })

	code, out, _ := run("search", "harbor")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "Harbor reopens after storm")
	require.Contains(t, out, "2025-06-02")

	_, out, _ = run("search", "volcano")
	require.Contains(t, out, "no matching articles")
}
