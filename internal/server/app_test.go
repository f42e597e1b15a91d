package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/config"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/rss", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Local</title>
<item><title>Harbor reopens</title><link>%s/story</link><description>The harbor reopened.</description></item>
</channel></rss>`, base)
	})
	mux.HandleFunc("/story", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><article><p>The harbor reopened on Monday after repairs.</p></article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(sources ...archiver.Source) *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Timeout:     5 * time.Second,
			MaxAttempts: 1,
			BackoffBase: time.Millisecond,
			BackoffMax:  time.Millisecond,
		},
		Pipeline: config.PipelineConfig{SourceConcurrency: 2, Interval: time.Minute},
		Storage:  config.StorageConfig{Driver: config.DriverMemory},
		Images:   config.ImagesConfig{Backend: config.ImagesMemory},
		Sources:  sources,
	}
}

func TestBuildAndRunOnce(t *testing.T) {
	site := newSite(t)
	src := archiver.Source{
		Slug:     "local",
		Name:     "Local Paper",
		Category: "city",
		Enabled:  true,
		Feeds:    []archiver.FeedEndpoint{{URL: site.URL + "/rss"}},
	}
	cfg := testConfig(src)

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close() //nolint:errcheck // test cleanup

	summary, err := app.RunOnce(context.Background(), cfg.EnabledSources())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Sources)
	require.Equal(t, 1, summary.Stored)
	require.Empty(t, summary.FailedSources)

	got, err := app.Reader().ListArticles(context.Background(), archiver.ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, site.URL+"/story", got[0].URL)
	require.Equal(t, "Harbor reopens", got[0].Headline)
	require.Equal(t, "Local Paper", got[0].SourceName)
	require.Contains(t, got[0].Body, "harbor reopened on Monday")

	again, err := app.RunOnce(context.Background(), cfg.EnabledSources())
	require.NoError(t, err)
	require.Zero(t, again.Stored)
	require.Equal(t, 1, again.Duplicates)
}

func TestBuildServesOpsRoutes(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close() //nolint:errcheck // test cleanup

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/stats"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close() //nolint:errcheck // test cleanup

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContinuous(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("continuous run did not stop")
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := OpenStore(context.Background(), config.StorageConfig{Driver: "mysql"}, zap.NewNop())
	require.Error(t, err)
}

func TestOpenStoreSQLite(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(context.Background(), config.StorageConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: t.TempDir() + "/archive.db",
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
