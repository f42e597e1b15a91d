package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

func article(url, slug, headline string, published time.Time) archiver.ArticleRecord {
	return archiver.ArticleRecord{
		URL: url, SourceSlug: slug, Category: "news", Headline: headline,
		Body: "<p>About " + headline + "</p>", PublishedAt: &published, DiscoveredAt: published,
	}
}

func TestArticleStoreDuplicate(t *testing.T) {
	t.Parallel()
	store := NewArticleStore()
	ctx := context.Background()
	now := time.Now()

	first, err := store.Store(ctx, article("https://a", "s", "One", now))
	require.NoError(t, err)
	second, err := store.Store(ctx, article("https://a", "s", "Other", now))
	require.NoError(t, err)
	assert.Equal(t, archiver.Stored, first.Outcome)
	assert.Equal(t, archiver.Duplicate, second.Outcome)
	assert.Equal(t, first.ID, second.ID)

	got, err := store.GetArticle(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "One", got.Headline)

	_, err = store.GetArticle(ctx, 42)
	require.ErrorIs(t, err, archiver.ErrNotFound)
}

func TestArticleStoreConcurrentInserts(t *testing.T) {
	t.Parallel()
	store := NewArticleStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Store(context.Background(), article("https://race", "s", "Race", time.Now()))
			assert.NoError(t, err)
			if res.Outcome == archiver.Stored {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, stored)
}

func TestArticleStoreReadSide(t *testing.T) {
	t.Parallel()
	store := NewArticleStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, _ = store.Store(ctx, article("https://1", "alpha", "Harbor bridge reopens", base))
	_, _ = store.Store(ctx, article("https://2", "beta", "School budget vote", base.Add(time.Hour)))
	_, _ = store.Store(ctx, article("https://3", "alpha", "Bridge tolls rise", base.Add(2*time.Hour)))

	all, err := store.ListArticles(ctx, archiver.ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://3", all[0].URL)

	hits, err := store.Search(ctx, "BRIDGE", archiver.ArticleFilter{Source: "alpha"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://3", hits[0].URL)

	paged, err := store.ListArticles(ctx, archiver.ArticleFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "https://2", paged[0].URL)

	none, err := store.ListArticles(ctx, archiver.ArticleFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := store.CountSince(ctx, base.Add(time.Hour), archiver.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalArticles)
	assert.Equal(t, 2, st.TotalSources)
	assert.True(t, base.Add(2*time.Hour).Equal(*st.Newest))

	set, err := store.ExistingURLs(ctx, []string{"https://1", "https://9"})
	require.NoError(t, err)
	assert.Len(t, set, 1)
}

func TestArticleStoreCheckLogs(t *testing.T) {
	t.Parallel()
	store := NewArticleStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendCheckLog(ctx, archiver.SourceCheckLog{SourceSlug: "a", CheckedAt: base.Add(time.Minute)}))
	require.NoError(t, store.AppendCheckLog(ctx, archiver.SourceCheckLog{SourceSlug: "a", CheckedAt: base}))

	last, err := store.LastCheck(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Minute), last)
	assert.Len(t, store.CheckLogs(), 2)

	last, err = store.LastCheck(ctx, "b")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
