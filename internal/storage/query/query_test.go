package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

func TestFilterPostgres(t *testing.T) {
	after := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := Postgres()
	sqlText, args, err := Page(b.Filter(b.Articles(), archiver.ArticleFilter{Category: "news", After: &after}), archiver.ArticleFilter{}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlText, "WHERE a.category = $1 AND COALESCE(a.published_at, a.discovered_at) > $2")
	assert.Contains(t, sqlText, "LIMIT 50")
	assert.Equal(t, []any{"news", after}, args)
}

func TestFilterSQLiteFormatsTimes(t *testing.T) {
	since := time.Date(2025, 6, 1, 2, 3, 4, 5, time.FixedZone("x", 3600))
	b := SQLite()
	sqlText, args, err := b.Since(b.Count(), since).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM articles a WHERE a.discovered_at >= ?", sqlText)
	assert.Equal(t, []any{"2025-06-01T01:03:04.000000005Z"}, args)
}

func TestTimeRoundTripKeepsOrder(t *testing.T) {
	a := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(1500 * time.Millisecond)
	assert.Less(t, FormatTime(a), FormatTime(b))

	got, err := ParseTime(FormatTime(b))
	require.NoError(t, err)
	assert.True(t, b.Equal(got))

	got, err = ParseTime("2025-06-01T00:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, a.Add(-2*time.Hour).Equal(got))
}

func TestSearchText(t *testing.T) {
	headline, rest := SearchText(archiver.ArticleRecord{
		Headline: "Title", Description: "Lead", Body: "<p>Body <script>x()</script>text</p>",
	})
	assert.Equal(t, "Title", headline)
	assert.Contains(t, rest, "Lead")
	assert.Contains(t, rest, "Body")
	assert.NotContains(t, rest, "x()")
}
