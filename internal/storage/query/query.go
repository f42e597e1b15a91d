// Package query builds the read-side SQL shared by the relational article
// stores.
package query

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/sanitize"
)

// DefaultLimit caps list and search results when the filter sets none.
const DefaultLimit = 50

// ArticleColumns are selected in this order by every read query.
var ArticleColumns = []string{
	"a.id", "a.url", "a.source_slug", "a.source_name", "a.category",
	"a.headline", "a.byline", "a.description", "a.body",
	"a.published_at", "a.discovered_at", "a.image_url", "a.image_path", "a.tags",
}

// SortExpr orders articles newest first by publish time, falling back to
// discovery time.
const SortExpr = "COALESCE(a.published_at, a.discovered_at) DESC, a.id DESC"

var plain = sanitize.New()

// TimeLayout is the fixed-width text form used where timestamps are stored as
// strings, so lexical order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Builder wraps squirrel with the placeholder and timestamp style of one
// dialect.
type Builder struct {
	sb   sq.StatementBuilderType
	time func(time.Time) any
}

// Postgres returns a Builder using $n placeholders and native timestamps.
func Postgres() Builder {
	return Builder{
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		time: func(t time.Time) any { return t.UTC() },
	}
}

// SQLite returns a Builder using ? placeholders and TimeLayout strings.
func SQLite() Builder {
	return Builder{
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		time: func(t time.Time) any { return FormatTime(t) },
	}
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a TimeLayout (or RFC 3339) timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}

// Articles selects full article rows.
func (b Builder) Articles() sq.SelectBuilder {
	return b.sb.Select(ArticleColumns...).From("articles a")
}

// Count selects a row count over articles.
func (b Builder) Count() sq.SelectBuilder {
	return b.sb.Select("COUNT(*)").From("articles a")
}

// Stats selects total articles, distinct sources and the newest sort time.
func (b Builder) Stats() sq.SelectBuilder {
	return b.sb.Select("COUNT(*)", "COUNT(DISTINCT a.source_slug)", "MAX(COALESCE(a.published_at, a.discovered_at))").
		From("articles a")
}

// Filter applies category, source and time constraints.
func (b Builder) Filter(q sq.SelectBuilder, f archiver.ArticleFilter) sq.SelectBuilder {
	if f.Category != "" {
		q = q.Where(sq.Eq{"a.category": f.Category})
	}
	if f.Source != "" {
		q = q.Where(sq.Eq{"a.source_slug": f.Source})
	}
	if f.After != nil {
		q = q.Where(sq.Gt{"COALESCE(a.published_at, a.discovered_at)": b.time(*f.After)})
	}
	return q
}

// Page applies ordering, limit and offset.
func Page(q sq.SelectBuilder, f archiver.ArticleFilter) sq.SelectBuilder {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q = q.OrderBy(SortExpr).Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

// Since restricts to articles discovered at or after ts.
func (b Builder) Since(q sq.SelectBuilder, ts time.Time) sq.SelectBuilder {
	return q.Where(sq.GtOrEq{"a.discovered_at": b.time(ts)})
}

// SearchText returns the text indexed for full-text search. The headline is
// kept separate so stores can weight it.
func SearchText(r archiver.ArticleRecord) (headline, rest string) {
	parts := []string{r.Description, r.Byline, plain.PlainText(r.Body)}
	return r.Headline, strings.TrimSpace(strings.Join(parts, " "))
}
