// Package sqlite provides a single-file article store with FTS5 search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/storage/query"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	url           TEXT NOT NULL UNIQUE,
	source_slug   TEXT NOT NULL,
	source_name   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	headline      TEXT NOT NULL DEFAULT '',
	byline        TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	published_at  TEXT,
	discovered_at TEXT NOT NULL,
	image_url     TEXT NOT NULL DEFAULT '',
	image_path    TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS articles_source_idx ON articles (source_slug);
CREATE VIRTUAL TABLE IF NOT EXISTS article_search USING fts5(headline, content);
CREATE TABLE IF NOT EXISTS source_checks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	source_slug     TEXT NOT NULL,
	checked_at      TEXT NOT NULL,
	success         INTEGER NOT NULL,
	items_found     INTEGER NOT NULL,
	items_new       INTEGER NOT NULL,
	items_stored    INTEGER NOT NULL,
	items_duplicate INTEGER NOT NULL,
	items_failed    INTEGER NOT NULL,
	endpoint_errors INTEGER NOT NULL,
	error_text      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS source_checks_slug_idx ON source_checks (source_slug, checked_at);
`

// ArticleStore keeps articles in a SQLite database file.
type ArticleStore struct {
	db *sql.DB
	qb query.Builder
}

var (
	_ archiver.ArticleStore  = (*ArticleStore)(nil)
	_ archiver.ArticleReader = (*ArticleStore)(nil)
)

// Open opens or creates the database at path and applies the schema. Writes
// are serialized over a single connection.
func Open(ctx context.Context, path string) (*ArticleStore, error) {
	if path == "" {
		return nil, errors.New("storage.sqlite_path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database dir: %w", archiver.ErrStorageUnavailable, err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", archiver.ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate sqlite: %w", archiver.ErrStorageUnavailable, err)
	}
	return &ArticleStore{db: db, qb: query.SQLite()}, nil
}

// Close closes the database.
func (s *ArticleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping reports whether the database is usable.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Store inserts record unless its URL exists, together with its search row.
func (s *ArticleStore) Store(ctx context.Context, record archiver.ArticleRecord) (archiver.StoreResult, error) {
	if record.URL == "" {
		return archiver.StoreResult{}, errors.New("record url is required")
	}
	tags, err := json.Marshal(nonNil(record.Tags))
	if err != nil {
		return archiver.StoreResult{}, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return archiver.StoreResult{}, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var published any
	if record.PublishedAt != nil {
		published = query.FormatTime(*record.PublishedAt)
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO articles (
	url, source_slug, source_name, category, headline, byline, description,
	body, published_at, discovered_at, image_url, image_path, tags
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (url) DO NOTHING`,
		record.URL, record.SourceSlug, record.SourceName, record.Category,
		record.Headline, record.Byline, record.Description, record.Body,
		published, query.FormatTime(record.DiscoveredAt),
		record.Image.RemoteURL, record.Image.LocalPath, string(tags),
	)
	if err != nil {
		return archiver.StoreResult{}, unavailable("insert article", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return archiver.StoreResult{}, unavailable("rows affected", err)
	}
	if affected == 0 {
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE url = ?`, record.URL).Scan(&id); err != nil {
			return archiver.StoreResult{}, unavailable("lookup duplicate", err)
		}
		return archiver.StoreResult{Outcome: archiver.Duplicate, ID: id}, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return archiver.StoreResult{}, unavailable("last insert id", err)
	}

	headline, rest := query.SearchText(record)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO article_search (rowid, headline, content) VALUES (?, ?, ?)`, id, headline, rest); err != nil {
		return archiver.StoreResult{}, unavailable("insert search row", err)
	}
	if err := tx.Commit(); err != nil {
		return archiver.StoreResult{}, unavailable("commit", err)
	}
	return archiver.StoreResult{Outcome: archiver.Stored, ID: id}, nil
}

// ExistingURLs returns the subset of urls already stored.
func (s *ArticleStore) ExistingURLs(ctx context.Context, urls []string) (archiver.URLSet, error) {
	set := archiver.URLSet{}
	if len(urls) == 0 {
		return set, nil
	}
	sqlText, args, err := sq.Select("url").From("articles").Where(sq.Eq{"url": urls}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, unavailable("query existing urls", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, unavailable("scan url", err)
		}
		set.Add(u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate urls", err)
	}
	return set, nil
}

// AppendCheckLog records one poll of a source.
func (s *ArticleStore) AppendCheckLog(ctx context.Context, log archiver.SourceCheckLog) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO source_checks (
	run_id, source_slug, checked_at, success, items_found, items_new,
	items_stored, items_duplicate, items_failed, endpoint_errors, error_text
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		log.RunID, log.SourceSlug, query.FormatTime(log.CheckedAt), log.Success,
		log.ItemsFound, log.ItemsNew, log.ItemsStored, log.ItemsDuplicate,
		log.ItemsFailed, log.EndpointErrors, log.ErrorText,
	)
	if err != nil {
		return unavailable("insert check log", err)
	}
	return nil
}

// LastCheck returns the most recent check time for slug, or the zero time.
func (s *ArticleStore) LastCheck(ctx context.Context, slug string) (time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(checked_at) FROM source_checks WHERE source_slug = ?`, slug).Scan(&last)
	if err != nil {
		return time.Time{}, unavailable("query last check", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return query.ParseTime(last.String)
}

// GetArticle loads one article by id.
func (s *ArticleStore) GetArticle(ctx context.Context, id int64) (archiver.ArticleRecord, error) {
	sqlText, args, err := s.qb.Articles().Where(sq.Eq{"a.id": id}).ToSql()
	if err != nil {
		return archiver.ArticleRecord{}, fmt.Errorf("build query: %w", err)
	}
	record, err := scanArticle(s.db.QueryRowContext(ctx, sqlText, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return archiver.ArticleRecord{}, fmt.Errorf("article %d: %w", id, archiver.ErrNotFound)
	}
	if err != nil {
		return archiver.ArticleRecord{}, unavailable("get article", err)
	}
	return record, nil
}

// ListArticles returns articles newest first.
func (s *ArticleStore) ListArticles(ctx context.Context, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	return s.list(ctx, query.Page(s.qb.Filter(s.qb.Articles(), filter), filter))
}

// Search runs an FTS5 match, best rank first. Each query word is quoted so
// user input cannot inject FTS syntax.
func (s *ArticleStore) Search(ctx context.Context, text string, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	q := s.qb.Articles().
		Join("article_search ON article_search.rowid = a.id").
		Where("article_search MATCH ?", match).
		OrderBy("bm25(article_search, 5.0, 1.0)")
	return s.list(ctx, query.Page(s.qb.Filter(q, filter), filter))
}

// CountSince counts articles discovered at or after since.
func (s *ArticleStore) CountSince(ctx context.Context, since time.Time, filter archiver.ArticleFilter) (int, error) {
	sqlText, args, err := s.qb.Since(s.qb.Filter(s.qb.Count(), filter), since).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, unavailable("count articles", err)
	}
	return n, nil
}

// Stats summarizes the archive.
func (s *ArticleStore) Stats(ctx context.Context) (archiver.Stats, error) {
	sqlText, args, err := s.qb.Stats().ToSql()
	if err != nil {
		return archiver.Stats{}, fmt.Errorf("build query: %w", err)
	}
	var st archiver.Stats
	var newest sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&st.TotalArticles, &st.TotalSources, &newest); err != nil {
		return archiver.Stats{}, unavailable("stats", err)
	}
	if newest.Valid {
		ts, err := query.ParseTime(newest.String)
		if err != nil {
			return archiver.Stats{}, fmt.Errorf("parse newest: %w", err)
		}
		st.Newest = &ts
	}
	return st, nil
}

func (s *ArticleStore) list(ctx context.Context, q sq.SelectBuilder) ([]archiver.ArticleRecord, error) {
	sqlText, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, unavailable("list articles", err)
	}
	defer func() { _ = rows.Close() }()
	var out []archiver.ArticleRecord
	for rows.Next() {
		record, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate articles", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (archiver.ArticleRecord, error) {
	var (
		r          archiver.ArticleRecord
		published  sql.NullString
		discovered string
		tags       string
	)
	err := row.Scan(
		&r.ID, &r.URL, &r.SourceSlug, &r.SourceName, &r.Category,
		&r.Headline, &r.Byline, &r.Description, &r.Body,
		&published, &discovered, &r.Image.RemoteURL, &r.Image.LocalPath, &tags,
	)
	if err != nil {
		return r, err
	}
	if r.DiscoveredAt, err = query.ParseTime(discovered); err != nil {
		return r, fmt.Errorf("parse discovered_at: %w", err)
	}
	if published.Valid {
		ts, err := query.ParseTime(published.String)
		if err != nil {
			return r, fmt.Errorf("parse published_at: %w", err)
		}
		r.PublishedAt = &ts
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return r, fmt.Errorf("decode tags: %w", err)
	}
	return r, nil
}

// ftsQuery turns free text into an FTS5 query of quoted terms.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", archiver.ErrStorageUnavailable, op, err)
}
