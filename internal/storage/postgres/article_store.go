// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/storage/query"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies Schema on open.
	Migrate bool
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore persists articles, search documents and source check logs.
type ArticleStore struct {
	pool Pool
	qb   query.Builder
}

var (
	_ archiver.ArticleStore  = (*ArticleStore)(nil)
	_ archiver.ArticleReader = (*ArticleStore)(nil)
)

const (
	insertArticleSQL = `
INSERT INTO articles (
	url, source_slug, source_name, category, headline, byline, description,
	body, published_at, discovered_at, image_url, image_path, tags
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (url) DO NOTHING
RETURNING id`

	existingIDSQL = `SELECT id FROM articles WHERE url = $1`

	insertSearchSQL = `
INSERT INTO article_search (article_id, document)
VALUES ($1, setweight(to_tsvector('simple', $2), 'A') || to_tsvector('simple', $3))`

	existingURLsSQL = `SELECT url FROM articles WHERE url = ANY($1)`

	insertCheckSQL = `
INSERT INTO source_checks (
	run_id, source_slug, checked_at, success, items_found, items_new,
	items_stored, items_duplicate, items_failed, endpoint_errors, error_text
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	lastCheckSQL = `SELECT MAX(checked_at) FROM source_checks WHERE source_slug = $1`
)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", archiver.ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", archiver.ErrStorageUnavailable, err)
	}
	store := &ArticleStore{pool: pool, qb: query.Postgres()}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*ArticleStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ArticleStore{pool: pool, qb: query.Postgres()}, nil
}

// Migrate applies Schema.
func (s *ArticleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return classify("migrate", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Store inserts record unless its URL exists. The article row and its search
// document are written in one transaction; a conflicting URL, including one
// committed concurrently, is reported as Duplicate.
func (s *ArticleStore) Store(ctx context.Context, record archiver.ArticleRecord) (archiver.StoreResult, error) {
	if record.URL == "" {
		return archiver.StoreResult{}, errors.New("record url is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return archiver.StoreResult{}, classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	var id int64
	err = tx.QueryRow(ctx, insertArticleSQL,
		record.URL,
		record.SourceSlug,
		record.SourceName,
		record.Category,
		record.Headline,
		record.Byline,
		record.Description,
		record.Body,
		record.PublishedAt,
		record.DiscoveredAt,
		record.Image.RemoteURL,
		record.Image.LocalPath,
		tags,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.QueryRow(ctx, existingIDSQL, record.URL).Scan(&id); err != nil {
			return archiver.StoreResult{}, classify("lookup duplicate", err)
		}
		return archiver.StoreResult{Outcome: archiver.Duplicate, ID: id}, nil
	}
	if err != nil {
		return archiver.StoreResult{}, classify("insert article", err)
	}

	headline, rest := query.SearchText(record)
	if _, err := tx.Exec(ctx, insertSearchSQL, id, headline, rest); err != nil {
		return archiver.StoreResult{}, classify("insert search document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return archiver.StoreResult{}, classify("commit", err)
	}
	return archiver.StoreResult{Outcome: archiver.Stored, ID: id}, nil
}

// ExistingURLs returns the subset of urls already stored.
func (s *ArticleStore) ExistingURLs(ctx context.Context, urls []string) (archiver.URLSet, error) {
	set := archiver.URLSet{}
	if len(urls) == 0 {
		return set, nil
	}
	rows, err := s.pool.Query(ctx, existingURLsSQL, urls)
	if err != nil {
		return nil, classify("query existing urls", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, classify("scan url", err)
		}
		set.Add(u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate urls", err)
	}
	return set, nil
}

// AppendCheckLog records one poll of a source.
func (s *ArticleStore) AppendCheckLog(ctx context.Context, log archiver.SourceCheckLog) error {
	_, err := s.pool.Exec(ctx, insertCheckSQL,
		log.RunID,
		log.SourceSlug,
		log.CheckedAt,
		log.Success,
		log.ItemsFound,
		log.ItemsNew,
		log.ItemsStored,
		log.ItemsDuplicate,
		log.ItemsFailed,
		log.EndpointErrors,
		log.ErrorText,
	)
	if err != nil {
		return classify("insert check log", err)
	}
	return nil
}

// LastCheck returns the most recent check time for slug, or the zero time.
func (s *ArticleStore) LastCheck(ctx context.Context, slug string) (time.Time, error) {
	var last *time.Time
	if err := s.pool.QueryRow(ctx, lastCheckSQL, slug).Scan(&last); err != nil {
		return time.Time{}, classify("query last check", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// GetArticle loads one article by id.
func (s *ArticleStore) GetArticle(ctx context.Context, id int64) (archiver.ArticleRecord, error) {
	sqlText, args, err := s.qb.Articles().Where(sq.Eq{"a.id": id}).ToSql()
	if err != nil {
		return archiver.ArticleRecord{}, fmt.Errorf("build query: %w", err)
	}
	record, err := scanArticle(s.pool.QueryRow(ctx, sqlText, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return archiver.ArticleRecord{}, fmt.Errorf("article %d: %w", id, archiver.ErrNotFound)
	}
	if err != nil {
		return archiver.ArticleRecord{}, classify("get article", err)
	}
	return record, nil
}

// ListArticles returns articles newest first.
func (s *ArticleStore) ListArticles(ctx context.Context, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	return s.list(ctx, query.Page(s.qb.Filter(s.qb.Articles(), filter), filter))
}

// Search returns articles matching the full-text query, best match first.
func (s *ArticleStore) Search(ctx context.Context, text string, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	q := s.qb.Articles().
		Join("article_search s ON s.article_id = a.id").
		Where("s.document @@ plainto_tsquery('simple', ?)", text).
		OrderByClause("ts_rank(s.document, plainto_tsquery('simple', ?)) DESC", text)
	return s.list(ctx, query.Page(s.qb.Filter(q, filter), filter))
}

// CountSince counts articles discovered at or after since.
func (s *ArticleStore) CountSince(ctx context.Context, since time.Time, filter archiver.ArticleFilter) (int, error) {
	sqlText, args, err := s.qb.Since(s.qb.Filter(s.qb.Count(), filter), since).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, classify("count articles", err)
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
	if err := s.pool.QueryRow(ctx, sqlText, args...).Scan(&st.TotalArticles, &st.TotalSources, &st.Newest); err != nil {
		return archiver.Stats{}, classify("stats", err)
	}
	return st, nil
}

func (s *ArticleStore) list(ctx context.Context, q sq.SelectBuilder) ([]archiver.ArticleRecord, error) {
	sqlText, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, classify("list articles", err)
	}
	defer rows.Close()
	var out []archiver.ArticleRecord
	for rows.Next() {
		record, err := scanArticle(rows)
		if err != nil {
			return nil, classify("scan article", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate articles", err)
	}
	return out, nil
}

func scanArticle(row pgx.Row) (archiver.ArticleRecord, error) {
	var r archiver.ArticleRecord
	err := row.Scan(
		&r.ID, &r.URL, &r.SourceSlug, &r.SourceName, &r.Category,
		&r.Headline, &r.Byline, &r.Description, &r.Body,
		&r.PublishedAt, &r.DiscoveredAt, &r.Image.RemoteURL, &r.Image.LocalPath, &r.Tags,
	)
	return r, err
}

// classify wraps err, marking anything that is not a server-side statement
// error as storage unavailability.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", archiver.ErrStorageUnavailable, op, err)
	}
}
