package postgres

// Schema creates the tables used by ArticleStore. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
	id            BIGSERIAL PRIMARY KEY,
	url           TEXT NOT NULL UNIQUE,
	source_slug   TEXT NOT NULL,
	source_name   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	headline      TEXT NOT NULL DEFAULT '',
	byline        TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	published_at  TIMESTAMPTZ,
	discovered_at TIMESTAMPTZ NOT NULL,
	image_url     TEXT NOT NULL DEFAULT '',
	image_path    TEXT NOT NULL DEFAULT '',
	tags          TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS articles_source_idx ON articles (source_slug);
CREATE INDEX IF NOT EXISTS articles_sort_idx ON articles ((COALESCE(published_at, discovered_at)) DESC);

CREATE TABLE IF NOT EXISTS article_search (
	article_id BIGINT PRIMARY KEY REFERENCES articles (id) ON DELETE CASCADE,
	document   TSVECTOR NOT NULL
);
CREATE INDEX IF NOT EXISTS article_search_document_idx ON article_search USING GIN (document);

CREATE TABLE IF NOT EXISTS source_checks (
	id              BIGSERIAL PRIMARY KEY,
	run_id          TEXT NOT NULL,
	source_slug     TEXT NOT NULL,
	checked_at      TIMESTAMPTZ NOT NULL,
	success         BOOLEAN NOT NULL,
	items_found     INTEGER NOT NULL,
	items_new       INTEGER NOT NULL,
	items_stored    INTEGER NOT NULL,
	items_duplicate INTEGER NOT NULL,
	items_failed    INTEGER NOT NULL,
	endpoint_errors INTEGER NOT NULL,
	error_text      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS source_checks_slug_idx ON source_checks (source_slug, checked_at DESC);
`
