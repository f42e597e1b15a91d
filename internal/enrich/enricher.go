// Package enrich turns a candidate into an article record using the
// landing page's preview metadata.
package enrich

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

const excerptRunes = 300

// ImageCache stores preview images and returns their blob path.
type ImageCache interface {
	Ensure(ctx context.Context, slug, imageURL string) (string, error)
}

// Enricher fetches landing pages and fills record gaps. Values from the feed
// are never overwritten.
type Enricher struct {
	fetcher archiver.Fetcher
	images  ImageCache
	clock   archiver.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// Config tunes the enricher.
type Config struct {
	Timeout time.Duration
}

// New builds an Enricher. images may be nil to skip image caching.
func New(fetcher archiver.Fetcher, images ImageCache, clock archiver.Clock, cfg Config, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		fetcher: fetcher,
		images:  images,
		clock:   clock,
		timeout: cfg.Timeout,
		logger:  logger.Named("enrich"),
	}
}

// Base builds a record from feed-derived fields only.
func (e *Enricher) Base(src archiver.Source, c archiver.Candidate) archiver.ArticleRecord {
	return archiver.ArticleRecord{
		URL:          c.URL,
		SourceSlug:   src.Slug,
		SourceName:   src.DisplayName(),
		Category:     src.Category,
		Headline:     c.Title,
		Byline:       c.Byline,
		Description:  c.Description,
		PublishedAt:  c.PublishHint,
		DiscoveredAt: e.clock.Now(),
		Image:        archiver.PreviewImage{RemoteURL: c.ImageURL},
		Tags:         append([]string(nil), c.Tags...),
	}
}

// Enrich fetches the candidate's landing page and fills missing fields.
// Failures are logged; the feed-derived record is always returned.
func (e *Enricher) Enrich(ctx context.Context, src archiver.Source, c archiver.Candidate) archiver.ArticleRecord {
	record := e.Base(src, c)
	logger := e.logger.With(zap.String("source", src.Slug), zap.String("url", c.URL))

	resp, err := e.fetcher.Fetch(ctx, archiver.FetchRequest{
		SourceSlug:  src.Slug,
		URL:         c.URL,
		Timeout:     e.timeout,
		MinInterval: src.MinInterval,
	})
	switch {
	case err != nil:
		logger.Debug("landing page fetch failed", zap.Error(err))
	case resp.StatusCode != http.StatusOK:
		logger.Debug("landing page unavailable", zap.Int("status", resp.StatusCode))
	default:
		e.apply(&record, resp, src.Selectors, logger)
	}

	e.cacheImage(ctx, src, &record, logger)
	return record
}

// CacheImage stores the record's preview image when one is known.
func (e *Enricher) CacheImage(ctx context.Context, src archiver.Source, record *archiver.ArticleRecord) {
	e.cacheImage(ctx, src, record, e.logger.With(zap.String("source", src.Slug), zap.String("url", record.URL)))
}

func (e *Enricher) apply(record *archiver.ArticleRecord, resp archiver.FetchResponse, rules []archiver.SelectorRule, logger *zap.Logger) {
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = record.URL
	}
	md, err := Extract(resp.Body, pageURL, rules)
	if err != nil {
		logger.Debug("metadata extraction failed", zap.Error(err))
		return
	}
	if record.Headline == "" {
		record.Headline = md.Title
	}
	if record.Byline == "" {
		record.Byline = md.Byline
	}
	if record.Description == "" {
		record.Description = md.Description
	}
	if record.Description == "" {
		record.Description = excerpt(resp.Body, pageURL)
	}
	if record.Image.RemoteURL == "" {
		record.Image.RemoteURL = md.ImageURL
	}
	if record.PublishedAt == nil {
		record.PublishedAt = md.Published
	}
}

func (e *Enricher) cacheImage(ctx context.Context, src archiver.Source, record *archiver.ArticleRecord, logger *zap.Logger) {
	if e.images == nil || record.Image.RemoteURL == "" || record.Image.LocalPath != "" {
		return
	}
	local, err := e.images.Ensure(ctx, src.Slug, record.Image.RemoteURL)
	if err != nil {
		logger.Debug("image cache failed", zap.String("image", record.Image.RemoteURL), zap.Error(err))
		return
	}
	record.Image.LocalPath = local
}

// excerpt derives a short description from the readable article text.
func excerpt(page []byte, pageURL string) string {
	u, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(page), u)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	text := collapse(buf.String())
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	cut := string(runes[:excerptRunes])
	if i := strings.LastIndexAny(cut, ".!?"); i > excerptRunes/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
