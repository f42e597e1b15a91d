package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 500
	readTimeout         = 3 * time.Second
)

// ArticleHandler exposes read-only article endpoints.
type ArticleHandler struct {
	reader  archiver.ArticleReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewArticleHandler wires the reader and logger.
func NewArticleHandler(reader archiver.ArticleReader, logger *zap.Logger) *ArticleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleHandler{
		reader:  reader,
		timeout: readTimeout,
		logger:  logger,
	}
}

// ListArticles handles GET /v1/articles?category=&source=&after=&limit=&offset=.
// It returns {"articles": [...]} newest first, 400 for invalid filters, 503
// when no reader is configured, or 500 if the store fails.
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	articles, err := h.reader.ListArticles(ctx, filter)
	if err != nil {
		h.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": toArticleDTOs(articles)})
}

// GetArticle handles GET /v1/articles/{article_id}. It returns
// {"article": {...}} including the sanitized body, 400 for malformed IDs, or
// 404 when the store reports archiver.ErrNotFound.
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	id, err := parseArticleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	article, err := h.reader.GetArticle(ctx, id)
	if err != nil {
		if errors.Is(err, archiver.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		h.logger.Error("get article failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load article")
		return
	}
	dto := toArticleDTO(article)
	dto.Body = article.Body
	writeJSON(w, http.StatusOK, map[string]any{"article": dto})
}

// Search handles GET /v1/search?q=&category=&source=&limit=&offset=.
func (h *ArticleHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	articles, err := h.reader.Search(ctx, query, filter)
	if err != nil {
		h.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": toArticleDTOs(articles)})
}

// Stats handles GET /v1/stats?since=. When since is given the response also
// carries the number of articles newer than it.
func (h *ArticleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.reader.Stats(ctx)
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	body := map[string]any{"stats": stats}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		n, countErr := h.reader.CountSince(ctx, since, archiver.ArticleFilter{})
		if countErr != nil {
			h.logger.Error("count since failed", zap.Error(countErr))
			writeError(w, http.StatusInternalServerError, "failed to load stats")
			return
		}
		body["new_since"] = n
	}
	writeJSON(w, http.StatusOK, body)
}

func parseArticleID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "article_id")
	if raw == "" {
		return 0, errors.New("article_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid article_id")
	}
	return id, nil
}

func parseFilter(r *http.Request) (archiver.ArticleFilter, error) {
	q := r.URL.Query()
	limit, offset, err := parseLimitOffset(r, defaultArticleLimit, maxArticleLimit)
	if err != nil {
		return archiver.ArticleFilter{}, err
	}
	filter := archiver.ArticleFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Source:   strings.TrimSpace(q.Get("source")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := q.Get("after"); raw != "" {
		after, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return archiver.ArticleFilter{}, errors.New("invalid after")
		}
		filter.After = &after
	}
	return filter, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toArticleDTOs(in []archiver.ArticleRecord) []articleDTO {
	out := make([]articleDTO, 0, len(in))
	for _, a := range in {
		out = append(out, toArticleDTO(a))
	}
	return out
}

func toArticleDTO(a archiver.ArticleRecord) articleDTO {
	return articleDTO{
		ID:           a.ID,
		URL:          a.URL,
		Source:       a.SourceSlug,
		SourceName:   a.SourceName,
		Category:     a.Category,
		Headline:     a.Headline,
		Byline:       a.Byline,
		Description:  a.Description,
		PublishedAt:  a.PublishedAt,
		DiscoveredAt: a.DiscoveredAt,
		ImageURL:     a.Image.RemoteURL,
		ImagePath:    a.Image.LocalPath,
		Tags:         a.Tags,
	}
}

type articleDTO struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	Source       string     `json:"source"`
	SourceName   string     `json:"source_name"`
	Category     string     `json:"category"`
	Headline     string     `json:"headline"`
	Byline       string     `json:"byline,omitempty"`
	Description  string     `json:"description,omitempty"`
	Body         string     `json:"body,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ImageURL     string     `json:"image_url,omitempty"`
	ImagePath    string     `json:"image_path,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}
