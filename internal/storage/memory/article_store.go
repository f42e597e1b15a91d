package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/storage/query"
)

// ArticleStore implements the article store in memory.
type ArticleStore struct {
	mu       sync.RWMutex
	nextID   int64
	articles map[int64]archiver.ArticleRecord
	byURL    map[string]int64
	search   map[int64]string
	checks   []archiver.SourceCheckLog
}

var (
	_ archiver.ArticleStore  = (*ArticleStore)(nil)
	_ archiver.ArticleReader = (*ArticleStore)(nil)
)

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles: make(map[int64]archiver.ArticleRecord),
		byURL:    make(map[string]int64),
		search:   make(map[int64]string),
	}
}

// Store inserts record unless its URL exists.
func (s *ArticleStore) Store(_ context.Context, record archiver.ArticleRecord) (archiver.StoreResult, error) {
	if record.URL == "" {
		return archiver.StoreResult{}, fmt.Errorf("record url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURL[record.URL]; ok {
		return archiver.StoreResult{Outcome: archiver.Duplicate, ID: id}, nil
	}
	s.nextID++
	record.ID = s.nextID
	record.Tags = append([]string(nil), record.Tags...)
	s.articles[record.ID] = record
	s.byURL[record.URL] = record.ID
	headline, rest := query.SearchText(record)
	s.search[record.ID] = strings.ToLower(headline + " " + rest)
	return archiver.StoreResult{Outcome: archiver.Stored, ID: record.ID}, nil
}

// ExistingURLs returns the subset of urls already stored.
func (s *ArticleStore) ExistingURLs(_ context.Context, urls []string) (archiver.URLSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := archiver.URLSet{}
	for _, u := range urls {
		if _, ok := s.byURL[u]; ok {
			set.Add(u)
		}
	}
	return set, nil
}

// AppendCheckLog records one poll of a source.
func (s *ArticleStore) AppendCheckLog(_ context.Context, log archiver.SourceCheckLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, log)
	return nil
}

// LastCheck returns the most recent check time for slug, or the zero time.
func (s *ArticleStore) LastCheck(_ context.Context, slug string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, c := range s.checks {
		if c.SourceSlug == slug && c.CheckedAt.After(last) {
			last = c.CheckedAt
		}
	}
	return last, nil
}

// CheckLogs returns a copy of every appended log.
func (s *ArticleStore) CheckLogs() []archiver.SourceCheckLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]archiver.SourceCheckLog(nil), s.checks...)
}

// Close is a no-op.
func (s *ArticleStore) Close() error { return nil }

// GetArticle loads one article by id.
func (s *ArticleStore) GetArticle(_ context.Context, id int64) (archiver.ArticleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.articles[id]
	if !ok {
		return archiver.ArticleRecord{}, fmt.Errorf("article %d: %w", id, archiver.ErrNotFound)
	}
	return r, nil
}

// ListArticles returns articles newest first.
func (s *ArticleStore) ListArticles(_ context.Context, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.matching(filter, nil), filter), nil
}

// Search returns articles containing every word of text.
func (s *ArticleStore) Search(_ context.Context, text string, filter archiver.ArticleFilter) ([]archiver.ArticleRecord, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.matching(filter, func(id int64) bool {
		doc := s.search[id]
		for _, t := range terms {
			if !strings.Contains(doc, t) {
				return false
			}
		}
		return true
	}), filter), nil
}

// CountSince counts articles discovered at or after since.
func (s *ArticleStore) CountSince(_ context.Context, since time.Time, filter archiver.ArticleFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.matching(filter, nil) {
		if !r.DiscoveredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Stats summarizes the archive.
func (s *ArticleStore) Stats(_ context.Context) (archiver.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := map[string]struct{}{}
	var st archiver.Stats
	for _, r := range s.articles {
		st.TotalArticles++
		sources[r.SourceSlug] = struct{}{}
		if ts := r.SortTime(); st.Newest == nil || ts.After(*st.Newest) {
			st.Newest = &ts
		}
	}
	st.TotalSources = len(sources)
	return st, nil
}

func (s *ArticleStore) matching(filter archiver.ArticleFilter, keep func(int64) bool) []archiver.ArticleRecord {
	var out []archiver.ArticleRecord
	for id, r := range s.articles {
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		if filter.Source != "" && r.SourceSlug != filter.Source {
			continue
		}
		if filter.After != nil && !r.SortTime().After(*filter.After) {
			continue
		}
		if keep != nil && !keep(id) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SortTime(), out[j].SortTime()
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out
}

func page(records []archiver.ArticleRecord, filter archiver.ArticleFilter) []archiver.ArticleRecord {
	limit := filter.Limit
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	if filter.Offset >= len(records) {
		return nil
	}
	records = records[filter.Offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
