package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

const healthyRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example News</title>
  <item>
    <title>First &amp; foremost</title>
    <link>https://example.com/a</link>
    <description>&lt;p&gt;Lead &lt;b&gt;paragraph&lt;/b&gt; here.&lt;/p&gt;</description>
    <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
    <dc:creator>Jane Reporter</dc:creator>
    <category>Politics</category>
    <media:thumbnail url="https://cdn.example.com/a.jpg"/>
  </item>
  <item>
    <title>Second</title>
    <link>/b</link>
    <description>Short</description>
    <enclosure url="https://cdn.example.com/b.png" type="image/png" length="10"/>
  </item>
</channel>
</rss>`

type stubFetcher struct {
	mu     sync.Mutex
	pages  map[string]archiver.FetchResponse
	errs   map[string]error
	called []string
}

func (s *stubFetcher) Fetch(_ context.Context, req archiver.FetchRequest) (archiver.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called = append(s.called, req.URL)
	if err, ok := s.errs[req.URL]; ok {
		return archiver.FetchResponse{}, err
	}
	resp, ok := s.pages[req.URL]
	if !ok {
		return archiver.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	return resp, nil
}

func collect(r *Reader, src archiver.Source) ([]archiver.Candidate, []string) {
	var failed []string
	var out []archiver.Candidate
	for c := range r.Candidates(context.Background(), src, func(endpoint string, _ error) {
		failed = append(failed, endpoint)
	}) {
		out = append(out, c)
	}
	return out, failed
}

func TestCandidatesFromSyndication(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/rss": {Body: []byte(healthyRSS)},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{{URL: "https://example.com/rss", Kind: archiver.EndpointSyndication}}}

	got, failed := collect(r, src)
	require.Empty(t, failed)
	require.Len(t, got, 2)

	first := got[0]
	require.Equal(t, "https://example.com/a", first.URL)
	require.Equal(t, "First & foremost", first.Title)
	require.Equal(t, "Lead paragraph here.", first.Description)
	require.Equal(t, "Jane Reporter", first.Byline)
	require.Equal(t, []string{"Politics"}, first.Tags)
	require.Equal(t, "https://cdn.example.com/a.jpg", first.ImageURL)
	require.NotNil(t, first.PublishHint)
	require.Equal(t, 2025, first.PublishHint.Year())

	second := got[1]
	require.Equal(t, "https://example.com/b", second.URL)
	require.Equal(t, "https://cdn.example.com/b.png", second.ImageURL)
	require.Nil(t, second.PublishHint)
}

func TestCandidatesToleratesMalformedEndpoint(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/broken": {Body: []byte("<html><body>this is not a feed</body></html>")},
		"https://example.com/rss":    {Body: []byte(healthyRSS)},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{
		{URL: "https://example.com/broken", Kind: archiver.EndpointSyndication},
		{URL: "https://example.com/rss", Kind: archiver.EndpointSyndication},
	}}

	var errs []error
	var got []archiver.Candidate
	for c := range r.Candidates(context.Background(), src, func(endpoint string, err error) {
		require.Equal(t, "https://example.com/broken", endpoint)
		errs = append(errs, err)
	}) {
		got = append(got, c)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], archiver.ErrParse)
	require.Len(t, got, 2)
	for _, c := range got {
		require.Equal(t, "https://example.com/rss", c.Endpoint)
	}
}

func TestCandidatesReportsUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		errs: map[string]error{"https://example.com/down": errors.New("connection refused")},
		pages: map[string]archiver.FetchResponse{
			"https://example.com/gone": {StatusCode: http.StatusGone},
		},
	}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{
		{URL: "https://example.com/down"},
		{URL: "https://example.com/gone"},
	}}
	got, failed := collect(r, src)
	require.Empty(t, got)
	require.Equal(t, []string{"https://example.com/down", "https://example.com/gone"}, failed)
}

func TestCandidatesFromListing(t *testing.T) {
	t.Parallel()

	page := `<html><body>
	<nav><a href="/about">About</a></nav>
	<div class="result"><h3><a href="/2025/06/story-one">  Story
	  one </a></h3></div>
	<div class="result"><h3><a href="https://example.com/2025/06/story-two#comments">Story two</a></h3></div>
	<div class="result"><h3><a href="javascript:void(0)">Broken</a></h3></div>
	</body></html>`
	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/search?q=x": {Body: []byte(page)},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{
		{URL: "https://example.com/search?q=x", Kind: archiver.EndpointListing, LinkSelector: ".result h3"},
	}}

	got, failed := collect(r, src)
	require.Empty(t, failed)
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/2025/06/story-one", got[0].URL)
	require.Equal(t, "Story one", got[0].Title)
	require.Equal(t, "https://example.com/2025/06/story-two", got[1].URL)
}

func TestCandidatesAppliesPatterns(t *testing.T) {
	t.Parallel()

	page := `<html><body>
	<a href="/news/1">One</a><a href="/news/2/video">Two</a><a href="/shop">Shop</a>
	</body></html>`
	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/": {Body: []byte(page)},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{
		Slug:        "example-news",
		Feeds:       []archiver.FeedEndpoint{{URL: "https://example.com/", Kind: archiver.EndpointListing}},
		IncludeURLs: []string{`/news/`},
		ExcludeURLs: []string{`/video$`},
	}
	got, _ := collect(r, src)
	require.Len(t, got, 1)
	require.Equal(t, "https://example.com/news/1", got[0].URL)
}

func TestCandidatesInvalidPatternReported(t *testing.T) {
	t.Parallel()

	r := New(&stubFetcher{}, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "x", BaseURL: "https://example.com", IncludeURLs: []string{"("}}
	got, failed := collect(r, src)
	require.Empty(t, got)
	require.Equal(t, []string{"https://example.com"}, failed)
}

func TestCandidatesResolvesRedirectors(t *testing.T) {
	t.Parallel()

	rss := strings.Replace(healthyRSS, "https://example.com/a", "https://news.google.com/rss/articles/abc", 1)
	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/rss":                  {Body: []byte(rss)},
		"https://news.google.com/rss/articles/abc": {URL: "https://publisher.example.org/story"},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{{URL: "https://example.com/rss"}}}
	got, _ := collect(r, src)
	require.Equal(t, "https://publisher.example.org/story", got[0].URL)
}

func TestCandidatesAppliesPatternsToResolvedURL(t *testing.T) {
	t.Parallel()

	rss := strings.Replace(healthyRSS, "https://example.com/a", "https://news.google.com/rss/articles/abc", 1)
	rss = strings.Replace(rss, "<link>/b</link>", "<link>https://news.google.com/rss/articles/def</link>", 1)
	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/rss":                  {Body: []byte(rss)},
		"https://news.google.com/rss/articles/abc": {URL: "https://publisher.example.org/politics/story"},
		"https://news.google.com/rss/articles/def": {URL: "https://publisher.example.org/sport/match"},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{
		Slug:        "example-news",
		Feeds:       []archiver.FeedEndpoint{{URL: "https://example.com/rss"}},
		IncludeURLs: []string{`^https://publisher\.example\.org/`},
		ExcludeURLs: []string{`/sport/`},
	}
	got, failed := collect(r, src)
	require.Empty(t, failed)
	require.Len(t, got, 1)
	require.Equal(t, "https://publisher.example.org/politics/story", got[0].URL)
}

func TestCandidatesIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]archiver.FetchResponse{
		"https://example.com/rss":   {Body: []byte(healthyRSS)},
		"https://example.com/other": {Body: []byte(healthyRSS)},
	}}
	r := New(fetcher, Config{}, zap.NewNop())
	src := archiver.Source{Slug: "example-news", Feeds: []archiver.FeedEndpoint{
		{URL: "https://example.com/rss"},
		{URL: "https://example.com/other"},
	}}
	seq := r.Candidates(context.Background(), src, nil)
	require.Empty(t, fetcher.called)

	for range seq {
		break
	}
	require.Equal(t, []string{"https://example.com/rss"}, fetcher.called)

	count := 0
	for range seq {
		count++
	}
	require.Equal(t, 4, count)
}

func TestPlainTextTruncates(t *testing.T) {
	t.Parallel()

	r := New(&stubFetcher{}, Config{DescriptionLimit: 10}, zap.NewNop())
	require.Equal(t, "héllo wörl", r.PlainText("<p>héllo <i>wörld</i> and more</p>"))
	require.Empty(t, r.PlainText(""))
}
