// Package feed turns a source's endpoints into candidate article references.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

const (
	defaultLinkSelector     = "a[href]"
	defaultDescriptionLimit = 500
)

// DefaultRedirectors are hosts whose item links point at an interstitial
// rather than the article itself.
var DefaultRedirectors = []string{"news.google.com"}

// Config tunes the reader.
type Config struct {
	RedirectorHosts  []string
	DescriptionLimit int
	Timeout          time.Duration
}

// Reader polls syndication feeds and listing pages through a Fetcher.
type Reader struct {
	fetcher     archiver.Fetcher
	strip       *bluemonday.Policy
	redirectors map[string]struct{}
	descLimit   int
	timeout     time.Duration
	logger      *zap.Logger
}

// New builds a Reader.
func New(fetcher archiver.Fetcher, cfg Config, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	hosts := cfg.RedirectorHosts
	if hosts == nil {
		hosts = DefaultRedirectors
	}
	redirectors := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		redirectors[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	limit := cfg.DescriptionLimit
	if limit <= 0 {
		limit = defaultDescriptionLimit
	}
	strip := bluemonday.StrictPolicy()
	strip.AddSpaceWhenStrippingTag(true)
	return &Reader{
		fetcher:     fetcher,
		strip:       strip,
		redirectors: redirectors,
		descLimit:   limit,
		timeout:     cfg.Timeout,
		logger:      logger.Named("feed"),
	}
}

// Candidates returns a lazy sequence over every endpoint of src. Each range
// re-polls the endpoints. A failing endpoint is reported through
// onEndpointError and skipped.
func (r *Reader) Candidates(
	ctx context.Context,
	src archiver.Source,
	onEndpointError func(endpoint string, err error),
) iter.Seq[archiver.Candidate] {
	report := func(endpoint string, err error) {
		r.logger.Warn("feed endpoint failed",
			zap.String("source", src.Slug),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		if onEndpointError != nil {
			onEndpointError(endpoint, err)
		}
	}

	return func(yield func(archiver.Candidate) bool) {
		filter, err := newURLFilter(src.IncludeURLs, src.ExcludeURLs)
		if err != nil {
			report(src.BaseURL, err)
			return
		}
		for _, endpoint := range src.Feeds {
			if ctx.Err() != nil {
				return
			}
			candidates, err := r.poll(ctx, src, endpoint)
			if err != nil {
				report(endpoint.URL, err)
				continue
			}
			for _, c := range candidates {
				// Patterns describe article URLs, so redirector links are
				// resolved before they are judged.
				c.URL = r.resolveRedirect(ctx, src, c.URL)
				if !filter.allow(c.URL) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (r *Reader) poll(ctx context.Context, src archiver.Source, endpoint archiver.FeedEndpoint) ([]archiver.Candidate, error) {
	resp, err := r.fetcher.Fetch(ctx, archiver.FetchRequest{
		SourceSlug:  src.Slug,
		URL:         endpoint.URL,
		Timeout:     r.timeout,
		MinInterval: src.MinInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned status %d", archiver.ErrNetwork, resp.StatusCode)
	}
	base := resp.URL
	if base == "" {
		base = endpoint.URL
	}

	switch endpoint.Kind {
	case archiver.EndpointListing:
		return r.parseListing(resp.Body, base, endpoint)
	default:
		return r.parseSyndication(resp.Body, base, endpoint)
	}
}

func (r *Reader) parseSyndication(body []byte, base string, endpoint archiver.FeedEndpoint) ([]archiver.Candidate, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", archiver.ErrParse, err)
	}
	out := make([]archiver.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		link = absoluteURL(base, link)
		if link == "" {
			continue
		}
		description := item.Description
		if description == "" {
			description = item.Content
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		out = append(out, archiver.Candidate{
			URL:         link,
			Title:       collapseSpace(html.UnescapeString(item.Title)),
			PublishHint: published,
			Description: r.PlainText(description),
			Byline:      authors(item),
			ImageURL:    absoluteURL(base, itemImage(item)),
			Tags:        tags(item.Categories),
			Endpoint:    endpoint.URL,
		})
	}
	return out, nil
}

func (r *Reader) parseListing(body []byte, base string, endpoint archiver.FeedEndpoint) ([]archiver.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", archiver.ErrParse, err)
	}
	selector := endpoint.LinkSelector
	if selector == "" {
		selector = defaultLinkSelector
	}
	var out []archiver.Candidate
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		anchor := sel
		if !sel.Is("a") {
			anchor = sel.Find("a[href]").First()
		}
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		link := absoluteURL(base, href)
		if link == "" {
			return
		}
		title := collapseSpace(anchor.Text())
		if title == "" {
			title = collapseSpace(anchor.AttrOr("title", ""))
		}
		out = append(out, archiver.Candidate{
			URL:      link,
			Title:    title,
			Endpoint: endpoint.URL,
		})
	})
	return out, nil
}

// resolveRedirect follows interstitial hosts to the article URL. The original
// link is kept when the hop fails.
func (r *Reader) resolveRedirect(ctx context.Context, src archiver.Source, link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if _, ok := r.redirectors[strings.ToLower(u.Hostname())]; !ok {
		return link
	}
	resp, err := r.fetcher.Fetch(ctx, archiver.FetchRequest{
		SourceSlug:  src.Slug,
		URL:         link,
		Timeout:     r.timeout,
		MinInterval: src.MinInterval,
	})
	if err != nil || resp.URL == "" {
		r.logger.Debug("redirect resolution failed", zap.String("url", link), zap.Error(err))
		return link
	}
	return resp.URL
}

// PlainText strips markup, decodes entities and truncates to the
// description limit.
func (r *Reader) PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	text := collapseSpace(html.UnescapeString(r.strip.Sanitize(fragment)))
	return truncateRunes(text, r.descLimit)
}

func authors(item *gofeed.Item) string {
	names := make([]string, 0, len(item.Authors))
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			names = append(names, strings.TrimSpace(a.Name))
		}
	}
	if len(names) == 0 && item.Author != nil {
		return strings.TrimSpace(item.Author.Name)
	}
	return strings.Join(names, ", ")
}

func tags(categories []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil {
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

type urlFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

func newURLFilter(include, exclude []string) (urlFilter, error) {
	var f urlFilter
	for _, p := range include {
		re, err := regexp.Compile(p)
		if err != nil {
			return urlFilter{}, fmt.Errorf("include pattern %q: %w", p, err)
		}
		f.include = append(f.include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return urlFilter{}, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

func (f urlFilter) allow(link string) bool {
	for _, re := range f.exclude {
		if re.MatchString(link) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}
