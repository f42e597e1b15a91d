package enrich

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

// Metadata is the preview information found on a landing page.
type Metadata struct {
	Title       string
	Description string
	Byline      string
	ImageURL    string
	Published   *time.Time
}

var metaSources = map[archiver.Field][]string{
	archiver.FieldHeadline:    {`meta[property="og:title"]`, `meta[name="twitter:title"]`},
	archiver.FieldDescription: {`meta[property="og:description"]`, `meta[name="description"]`, `meta[name="twitter:description"]`},
	archiver.FieldImage:       {`meta[property="og:image"]`, `meta[property="og:image:url"]`, `meta[name="twitter:image"]`},
	archiver.FieldByline:      {`meta[property="article:author"]`, `meta[name="author"]`},
	archiver.FieldPublished:   {`meta[property="article:published_time"]`, `meta[itemprop="datePublished"]`, `time[datetime]`},
}

// Extract reads Open Graph style metadata from page, then applies the
// source's selector rules. Rules win over generic tags; the first
// non-empty value per field is kept.
func Extract(page []byte, pageURL string, rules []archiver.SelectorRule) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", archiver.ErrParse, err)
	}

	values := map[archiver.Field]string{}
	for _, r := range rules {
		if _, done := values[r.Field]; done || r.Field == archiver.FieldBody {
			continue
		}
		if v := selectValue(doc, r.Selector, r.Attribute); v != "" {
			values[r.Field] = v
		}
	}
	for field, selectors := range metaSources {
		if _, done := values[field]; done {
			continue
		}
		for _, sel := range selectors {
			attr := "content"
			if strings.HasPrefix(sel, "time") {
				attr = "datetime"
			}
			if v := selectValue(doc, sel, attr); v != "" {
				values[field] = v
				break
			}
		}
	}
	if _, ok := values[archiver.FieldHeadline]; !ok {
		values[archiver.FieldHeadline] = collapse(doc.Find("title").First().Text())
	}

	md := Metadata{
		Title:       values[archiver.FieldHeadline],
		Description: values[archiver.FieldDescription],
		Byline:      values[archiver.FieldByline],
		ImageURL:    absolute(pageURL, values[archiver.FieldImage]),
	}
	if raw := values[archiver.FieldPublished]; raw != "" {
		if ts, ok := ParseTime(raw); ok {
			md.Published = &ts
		}
	}
	return md, nil
}

func selectValue(doc *goquery.Document, selector, attr string) string {
	if selector == "" {
		return ""
	}
	var out string
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var v string
		if attr != "" {
			v = sel.AttrOr(attr, "")
		} else {
			v = sel.Text()
		}
		out = collapse(v)
		return out == ""
	})
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"2006-01-02",
}

// ParseTime accepts the timestamp formats seen in article metadata.
// Values without a zone are taken as UTC.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func absolute(base, ref string) string {
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		r = b.ResolveReference(r)
	}
	if r.Scheme != "http" && r.Scheme != "https" {
		return ""
	}
	return r.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
