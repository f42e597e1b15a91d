// Package sanitize reduces article pages to safe, structure-preserving HTML.
package sanitize

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

// MinAreaChars is the plain-text size below which a detected content area is
// considered a miss.
const MinAreaChars = 200

var junkSelector = strings.Join([]string{
	"script", "style", "nav", "footer", "aside", "header", "noscript",
	"form", "button", "input", "select", "textarea", "template", "svg",
}, ", ")

var noiseTokens = map[string]struct{}{
	"ad": {}, "ads": {}, "advert": {}, "advertisement": {}, "promo": {}, "sponsor": {}, "sponsored": {},
	"social": {}, "share": {}, "sharing": {},
	"newsletter": {}, "signup": {}, "subscribe": {},
	"paywall": {}, "premium": {}, "meter": {},
	"related": {}, "recommended": {}, "trending": {},
	"nav": {}, "navigation": {}, "menu": {}, "sidebar": {},
	"comment": {}, "comments": {}, "disqus": {},
	"cookie": {}, "cookies": {}, "gdpr": {}, "consent": {},
	"popup": {}, "modal": {}, "overlay": {},
}

var bodyClassHints = []string{
	"article-body", "story-body", "post-content", "entry-content", "article-content", "gnt_ar_b",
}

// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// New builds a Sanitizer with the article policy.
func New() *Sanitizer {
	strict := bluemonday.StrictPolicy()
	strict.AddSpaceWhenStrippingTag(true)
	return &Sanitizer{
		policy: articlePolicy(),
		strict: strict,
	}
}

func articlePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "b", "em", "i", "u", "s")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("ul", "ol", "li", "blockquote", "figure", "figcaption")
	p.AllowElements("table", "caption", "colgroup", "col", "thead", "tbody", "tfoot", "tr", "th", "td")
	p.AllowElements("div", "span")

	p.AllowStandardURLs()
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("src", "width", "height", "allowfullscreen", "frameborder", "title").OnElements("iframe")
	p.AllowAttrs("src", "controls", "width", "height", "poster").OnElements("video")
	p.AllowAttrs("src", "type").OnElements("source")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowAttrs("span").OnElements("col", "colgroup")
	p.AllowElements("video", "iframe")
	return p
}

// Sanitize extracts the article area from a full page and returns safe HTML.
// Sanitizing the output again returns it unchanged.
func (s *Sanitizer) Sanitize(rawHTML string) string {
	return s.SanitizeWithRules(rawHTML, nil)
}

// SanitizeWithRules is Sanitize with source-specific body selectors tried
// before the generic content-area heuristics.
func (s *Sanitizer) SanitizeWithRules(rawHTML string, rules []archiver.SelectorRule) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return s.finish(rawHTML)
	}
	clean(doc)

	return s.finish(s.contentArea(doc, rules))
}

// finish applies the policy and then renders the result through the HTML
// parser once, so markup the parser would repair (implied tbody, misplaced
// table text) is already repaired in the returned fragment.
func (s *Sanitizer) finish(fragment string) string {
	out := s.policy.Sanitize(fragment)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	if err != nil {
		return strings.TrimSpace(out)
	}
	rendered, err := doc.Find("body").Html()
	if err != nil {
		return strings.TrimSpace(out)
	}
	return strings.TrimSpace(rendered)
}

// PlainText returns the visible text of an HTML fragment with collapsed whitespace.
func (s *Sanitizer) PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(s.strict.Sanitize(fragment))), " ")
}

// TextLength is the rune count of PlainText.
func (s *Sanitizer) TextLength(fragment string) int {
	return len([]rune(s.PlainText(fragment)))
}

func clean(doc *goquery.Document) {
	doc.Find(junkSelector).Remove()
	doc.Find("[class], [id]").Each(func(_ int, sel *goquery.Selection) {
		if sel.Is("html, body") {
			return
		}
		if isNoise(sel.AttrOr("class", "")) || isNoise(sel.AttrOr("id", "")) {
			sel.Remove()
		}
	})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if isTrackingPixel(sel) {
			sel.Remove()
		}
	})
}

func isNoise(attr string) bool {
	if attr == "" {
		return false
	}
	tokens := strings.FieldsFunc(strings.ToLower(attr), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, tok := range tokens {
		if _, ok := noiseTokens[tok]; ok {
			return true
		}
	}
	return false
}

func isTrackingPixel(img *goquery.Selection) bool {
	w := strings.TrimSpace(img.AttrOr("width", ""))
	h := strings.TrimSpace(img.AttrOr("height", ""))
	return (w == "1" || w == "0") && (h == "1" || h == "0")
}

// contentArea returns the HTML to feed to the policy. A detected area that is
// too thin falls back to every paragraph of the page, then to the body.
func (s *Sanitizer) contentArea(doc *goquery.Document, rules []archiver.SelectorRule) string {
	body := doc.Find("body").First()
	container := findContainer(doc, rules)
	if container == nil {
		return outerOrInner(body)
	}
	if s.textLen(container) >= MinAreaChars {
		return outerOrInner(container)
	}
	paragraphs := doc.Find("p")
	if s.textLen(paragraphs) >= MinAreaChars {
		var b strings.Builder
		paragraphs.Each(func(_ int, p *goquery.Selection) {
			if h, err := goquery.OuterHtml(p); err == nil {
				b.WriteString(h)
			}
		})
		return b.String()
	}
	return outerOrInner(body)
}

func findContainer(doc *goquery.Document, rules []archiver.SelectorRule) *goquery.Selection {
	for _, r := range rules {
		if r.Field != archiver.FieldBody || r.Selector == "" {
			continue
		}
		if sel := doc.Find(r.Selector); sel.Length() > 0 {
			return sel
		}
	}
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return sel
	}
	for _, hint := range bodyClassHints {
		if sel := doc.Find(`[class*="` + hint + `"]`).First(); sel.Length() > 0 {
			return sel
		}
	}
	if sel := doc.Find("main").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find(`div[class*="content"]`).First(); sel.Length() > 0 {
		return sel
	}
	return nil
}

func (s *Sanitizer) textLen(sel *goquery.Selection) int {
	return len([]rune(strings.Join(strings.Fields(sel.Text()), "")))
}

// outerOrInner renders the inner HTML of body and the outer HTML of anything else.
func outerOrInner(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	if sel.Is("body") {
		h, _ := sel.Html()
		return h
	}
	var b strings.Builder
	sel.Each(func(_ int, one *goquery.Selection) {
		if h, err := goquery.OuterHtml(one); err == nil {
			b.WriteString(h)
		}
	})
	return b.String()
}
