package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

var longParagraph = strings.Repeat("The council voted on the new budget after a long debate. ", 6)

func page(body string) string {
	return `<!doctype html><html><head><title>t</title><script>var x=1;</script></head><body>` + body + `</body></html>`
}

func TestSanitizePicksArticleAndStripsNoise(t *testing.T) {
	t.Parallel()

	raw := page(`
	<header class="site-header">Masthead</header>
	<nav><a href="/">Home</a></nav>
	<article class="story" data-id="9">
	  <h1 style="color:red">Budget passes</h1>
	  <div class="ad-slot">BUY NOW</div>
	  <p onclick="evil()">` + longParagraph + `</p>
	  <div class="paywall-prompt">Subscribe to continue</div>
	  <p>Read <a href="https://example.com/more" target="_blank" rel="nofollow" class="x">more</a>.</p>
	  <img src="https://cdn.example.com/p.gif" width="1" height="1">
	  <figure><img src="https://cdn.example.com/a.jpg" alt="Council" loading="lazy"><figcaption>Vote</figcaption></figure>
	  <script>track()</script>
	</article>
	<aside>Related stories</aside>
	<footer>Copyright</footer>`)

	got := New().Sanitize(raw)
	require.Contains(t, got, "<h1>Budget passes</h1>")
	require.Contains(t, got, "<p>"+strings.TrimSpace(longParagraph))
	require.Contains(t, got, `<a href="https://example.com/more">more</a>`)
	require.Contains(t, got, `<img src="https://cdn.example.com/a.jpg" alt="Council"/>`)
	require.Contains(t, got, "<figcaption>Vote</figcaption>")

	for _, banned := range []string{"Masthead", "Home", "BUY NOW", "Subscribe to continue", "Related stories",
		"Copyright", "track()", "var x", "onclick", "style=", "target=", "class=", "p.gif", "<article", "data-id"} {
		require.NotContains(t, got, banned)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		page(`<article><h2>Head &amp; shoulders</h2><p>` + longParagraph + `</p><ul><li>One</li><li>Two</li></ul>
		<blockquote>“Quoted” &lt;text&gt; it's</blockquote><table><tr><td colspan="2">cell</td></tr></table>
		<iframe src="https://www.youtube.com/embed/x" allowfullscreen></iframe><br></article>`),
		page(`<div class="content"><p>short</p></div><p>` + longParagraph + `</p><p>Second&nbsp;para</p>`),
		page(`<div>Just some text without structure.</div>`),
		page(`<main><section><h3>Title</h3><p>` + longParagraph + `</p></section><video src="https://v.example.com/a.mp4" controls></video></main>`),
		`<p>fragment only</p>`,
		page(`<article><p>` + longParagraph + `</p><table><tfoot><tr><td>Total</td></tr></tfoot><tr><td>1</td></tr></table></article>`),
		page(`<article><p>` + longParagraph + `</p><table><caption>Cap</caption><colgroup><col span="2"></colgroup><tr><td>a</td><td>b</td></tr></table></article>`),
		page(`<article><p>` + longParagraph + `</p><table>stray<tr><td>x</td></tr><form>f</form></table></article>`),
		`<table><tr><td>bare</td></tr></table>`,
	}
	s := New()
	for i, in := range inputs {
		once := s.Sanitize(in)
		twice := s.Sanitize(once)
		require.Equal(t, once, twice, "input %d", i)
		require.NotEmpty(t, once, "input %d", i)
	}
}

func TestSanitizeKeepsTableStructure(t *testing.T) {
	t.Parallel()

	raw := page(`<article><p>` + longParagraph + `</p><table><caption>Cap</caption><tr><td>a</td></tr></table></article>`)
	got := New().Sanitize(raw)
	require.Contains(t, got, "<table><caption>Cap</caption><tbody><tr><td>a</td></tr></tbody></table>")
}

func TestSanitizeFallsBackToParagraphs(t *testing.T) {
	t.Parallel()

	raw := page(`<article><p>Teaser only.</p></article>
	<div class="body-wrap"><p>` + longParagraph + `</p></div>`)
	got := New().Sanitize(raw)
	require.Equal(t, "<p>Teaser only.</p><p>"+longParagraph+"</p>", got)
}

func TestSanitizeFallsBackToBody(t *testing.T) {
	t.Parallel()

	raw := page(`<article><p>Thin</p></article><div>Loose text block</div>`)
	got := New().Sanitize(raw)
	require.Contains(t, got, "Thin")
	require.Contains(t, got, "Loose text block")
}

func TestSanitizeWithRules(t *testing.T) {
	t.Parallel()

	raw := page(`<article><p>` + longParagraph + `</p></article>
	<div class="story-text"><p>Custom body ` + longParagraph + `</p></div>`)
	rules := []archiver.SelectorRule{
		{Field: archiver.FieldHeadline, Selector: "h1"},
		{Field: archiver.FieldBody, Selector: ".missing"},
		{Field: archiver.FieldBody, Selector: ".story-text"},
	}
	got := New().SanitizeWithRules(raw, rules)
	require.True(t, strings.HasPrefix(got, "<div><p>Custom body"), got)
}

func TestSanitizeEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, New().Sanitize(""))
	require.Empty(t, New().Sanitize("   "))
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	s := New()
	require.Equal(t, "Fish & chips are great", s.PlainText("<p>Fish &amp; chips</p>\n<p>are <b>great</b></p>"))
	require.Equal(t, 22, s.TextLength("<p>Fish &amp; chips</p><p>are <b>great</b></p>"))
	require.Empty(t, s.PlainText(""))
}

func TestIsNoise(t *testing.T) {
	t.Parallel()

	require.True(t, isNoise("ad-slot"))
	require.True(t, isNoise("Social share-bar"))
	require.True(t, isNoise("cookie_banner"))
	require.False(t, isNoise("article-body"))
	require.False(t, isNoise("header-main"))
	require.False(t, isNoise("headline"))
	require.False(t, isNoise(""))
}
