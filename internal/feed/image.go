package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// itemImage picks a preview image: item image, media thumbnail, media
// content, image enclosure, then the first <img> in the item body.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			if u := thumb.Attrs["url"]; u != "" {
				return u
			}
		}
		for _, content := range media["content"] {
			medium := content.Attrs["medium"]
			if u := content.Attrs["url"]; u != "" && (medium == "image" || strings.HasPrefix(content.Attrs["type"], "image/")) {
				return u
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	for _, fragment := range []string{item.Content, item.Description} {
		if src := firstImage(fragment); src != "" {
			return src
		}
	}
	return ""
}

func firstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
