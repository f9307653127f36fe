package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlText pulls the readable text out of an HTML document, skipping
// script and style content and keeping block elements on their own lines.
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, head").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Skip containers whose text is already covered by a nested block.
		if s.Find("p, li, h1, h2, h3, h4, h5, h6").Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteByte('\n')
	})
	if b.Len() == 0 {
		return strings.TrimSpace(root.Text()), nil
	}
	return b.String(), nil
}
