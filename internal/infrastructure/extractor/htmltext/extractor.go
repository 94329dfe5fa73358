package htmltext

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "blockquote": true, "pre": true,
}

var skipElements = map[string]bool{"script": true, "style": true, "noscript": true, "head": true}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Parse returns the visible text of an HTML page with block elements on their own lines.
func Parse(raw []byte) (domain.ExtractedText, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("html: parse: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteString("\n")
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text := strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
	if text == "" {
		return domain.ExtractedText{}, nil
	}
	return domain.ExtractedText{Text: text, PageCount: 1}, nil
}
