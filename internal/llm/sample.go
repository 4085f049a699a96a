package llm

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const noiseSelectors = "script, style, noscript, svg, iframe, link, meta"

// SampleHTML returns the listing <body> markup with noise removed, truncated
// to at most maxBytes on a UTF-8 boundary. maxBytes <= 0 disables truncation.
func SampleHTML(raw []byte, maxBytes int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noiseSelectors).Remove()
	doc.Find("*").Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return len(s.Nodes) > 0 && s.Nodes[0].Type == html.CommentNode
	}).Remove()

	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return truncateUTF8(out, maxBytes), nil
}

func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
