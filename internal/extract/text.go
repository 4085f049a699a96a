package extract

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

const chromeSelectors = "nav, aside, header, footer, script, style, noscript"

// ExtractText returns the readable text of an article page: the sole
// <article> element if there is exactly one, otherwise the [role=main]
// region, otherwise the body. Navigation chrome is removed and text runs are
// joined with newlines.
func ExtractText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse article html: %w", err)
	}
	doc.Find(chromeSelectors).Remove()

	root := doc.Find("article")
	if root.Length() != 1 {
		root = doc.Find("[role=main]").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, n := range root.Nodes {
		collectText(n, &lines)
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		return "", fmt.Errorf("article has no readable text")
	}
	return text, nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*lines = append(*lines, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}

// Words per minute by technical density. Dense material reads slower.
var wordsPerMinute = map[blog.Density]float64{
	blog.DensityLow:    220,
	blog.DensityMedium: 180,
	blog.DensityHigh:   100,
}

// ReadingTime estimates minutes to read text, never less than one.
func ReadingTime(text string, density blog.Density) int {
	wpm, ok := wordsPerMinute[density]
	if !ok {
		wpm = wordsPerMinute[blog.DensityMedium]
	}
	words := float64(len(strings.Fields(text)))
	return max(1, int(math.Round(words/wpm)))
}
