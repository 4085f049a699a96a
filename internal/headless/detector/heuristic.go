// Package detector decides when a listing or article fetch should be retried
// through the headless renderer.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

// Heuristic promotes responses that look like client-rendered shells.
type Heuristic struct {
	BodyLengthThreshold int
	// MinAnchors is the fewest links a server-rendered blog page is expected
	// to carry. Zero disables the check.
	MinAnchors int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold, minAnchors int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinAnchors: minAnchors}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-server-rendered"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp blog.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	if h.MinAnchors > 0 && anchorCount(body) < h.MinAnchors {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) && anchorCount(body) < max(h.MinAnchors, 1) {
			return true
		}
	}
	return false
}

func anchorCount(body []byte) int {
	lower := bytes.ToLower(body)
	return bytes.Count(lower, []byte("<a ")) + bytes.Count(lower, []byte("<a>"))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage > 0 && coverage*100/total >= 25
}
