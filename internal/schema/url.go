package schema

import (
	"net/url"
	"strings"
)

// ResolveURL turns an extracted href into an absolute URL. Empty, fragment
// only and javascript: hrefs are reported as missing. Relative hrefs are
// resolved against the page regardless of the declared handling.
func ResolveURL(pageURL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.IsAbs() {
		return ref.String(), true
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
