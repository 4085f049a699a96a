// Package discovery re-runs an accepted schema against a fresh listing and
// keeps only posts that are not yet stored.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Lookup reports which URLs are already persisted.
type Lookup interface {
	ExistingPostURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
}

// Normalize returns the canonical form of rawURL resolved against pageURL:
// lower-case scheme and host, no fragment, no default port.
func Normalize(pageURL, rawURL string) (string, error) {
	abs, ok := schema.ResolveURL(pageURL, rawURL)
	if !ok {
		return "", fmt.Errorf("unusable post url %q", rawURL)
	}
	u, err := url.Parse(abs)
	if err != nil {
		return "", fmt.Errorf("parse post url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Discoverer finds new posts on a listing page.
type Discoverer struct {
	executor *schema.Executor
	lookup   Lookup
}

// New builds a Discoverer.
func New(executor *schema.Executor, lookup Lookup) *Discoverer {
	if executor == nil {
		executor = schema.NewExecutor()
	}
	return &Discoverer{executor: executor, lookup: lookup}
}

// Discover applies s to html and returns the records whose normalized URL
// is neither stored nor repeated earlier in the same listing, in document
// order. Schema failures come back as *schema.ExecutionError.
func (d *Discoverer) Discover(ctx context.Context, html []byte, s schema.Schema, pageURL string) ([]blog.Candidate, error) {
	res, err := d.executor.Execute(html, s, pageURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(res.Records))
	var ordered []blog.Candidate
	for rec := range res.All() {
		norm, err := Normalize(pageURL, rec.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		ordered = append(ordered, blog.Candidate{URL: norm, Title: rec.Title, PublishedAt: rec.Date})
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	urls := make([]string, len(ordered))
	for i, c := range ordered {
		urls[i] = c.URL
	}
	existing, err := d.lookup.ExistingPostURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("lookup existing posts: %w", err)
	}
	fresh := ordered[:0]
	for _, c := range ordered {
		if _, ok := existing[c.URL]; !ok {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}
