package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Gateway is an in-memory blog.Gateway for development and tests.
type Gateway struct {
	mu       sync.RWMutex
	blogs    map[int64]blog.Profile
	blogURLs map[string]int64
	posts    map[int64]blog.Post
	postURLs map[string]int64
	topics   map[string]struct{}
	errors   []blog.ErrorRecord
	nextBlog int64
	nextPost int64
	nextErr  int64
}

var _ blog.Gateway = (*Gateway)(nil)

// NewGateway constructs an empty Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		blogs:    make(map[int64]blog.Profile),
		blogURLs: make(map[string]int64),
		posts:    make(map[int64]blog.Post),
		postURLs: make(map[string]int64),
		topics:   make(map[string]struct{}),
	}
}

// Ping always succeeds.
func (g *Gateway) Ping(context.Context) error { return nil }

// AddBlog registers a blog.
func (g *Gateway) AddBlog(_ context.Context, name, url string) (blog.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.blogURLs[url]; exists {
		return blog.Profile{}, fmt.Errorf("add blog %q: %w", url, blog.ErrDuplicateURL)
	}
	g.nextBlog++
	p := blog.Profile{ID: g.nextBlog, Name: name, URL: url, CreatedAt: time.Now().UTC()}
	g.blogs[p.ID] = p
	g.blogURLs[url] = p.ID
	return cloneProfile(p), nil
}

// GetBlog returns a copy of the stored profile.
func (g *Gateway) GetBlog(_ context.Context, id int64) (blog.Profile, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.blogs[id]
	if !ok {
		return blog.Profile{}, fmt.Errorf("get blog %d: %w", id, blog.ErrNotFound)
	}
	return cloneProfile(p), nil
}

// ListBlogs returns every blog ordered by id.
func (g *Gateway) ListBlogs(context.Context) ([]blog.Profile, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]blog.Profile, 0, len(g.blogs))
	for _, p := range g.blogs {
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertBlogSchema stores s as accepted or proposed.
func (g *Gateway) UpsertBlogSchema(_ context.Context, id int64, s schema.Schema, accepted bool) error {
	return g.updateBlog(id, func(p *blog.Profile) {
		if accepted {
			p.Schema = &s
			p.Proposed = nil
			p.Successful = true
			return
		}
		p.Proposed = &s
		p.Successful = false
	})
}

// IncrementAttempts bumps the refinement counter.
func (g *Gateway) IncrementAttempts(_ context.Context, id int64) (int, error) {
	var n int
	err := g.updateBlog(id, func(p *blog.Profile) {
		p.Attempts++
		n = p.Attempts
	})
	return n, err
}

// ResetAttempts zeroes the refinement counter.
func (g *Gateway) ResetAttempts(_ context.Context, id int64) error {
	return g.updateBlog(id, func(p *blog.Profile) { p.Attempts = 0 })
}

// TouchChecked records the last check time.
func (g *Gateway) TouchChecked(_ context.Context, id int64, at time.Time) error {
	return g.updateBlog(id, func(p *blog.Profile) { p.LastChecked = &at })
}

// MarkUnsuccessful clears the success flag.
func (g *Gateway) MarkUnsuccessful(_ context.Context, id int64) error {
	return g.updateBlog(id, func(p *blog.Profile) { p.Successful = false })
}

func (g *Gateway) updateBlog(id int64, fn func(*blog.Profile)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.blogs[id]
	if !ok {
		return fmt.Errorf("update blog %d: %w", id, blog.ErrNotFound)
	}
	fn(&p)
	g.blogs[id] = p
	return nil
}

// InsertPost stores the post and its topics atomically.
func (g *Gateway) InsertPost(_ context.Context, post blog.Post) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.postURLs[post.URL]; exists {
		return 0, fmt.Errorf("insert post %q: %w", post.URL, blog.ErrDuplicateURL)
	}
	g.nextPost++
	post.ID = g.nextPost
	post.Topics = g.linkTopics(post.Topics)
	g.posts[post.ID] = post
	g.postURLs[post.URL] = post.ID
	return post.ID, nil
}

func (g *Gateway) linkTopics(topics []string) []string {
	out := blog.NormalizeTopics(topics)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, t := range out {
		g.topics[t] = struct{}{}
	}
	return out
}

// ExistingPostURLs returns the subset of urls already stored.
func (g *Gateway) ExistingPostURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := g.postURLs[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

// GetPostByURL returns a stored post.
func (g *Gateway) GetPostByURL(_ context.Context, url string) (blog.Post, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.postURLs[url]
	if !ok {
		return blog.Post{}, fmt.Errorf("get post %q: %w", url, blog.ErrNotFound)
	}
	return clonePost(g.posts[id]), nil
}

// UpdatePostMetadata replaces the enrichment fields and topics of a post.
func (g *Gateway) UpdatePostMetadata(_ context.Context, post blog.Post) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, ok := g.posts[post.ID]
	if !ok {
		return fmt.Errorf("update post %d: %w", post.ID, blog.ErrNotFound)
	}
	stored.Summary = post.Summary
	stored.Density = post.Density
	stored.ReadingTime = post.ReadingTime
	stored.FullText = post.FullText
	stored.Topics = g.linkTopics(post.Topics)
	g.posts[post.ID] = stored
	return nil
}

// PostsDiscoveredSince returns posts discovered at or after since, oldest first.
func (g *Gateway) PostsDiscoveredSince(_ context.Context, since time.Time) ([]blog.Post, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []blog.Post
	for _, p := range g.posts {
		if !p.DiscoveredAt.Before(since) {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out, nil
}

// ListTopics returns the topic vocabulary sorted by name.
func (g *Gateway) ListTopics(context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.topics))
	for t := range g.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, nil
}

// InsertError appends to the error log.
func (g *Gateway) InsertError(_ context.Context, rec blog.ErrorRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextErr++
	rec.ID = g.nextErr
	g.errors = append(g.errors, rec)
	return nil
}

// Errors returns a copy of the error log.
func (g *Gateway) Errors() []blog.ErrorRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.errors)
}

func cloneProfile(p blog.Profile) blog.Profile {
	if p.Schema != nil {
		s := *p.Schema
		p.Schema = &s
	}
	if p.Proposed != nil {
		s := *p.Proposed
		p.Proposed = &s
	}
	if p.LastChecked != nil {
		t := *p.LastChecked
		p.LastChecked = &t
	}
	return p
}

func clonePost(p blog.Post) blog.Post {
	p.Topics = slices.Clone(p.Topics)
	return p
}
