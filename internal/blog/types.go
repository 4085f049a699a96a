// Package blog defines the domain types and collaborator contracts shared by
// the watcher subsystems.
package blog

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Density is the oracle's estimate of how technical a post is.
type Density string

// Technical density values persisted with each post.
const (
	DensityUnset  Density = ""
	DensityLow    Density = "low"
	DensityMedium Density = "medium"
	DensityHigh   Density = "high"
)

// ParseDensity accepts the persisted spelling of a density, case-insensitively.
func ParseDensity(raw string) (Density, error) {
	switch d := Density(strings.ToLower(strings.TrimSpace(raw))); d {
	case DensityUnset, DensityLow, DensityMedium, DensityHigh:
		return d, nil
	default:
		return DensityUnset, fmt.Errorf("unknown technical density %q", raw)
	}
}

// Category classifies a recorded failure.
type Category string

// Error categories written to the error log.
const (
	CategoryNetwork    Category = "network"
	CategorySchema     Category = "schema"
	CategoryExtraction Category = "extraction"
)

// NormalizeTopic lower-cases a topic name and folds every run of
// non-alphanumeric characters into a single hyphen.
func NormalizeTopic(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// NormalizeTopics normalizes every name, drops blanks and keeps the first
// occurrence of each normalized name.
func NormalizeTopics(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		n := NormalizeTopic(name)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Profile is a watched blog together with its extraction state.
type Profile struct {
	ID          int64
	Name        string
	URL         string
	Schema      *schema.Schema
	Proposed    *schema.Schema
	Successful  bool
	Attempts    int
	LastChecked *time.Time
	CreatedAt   time.Time
}

// Accepted reports whether the blog has a live-validated schema.
func (p Profile) Accepted() bool {
	return p.Successful && p.Schema != nil
}

// Exhausted reports whether refinement spent its budget without success.
func (p Profile) Exhausted(maxAttempts int) bool {
	return !p.Accepted() && p.Attempts >= maxAttempts
}

// Post is a stored, enriched blog post.
type Post struct {
	ID           int64      `json:"id"`
	BlogID       int64      `json:"blog_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	PublishedAt  *time.Time `json:"publication_date,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ReadingTime  int        `json:"reading_time"`
	Summary      string     `json:"summary"`
	Density      Density    `json:"technical_density,omitempty"`
	FullText     string     `json:"-"`
	Topics       []string   `json:"topics"`
}

// Candidate is a newly discovered post awaiting enrichment.
type Candidate struct {
	URL         string
	Title       string
	PublishedAt *time.Time
}

// ErrorRecord is one append-only entry in the error log.
type ErrorRecord struct {
	ID        int64
	BlogID    int64
	PostID    *int64
	Category  Category
	Message   string
	Timestamp time.Time
}

// Metadata is the structured enrichment returned by the oracle for a post.
type Metadata struct {
	Summary string
	Density Density
	Topics  []string
}

// PostResult reports the outcome of processing one post.
type PostResult struct {
	URL      string   `json:"url"`
	Success  bool     `json:"success"`
	Skipped  bool     `json:"skipped,omitempty"`
	Canceled bool     `json:"canceled,omitempty"`
	PostID   int64    `json:"post_id,omitempty"`
	Category Category `json:"category,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Metrics aggregates one discovery and extraction run.
type Metrics struct {
	NewPostsFound    int `json:"new_posts_found"`
	Stored           int `json:"stored"`
	Duplicates       int `json:"duplicates"`
	NetworkErrors    int `json:"network_errors"`
	ExtractionErrors int `json:"extraction_errors"`
	Canceled         int `json:"canceled"`
}

// Add folds one post result into the aggregate.
func (m *Metrics) Add(r PostResult) {
	switch {
	case r.Skipped:
		m.Duplicates++
	case r.Canceled:
		m.Canceled++
	case r.Success:
		m.Stored++
	case r.Category == CategoryNetwork:
		m.NetworkErrors++
	case r.Category == CategoryExtraction:
		m.ExtractionErrors++
	}
}

// Merge adds o's counts into m.
func (m *Metrics) Merge(o Metrics) {
	m.NewPostsFound += o.NewPostsFound
	m.Stored += o.Stored
	m.Duplicates += o.Duplicates
	m.NetworkErrors += o.NetworkErrors
	m.ExtractionErrors += o.ExtractionErrors
	m.Canceled += o.Canceled
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
	Timeout     time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// GenerateRequest is the input to one schema proposal. Prior, PriorRecords
// and Failure are set when a previous proposal was rejected.
type GenerateRequest struct {
	BlogURL      string
	HTML         []byte
	Prior        *schema.Schema
	PriorRecords []schema.Record
	Failure      string
}
