package blog

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// SchemaGenerator proposes extraction schemas. Its output is untrusted.
type SchemaGenerator interface {
	GenerateSchema(ctx context.Context, req GenerateRequest) (schema.Schema, error)
}

// MetadataExtractor produces summary, density and topics for a post body.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, text string, existingTopics []string) (Metadata, error)
}

// BlogStore persists blog profiles and their refinement state.
type BlogStore interface {
	AddBlog(ctx context.Context, name, url string) (Profile, error)
	GetBlog(ctx context.Context, id int64) (Profile, error)
	ListBlogs(ctx context.Context) ([]Profile, error)
	// UpsertBlogSchema stores s as the accepted schema when accepted is true,
	// otherwise as the proposed schema with the success flag cleared.
	UpsertBlogSchema(ctx context.Context, id int64, s schema.Schema, accepted bool) error
	// IncrementAttempts bumps the refinement counter and returns the stored value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	ResetAttempts(ctx context.Context, id int64) error
	TouchChecked(ctx context.Context, id int64, at time.Time) error
	MarkUnsuccessful(ctx context.Context, id int64) error
}

// PostStore persists enriched posts and their topics.
type PostStore interface {
	// InsertPost stores the post and its topic links in one transaction. It
	// returns ErrDuplicateURL when the URL already exists.
	InsertPost(ctx context.Context, post Post) (int64, error)
	// ExistingPostURLs returns the subset of urls already stored.
	ExistingPostURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	GetPostByURL(ctx context.Context, url string) (Post, error)
	UpdatePostMetadata(ctx context.Context, post Post) error
	PostsDiscoveredSince(ctx context.Context, since time.Time) ([]Post, error)
	ListTopics(ctx context.Context) ([]string, error)
}

// ErrorLog appends error records.
type ErrorLog interface {
	InsertError(ctx context.Context, rec ErrorRecord) error
}

// Gateway is the complete persistence contract.
type Gateway interface {
	BlogStore
	PostStore
	ErrorLog
	Ping(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter blocks until a request to url may proceed.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
