package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

func TestGatewayBlogLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGateway()
	p, err := g.AddBlog(ctx, "Example", "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, int64(1), p.ID)

	_, err = g.AddBlog(ctx, "Again", "https://blog.example.com/")
	require.ErrorIs(t, err, blog.ErrDuplicateURL)

	n, err := g.IncrementAttempts(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	s := schema.Schema{PostItemSelector: "article"}
	require.NoError(t, g.UpsertBlogSchema(ctx, p.ID, s, false))
	got, err := g.GetBlog(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.Accepted())
	require.Equal(t, "article", got.Proposed.PostItemSelector)

	require.NoError(t, g.UpsertBlogSchema(ctx, p.ID, s, true))
	got, err = g.GetBlog(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Accepted())
	require.Nil(t, got.Proposed)

	got.Schema.PostItemSelector = "mutated"
	again, err := g.GetBlog(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "article", again.Schema.PostItemSelector)

	require.NoError(t, g.ResetAttempts(ctx, p.ID))
	require.NoError(t, g.MarkUnsuccessful(ctx, p.ID))
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, g.TouchChecked(ctx, p.ID, at))
	got, err = g.GetBlog(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, got.Attempts)
	require.False(t, got.Successful)
	require.Equal(t, at, *got.LastChecked)

	_, err = g.GetBlog(ctx, 99)
	require.ErrorIs(t, err, blog.ErrNotFound)
	require.ErrorIs(t, g.ResetAttempts(ctx, 99), blog.ErrNotFound)
}

func TestGatewayPosts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGateway()
	base := time.Unix(1700000000, 0).UTC()

	id1, err := g.InsertPost(ctx, blog.Post{BlogID: 1, URL: "https://b.example/1", DiscoveredAt: base, Topics: []string{"Go", "go", "DB"}})
	require.NoError(t, err)
	_, err = g.InsertPost(ctx, blog.Post{BlogID: 1, URL: "https://b.example/2", DiscoveredAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = g.InsertPost(ctx, blog.Post{URL: "https://b.example/1"})
	require.ErrorIs(t, err, blog.ErrDuplicateURL)

	existing, err := g.ExistingPostURLs(ctx, []string{"https://b.example/1", "https://b.example/3"})
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"https://b.example/1": {}}, existing)

	topics, err := g.ListTopics(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"db", "go"}, topics)

	recent, err := g.PostsDiscoveredSince(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "https://b.example/2", recent[0].URL)

	all, err := g.PostsDiscoveredSince(ctx, base)
	require.NoError(t, err)
	require.Equal(t, id1, all[0].ID)

	require.NoError(t, g.UpdatePostMetadata(ctx, blog.Post{ID: id1, Summary: "new", Topics: []string{"rust"}}))
	post, err := g.GetPostByURL(ctx, "https://b.example/1")
	require.NoError(t, err)
	require.Equal(t, "new", post.Summary)
	require.Equal(t, []string{"rust"}, post.Topics)
	require.ErrorIs(t, g.UpdatePostMetadata(ctx, blog.Post{ID: 42}), blog.ErrNotFound)
}

func TestGatewayConcurrentInsertKeepsOneRow(t *testing.T) {
	t.Parallel()

	g := NewGateway()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
		dupes  int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.InsertPost(context.Background(), blog.Post{URL: "https://b.example/same"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				stored++
			} else {
				dupes++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, stored)
	require.Equal(t, 15, dupes)
}

func TestGatewayErrorLog(t *testing.T) {
	t.Parallel()

	g := NewGateway()
	require.NoError(t, g.InsertError(context.Background(), blog.ErrorRecord{BlogID: 1, Category: blog.CategoryNetwork, Message: "timeout"}))
	recs := g.Errors()
	require.Len(t, recs, 1)
	require.Equal(t, int64(1), recs[0].ID)
	require.NoError(t, g.Ping(context.Background()))
}
