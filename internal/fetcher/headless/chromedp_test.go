package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
	_, err = NewChromedp(Config{ScrollPasses: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer f.Close()
	require.Nil(t, f.tabs)
	require.Equal(t, "body", f.cfg.WaitSelector)
	require.Equal(t, defaultSettleDelay, f.cfg.SettleDelay)
	require.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
}

func TestTimeoutForPrefersShorterRequestTimeout(t *testing.T) {
	t.Parallel()

	f := &Fetcher{cfg: withDefaults(Config{NavigationTimeout: 10 * time.Second})}
	require.Equal(t, 10*time.Second, f.timeoutFor(blog.FetchRequest{}))
	require.Equal(t, 2*time.Second, f.timeoutFor(blog.FetchRequest{Timeout: 2 * time.Second}))
	require.Equal(t, 10*time.Second, f.timeoutFor(blog.FetchRequest{Timeout: time.Minute}))
}

func TestListingSettled(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	later := now.Add(time.Second)
	tests := []struct {
		name      string
		prev, cur int
		now       time.Time
		want      bool
	}{
		{name: "first read", prev: -1, cur: 12, now: now, want: false},
		{name: "still growing", prev: 12, cur: 30, now: now, want: false},
		{name: "stable", prev: 30, cur: 30, now: now, want: true},
		{name: "empty keeps waiting", prev: 0, cur: 0, now: now, want: false},
		{name: "deadline", prev: 0, cur: 0, now: later, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, listingSettled(tt.prev, tt.cur, tt.now, later))
		})
	}
}

func TestDocumentResponseKeepsLastDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://blog.example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://blog.example.com/posts/",
			Headers: network.Headers{"Content-Type": "text/html", "Link": []any{"a", "b"}},
		},
	})
	doc.observe("unrelated event")

	status, headers, url := doc.result("https://blog.example.com/posts", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://blog.example.com/posts/", url)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Equal(t, []string{"a", "b"}, headers.Values("Link"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, headers, url := doc.result("https://blog.example.com", "https://blog.example.com/home")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://blog.example.com/home", url)

	_, _, url = doc.result("https://blog.example.com", "")
	require.Equal(t, "https://blog.example.com", url)
}

func TestNetworkHeadersFoldsRepeatedValues(t *testing.T) {
	t.Parallel()

	got := networkHeaders(http.Header{
		"Accept":   {"text/html"},
		"X-Forms":  {"a", "b"},
		"X-Unused": {},
	})
	require.Equal(t, network.Headers{"Accept": "text/html", "X-Forms": "a, b"}, got)
}

func TestFetchWaitingForTabIsFetchError(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.tabs.Acquire(context.Background(), 1))
	defer f.tabs.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, blog.FetchRequest{URL: "https://blog.example.com"})

	var fe *blog.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "https://blog.example.com", fe.URL)
	require.Equal(t, 1, fe.Attempts)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), blog.FetchRequest{})
	require.True(t, errors.Is(err, ErrDisabled))
}
