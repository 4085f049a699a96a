// Package headless renders JavaScript-driven blog pages with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
	pollInterval             = 100 * time.Millisecond

	linkCountJS = `document.querySelectorAll("a[href]").length`
	scrollJS    = `window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero is unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must match before the listing is inspected. Defaults to body.
	WaitSelector string
	// SettleDelay bounds the wait for the post list to stop growing.
	SettleDelay time.Duration
	// ScrollPasses scrolls to the bottom this many times so infinite-scroll
	// listings render more entries.
	ScrollPasses int
}

// Fetcher implements blog.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher. Chrome is started lazily on the
// first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.ScrollPasses < 0 {
		return nil, errors.New("scroll passes must be >= 0")
	}
	cfg = withDefaults(cfg)

	var tabs *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{cfg: cfg, tabs: tabs, allocator: allocCtx, allocCancel: allocCancel}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return cfg
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the page and returns its DOM once the listing stops growing.
// Every failure is a *blog.FetchError; document responses of 400 and above
// are failures too.
func (f *Fetcher) Fetch(ctx context.Context, request blog.FetchRequest) (blog.FetchResponse, error) {
	failed := func(status int, err error) (blog.FetchResponse, error) {
		return blog.FetchResponse{}, &blog.FetchError{URL: request.URL, StatusCode: status, Attempts: 1, Cause: err}
	}
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return failed(0, fmt.Errorf("wait for browser tab: %w", err))
		}
		defer f.tabs.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.timeoutFor(request))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	page, err := f.render(tabCtx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return failed(doc.statusCode(), err)
	}

	status, headers, finalURL := doc.result(request.URL, page.location)
	if status >= http.StatusBadRequest {
		return failed(status, fmt.Errorf("document responded with status %d", status))
	}
	return blog.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(page.html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) timeoutFor(request blog.FetchRequest) time.Duration {
	if request.Timeout > 0 && request.Timeout < f.cfg.NavigationTimeout {
		return request.Timeout
	}
	return f.cfg.NavigationTimeout
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) render(ctx context.Context, request blog.FetchRequest) (renderedPage, error) {
	var page renderedPage
	err := chromedp.Run(ctx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		f.loadMorePosts(),
		f.waitForListing(),
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err != nil {
		return renderedPage{}, fmt.Errorf("render listing: %w", err)
	}
	return page, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) loadMorePosts() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for range f.cfg.ScrollPasses {
			var height float64
			if err := chromedp.Evaluate(scrollJS, &height).Do(ctx); err != nil {
				return fmt.Errorf("scroll listing: %w", err)
			}
			if err := chromedp.Sleep(pollInterval).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// waitForListing polls the link count until two consecutive reads agree or
// the settle delay runs out.
func (f *Fetcher) waitForListing() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(f.cfg.SettleDelay)
		prev := -1
		for {
			var links int
			if err := chromedp.Evaluate(linkCountJS, &links).Do(ctx); err != nil {
				return fmt.Errorf("count listing links: %w", err)
			}
			if listingSettled(prev, links, time.Now(), deadline) {
				return nil
			}
			prev = links
			if err := chromedp.Sleep(pollInterval).Do(ctx); err != nil {
				return err
			}
		}
	})
}

// listingSettled reports whether polling can stop. An empty page keeps
// waiting until the deadline since client-side rendering may not have
// started.
func listingSettled(prev, cur int, now, deadline time.Time) bool {
	if !now.Before(deadline) {
		return true
	}
	return cur > 0 && cur == prev
}

// documentResponse keeps the last top-level document response seen in a
// tab. Redirects leave the final hop.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := headerFromNetwork(resp.Response.Headers)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

func (d *documentResponse) statusCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document response was observed.
func (d *documentResponse) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func headerFromNetwork(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(src http.Header) network.Headers {
	out := make(network.Headers, len(src))
	for key, values := range src {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
