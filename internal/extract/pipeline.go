// Package extract fetches newly discovered posts, enriches them through the
// metadata oracle and stores them.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/classify"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/pool"
)

// Store is the slice of the post store the pipeline writes through.
type Store interface {
	InsertPost(ctx context.Context, post blog.Post) (int64, error)
	GetPostByURL(ctx context.Context, url string) (blog.Post, error)
	UpdatePostMetadata(ctx context.Context, post blog.Post) error
	ListTopics(ctx context.Context) ([]string, error)
}

// Recorder writes classified error records.
type Recorder interface {
	Record(ctx context.Context, blogID int64, postID *int64, err error, fallback blog.Category) error
}

// Config tunes the pipeline.
type Config struct {
	MaxWorkers  int
	PostTimeout time.Duration
	// NotifyTopic receives a PostStored event per stored post. Empty disables
	// notifications.
	NotifyTopic string
}

// PostStored is published after a post is committed.
type PostStored struct {
	PostID      int64      `json:"post_id"`
	BlogID      int64      `json:"blog_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"publication_date,omitempty"`
	Summary     string     `json:"summary"`
	Density     string     `json:"technical_density,omitempty"`
	Topics      []string   `json:"topics"`
	ReadingTime int        `json:"reading_time"`
}

// Pipeline processes candidates concurrently. A failing post never affects
// the other posts in the batch.
type Pipeline struct {
	fetcher   blog.Fetcher
	oracle    blog.MetadataExtractor
	store     Store
	recorder  Recorder
	limiter   blog.Limiter
	publisher blog.Publisher
	clock     blog.Clock
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the pipeline collaborators. Limiter, Publisher and Clock are
// optional.
type Deps struct {
	Fetcher   blog.Fetcher
	Oracle    blog.MetadataExtractor
	Store     Store
	Recorder  Recorder
	Limiter   blog.Limiter
	Publisher blog.Publisher
	Clock     blog.Clock
}

// New builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   deps.Fetcher,
		oracle:    deps.Oracle,
		store:     deps.Store,
		recorder:  deps.Recorder,
		limiter:   deps.Limiter,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("extract"),
	}
}

// Process fetches, enriches and stores every candidate. Results are returned
// in candidate order.
func (p *Pipeline) Process(ctx context.Context, blogID int64, candidates []blog.Candidate) ([]blog.PostResult, blog.Metrics) {
	m := blog.Metrics{NewPostsFound: len(candidates)}
	if len(candidates) == 0 {
		return nil, m
	}

	topics, err := p.store.ListTopics(ctx)
	if err != nil {
		p.logger.Warn("list topics failed; proceeding without vocabulary", zap.Error(err))
	}

	results := make([]blog.PostResult, len(candidates))
	workers := pool.Workers(len(candidates), p.cfg.MaxWorkers)

	runErr := pool.Run(ctx, candidates, workers, func(ctx context.Context, i int, c blog.Candidate) {
		results[i] = p.processOne(ctx, blogID, c, topics)
	})
	if runErr != nil {
		// Candidates never scheduled before cancellation.
		for i, c := range candidates {
			if results[i].URL == "" {
				results[i] = p.canceled(blogID, c.URL, runErr)
			}
		}
	}

	for _, r := range results {
		m.Add(r)
	}
	p.logger.Info("batch processed",
		zap.Int64("blog_id", blogID),
		zap.Int("candidates", len(candidates)),
		zap.Int("stored", m.Stored),
		zap.Int("duplicates", m.Duplicates),
		zap.Int("network_errors", m.NetworkErrors),
		zap.Int("extraction_errors", m.ExtractionErrors),
		zap.Int("canceled", m.Canceled),
	)
	return results, m
}

func (p *Pipeline) processOne(parent context.Context, blogID int64, c blog.Candidate, topics []string) blog.PostResult {
	ctx, cancel := context.WithTimeout(parent, p.cfg.PostTimeout)
	defer cancel()

	text, err := p.fetchText(ctx, c.URL)
	if err != nil {
		return p.fail(parent, blogID, nil, c.URL, err, blog.CategoryNetwork)
	}
	md, err := p.oracle.ExtractMetadata(ctx, text, topics)
	if err != nil {
		return p.fail(parent, blogID, nil, c.URL, &blog.ExtractionError{URL: c.URL, Stage: "metadata", Cause: err}, blog.CategoryExtraction)
	}

	post := blog.Post{
		BlogID:       blogID,
		URL:          c.URL,
		Title:        c.Title,
		PublishedAt:  c.PublishedAt,
		DiscoveredAt: p.now(),
		ReadingTime:  ReadingTime(text, md.Density),
		Summary:      md.Summary,
		Density:      md.Density,
		FullText:     text,
		Topics:       blog.NormalizeTopics(md.Topics),
	}
	id, err := p.store.InsertPost(ctx, post)
	if errors.Is(err, blog.ErrDuplicateURL) {
		metrics.ObservePost("duplicate")
		p.logger.Debug("post already stored", zap.String("url", c.URL))
		return blog.PostResult{URL: c.URL, Skipped: true}
	}
	if err != nil {
		return p.fail(parent, blogID, nil, c.URL, &blog.ExtractionError{URL: c.URL, Stage: "persist", Cause: err}, blog.CategoryExtraction)
	}
	post.ID = id
	metrics.ObservePost("stored")
	p.notify(ctx, post)
	return blog.PostResult{URL: c.URL, Success: true, PostID: id}
}

// fetchText returns the article text. Fetch failures come back as
// *blog.FetchError, parse failures as *blog.ExtractionError.
func (p *Pipeline) fetchText(ctx context.Context, url string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return "", &blog.FetchError{URL: url, Cause: fmt.Errorf("rate limit wait: %w", err)}
		}
	}
	resp, err := p.fetcher.Fetch(ctx, blog.FetchRequest{URL: url})
	if err != nil {
		return "", err
	}
	text, err := ExtractText(resp.Body)
	if err != nil {
		return "", &blog.ExtractionError{URL: url, Stage: "text", Cause: err}
	}
	return text, nil
}

// Reprocess re-fetches a stored post and replaces its summary, density,
// reading time and topics.
func (p *Pipeline) Reprocess(parent context.Context, url string) (blog.Post, error) {
	post, err := p.store.GetPostByURL(parent, url)
	if err != nil {
		return blog.Post{}, fmt.Errorf("load post: %w", err)
	}
	ctx, cancel := context.WithTimeout(parent, p.cfg.PostTimeout)
	defer cancel()

	postID := post.ID
	text, err := p.fetchText(ctx, url)
	if err != nil {
		p.fail(parent, post.BlogID, &postID, url, err, blog.CategoryNetwork)
		return blog.Post{}, err
	}
	topics, err := p.store.ListTopics(ctx)
	if err != nil {
		p.logger.Warn("list topics failed; proceeding without vocabulary", zap.Error(err))
	}
	md, err := p.oracle.ExtractMetadata(ctx, text, topics)
	if err != nil {
		err = &blog.ExtractionError{URL: url, Stage: "metadata", Cause: err}
		p.fail(parent, post.BlogID, &postID, url, err, blog.CategoryExtraction)
		return blog.Post{}, err
	}

	post.Summary = md.Summary
	post.Density = md.Density
	post.Topics = blog.NormalizeTopics(md.Topics)
	post.FullText = text
	post.ReadingTime = ReadingTime(text, md.Density)
	if err := p.store.UpdatePostMetadata(ctx, post); err != nil {
		err = &blog.ExtractionError{URL: url, Stage: "persist", Cause: err}
		p.fail(parent, post.BlogID, &postID, url, err, blog.CategoryExtraction)
		return blog.Post{}, err
	}
	metrics.ObservePost("reprocessed")
	p.logger.Info("post reprocessed", zap.Int64("post_id", post.ID), zap.String("url", url))
	return post, nil
}

// fail classifies and records a post failure. parent is the invocation
// context: once it is done the failure is reported as canceled and nothing
// is recorded.
func (p *Pipeline) fail(parent context.Context, blogID int64, postID *int64, url string, err error, fallback blog.Category) blog.PostResult {
	if parent.Err() != nil {
		return p.canceled(blogID, url, err)
	}
	category, _ := classify.Classify(err, fallback)
	metrics.ObservePost("failed")
	p.logger.Warn("post failed",
		zap.Int64("blog_id", blogID),
		zap.String("url", url),
		zap.String("category", string(category)),
		zap.Error(err),
	)
	if p.recorder != nil {
		// The post deadline may already be spent; the record must still land.
		if recErr := p.recorder.Record(context.WithoutCancel(parent), blogID, postID, err, fallback); recErr != nil {
			p.logger.Error("record post failure", zap.String("url", url), zap.Error(recErr))
		}
	}
	return blog.PostResult{URL: url, Category: category, Message: err.Error()}
}

func (p *Pipeline) canceled(blogID int64, url string, err error) blog.PostResult {
	metrics.ObservePost("canceled")
	p.logger.Info("post abandoned on cancellation",
		zap.Int64("blog_id", blogID),
		zap.String("url", url),
		zap.Error(err),
	)
	return blog.PostResult{URL: url, Canceled: true, Message: err.Error()}
}

func (p *Pipeline) notify(ctx context.Context, post blog.Post) {
	if p.publisher == nil || p.cfg.NotifyTopic == "" {
		return
	}
	_, err := p.publisher.Publish(ctx, p.cfg.NotifyTopic, PostStored{
		PostID:      post.ID,
		BlogID:      post.BlogID,
		URL:         post.URL,
		Title:       post.Title,
		PublishedAt: post.PublishedAt,
		Summary:     post.Summary,
		Density:     string(post.Density),
		Topics:      post.Topics,
		ReadingTime: post.ReadingTime,
	})
	if err != nil {
		p.logger.Warn("publish post notification failed", zap.Int64("post_id", post.ID), zap.Error(err))
	}
}

func (p *Pipeline) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}
