// Package watcher exposes the core operations: checking a blog's extraction
// schema and discovering and enriching its new posts.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/discovery"
	"github.com/JakeFAU/blogwatch/internal/extract"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/refine"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Recorder writes classified error records.
type Recorder interface {
	Record(ctx context.Context, blogID int64, postID *int64, err error, fallback blog.Category) error
}

// Config tunes the service.
type Config struct {
	// BlogWorkers bounds RunAll's fan-out across blogs.
	BlogWorkers  int
	FetchTimeout time.Duration
}

// Deps groups the collaborators. Snapshots and Hasher are optional; without
// them listing HTML is not archived.
type Deps struct {
	Store      blog.Gateway
	Fetcher    blog.Fetcher
	Refiner    *refine.Controller
	Discoverer *discovery.Discoverer
	Pipeline   *extract.Pipeline
	Recorder   Recorder
	Snapshots  blog.BlobStore
	Hasher     blog.Hasher
	Clock      blog.Clock
}

// Service implements the watcher operations. Every operation is safe to
// invoke repeatedly.
type Service struct {
	store      blog.Gateway
	fetcher    blog.Fetcher
	refiner    *refine.Controller
	discoverer *discovery.Discoverer
	pipeline   *extract.Pipeline
	recorder   Recorder
	snapshots  blog.BlobStore
	hasher     blog.Hasher
	clock      blog.Clock
	cfg        Config
	logger     *zap.Logger
}

// New builds a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		refiner:    deps.Refiner,
		discoverer: deps.Discoverer,
		pipeline:   deps.Pipeline,
		recorder:   deps.Recorder,
		snapshots:  deps.Snapshots,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     logger.Named("watcher"),
	}
}

// CheckOptions modify CheckBlog.
type CheckOptions struct {
	// Regenerate runs a new generation even when a schema is accepted.
	Regenerate bool
}

// CheckResult reports one CheckBlog call.
type CheckResult struct {
	BlogID   int64          `json:"blog_id"`
	State    refine.State   `json:"state"`
	Schema   *schema.Schema `json:"schema,omitempty"`
	Attempts int            `json:"attempts"`
	Records  int            `json:"records"`
	Snapshot string         `json:"snapshot,omitempty"`
	Failure  string         `json:"failure,omitempty"`
}

// CheckBlog runs or advances schema refinement for a blog. An accepted blog
// returns its schema without side effects unless Regenerate is set; an
// exhausted blog returns StateExhausted without writing another record.
func (s *Service) CheckBlog(ctx context.Context, blogID int64, opts CheckOptions) (CheckResult, error) {
	profile, err := s.store.GetBlog(ctx, blogID)
	if err != nil {
		return CheckResult{}, err
	}
	log := s.logger.With(zap.Int64("blog_id", blogID))
	res := CheckResult{BlogID: blogID, Attempts: profile.Attempts}

	if profile.Accepted() && !opts.Regenerate {
		metrics.ObserveCheck("already_accepted")
		res.State = refine.StateAccepted
		res.Schema = profile.Schema
		return res, nil
	}
	if profile.Attempts >= s.refiner.MaxAttempts() {
		metrics.ObserveCheck("exhausted")
		log.Debug("blog exhausted; skipping check", zap.Int("attempts", profile.Attempts))
		res.State = refine.StateExhausted
		res.Schema = profile.Proposed
		return res, nil
	}

	body, snapshot, err := s.fetchListing(ctx, profile)
	if err != nil {
		metrics.ObserveCheck("fetch_failed")
		return res, err
	}
	res.Snapshot = snapshot

	outcome, err := s.refiner.Run(ctx, profile, body, profile.URL)
	if err != nil {
		metrics.ObserveCheck("interrupted")
		return res, fmt.Errorf("check blog %d: %w", blogID, err)
	}
	metrics.ObserveCheck(string(outcome.State))
	res.State = outcome.State
	res.Schema = outcome.Schema
	res.Attempts = outcome.Attempts
	res.Records = len(outcome.Records)
	if outcome.LastFailure != nil {
		res.Failure = outcome.LastFailure.Error()
	}
	log.Info("blog checked",
		zap.String("state", string(outcome.State)),
		zap.Int("attempts", outcome.Attempts),
		zap.Int("records", res.Records),
	)
	return res, nil
}

// DiscoverResult reports one DiscoverAndExtract call.
type DiscoverResult struct {
	BlogID  int64             `json:"blog_id"`
	Results []blog.PostResult `json:"results"`
	Metrics blog.Metrics      `json:"metrics"`
}

// DiscoverAndExtract finds posts that are new since the last run and sends
// them through the extraction pipeline. A listing the accepted schema no
// longer parses is recorded as a schema error and clears the blog's success
// flag so the next check regenerates.
func (s *Service) DiscoverAndExtract(ctx context.Context, blogID int64) (DiscoverResult, error) {
	profile, err := s.store.GetBlog(ctx, blogID)
	if err != nil {
		return DiscoverResult{}, err
	}
	res := DiscoverResult{BlogID: blogID}
	if !profile.Accepted() {
		return res, fmt.Errorf("discover blog %d: %w", blogID, blog.ErrNotAccepted)
	}

	body, _, err := s.fetchListing(ctx, profile)
	if err != nil {
		return res, err
	}
	candidates, err := s.discoverer.Discover(ctx, body, *profile.Schema, profile.URL)
	if err != nil {
		var execErr *schema.ExecutionError
		if errors.As(err, &execErr) {
			s.record(ctx, blogID, err, blog.CategorySchema)
			if markErr := s.store.MarkUnsuccessful(ctx, blogID); markErr != nil {
				s.logger.Error("mark blog unsuccessful", zap.Int64("blog_id", blogID), zap.Error(markErr))
			}
			metrics.ObserveCheck("schema_broken")
		}
		return res, fmt.Errorf("discover blog %d: %w", blogID, err)
	}

	res.Results, res.Metrics = s.pipeline.Process(ctx, blogID, candidates)
	return res, nil
}

// fetchListing fetches the blog's listing page, archives it and touches the
// last-checked timestamp. Fetch failures are recorded as network errors and
// leave the refinement budget alone.
func (s *Service) fetchListing(ctx context.Context, profile blog.Profile) ([]byte, string, error) {
	resp, err := s.fetcher.Fetch(ctx, blog.FetchRequest{URL: profile.URL, Timeout: s.cfg.FetchTimeout})
	if err != nil {
		s.record(ctx, profile.ID, err, blog.CategoryNetwork)
		return nil, "", fmt.Errorf("fetch listing for blog %d: %w", profile.ID, err)
	}
	if err := s.store.TouchChecked(ctx, profile.ID, s.now()); err != nil {
		return nil, "", fmt.Errorf("touch blog %d: %w", profile.ID, err)
	}
	return resp.Body, s.snapshot(ctx, profile.ID, resp.Body), nil
}

// snapshot archives listing HTML under listings/<blog id>/<digest>.html.
// Identical listings land on the same object.
func (s *Service) snapshot(ctx context.Context, blogID int64, body []byte) string {
	if s.snapshots == nil || s.hasher == nil {
		return ""
	}
	digest, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("hash listing", zap.Int64("blog_id", blogID), zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("listings/%d/%s.html", blogID, digest)
	uri, err := s.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("archive listing", zap.Int64("blog_id", blogID), zap.Error(err))
		return ""
	}
	return uri
}

// ReprocessPost re-extracts a stored post.
func (s *Service) ReprocessPost(ctx context.Context, postURL string) (blog.Post, error) {
	norm, err := discovery.Normalize(postURL, postURL)
	if err != nil {
		return blog.Post{}, fmt.Errorf("reprocess %q: %w", postURL, err)
	}
	return s.pipeline.Reprocess(ctx, norm)
}

// AddBlog registers a blog by its listing URL. An empty name defaults to the
// URL's host.
func (s *Service) AddBlog(ctx context.Context, name, rawURL string) (blog.Profile, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return blog.Profile{}, fmt.Errorf("%w: %q must be an absolute http(s) url", blog.ErrInvalidURL, rawURL)
	}
	norm, err := discovery.Normalize(u.String(), u.String())
	if err != nil {
		return blog.Profile{}, fmt.Errorf("normalize blog url: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = strings.ToLower(u.Hostname())
	}
	p, err := s.store.AddBlog(ctx, strings.TrimSpace(name), norm)
	if err != nil {
		return blog.Profile{}, err
	}
	s.logger.Info("blog added", zap.Int64("blog_id", p.ID), zap.String("url", norm))
	return p, nil
}

// ResetAttempts gives an exhausted blog a fresh refinement budget.
func (s *Service) ResetAttempts(ctx context.Context, blogID int64) error {
	if err := s.store.ResetAttempts(ctx, blogID); err != nil {
		return err
	}
	s.logger.Info("refinement attempts reset", zap.Int64("blog_id", blogID))
	return nil
}

// GetBlog returns a blog profile.
func (s *Service) GetBlog(ctx context.Context, blogID int64) (blog.Profile, error) {
	return s.store.GetBlog(ctx, blogID)
}

// PostsDiscoveredSince returns posts discovered within window of now.
func (s *Service) PostsDiscoveredSince(ctx context.Context, window time.Duration) ([]blog.Post, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	return s.store.PostsDiscoveredSince(ctx, s.now().Add(-window))
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) record(ctx context.Context, blogID int64, err error, fallback blog.Category) {
	if s.recorder == nil {
		return
	}
	if recErr := s.recorder.Record(context.WithoutCancel(ctx), blogID, nil, err, fallback); recErr != nil {
		s.logger.Error("record failure", zap.Int64("blog_id", blogID), zap.Error(recErr))
	}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
