package watcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/pool"
	"github.com/JakeFAU/blogwatch/internal/refine"
)

// Actions taken for a blog during RunAll.
const (
	ActionDiscover = "discover"
	ActionCheck    = "check"
	ActionSkip     = "skip"
)

// BlogRun is the RunAll outcome for one blog.
type BlogRun struct {
	BlogID  int64        `json:"blog_id"`
	Action  string       `json:"action"`
	State   refine.State `json:"state,omitempty"`
	Metrics blog.Metrics `json:"metrics"`
	Error   string       `json:"error,omitempty"`
}

// RunReport aggregates a RunAll pass.
type RunReport struct {
	Blogs   []BlogRun    `json:"blogs"`
	Metrics blog.Metrics `json:"metrics"`
}

// RunAll makes one pass over every blog: accepted blogs are scanned for new
// posts, pending blogs within budget are checked and scanned if the check
// succeeds, exhausted blogs are skipped. One blog's failure never stops the
// pass.
func (s *Service) RunAll(ctx context.Context) (RunReport, error) {
	blogs, err := s.store.ListBlogs(ctx)
	if err != nil {
		return RunReport{}, err
	}
	runs := make([]BlogRun, len(blogs))
	var mu sync.Mutex
	var total blog.Metrics

	workers := pool.Workers(len(blogs), s.cfg.BlogWorkers)
	err = pool.Run(ctx, blogs, workers, func(ctx context.Context, i int, p blog.Profile) {
		run := s.runOne(ctx, p)
		runs[i] = run
		mu.Lock()
		total.Merge(run.Metrics)
		mu.Unlock()
	})
	s.logger.Info("run complete",
		zap.Int("blogs", len(blogs)),
		zap.Int("stored", total.Stored),
		zap.Int("network_errors", total.NetworkErrors),
		zap.Int("extraction_errors", total.ExtractionErrors),
	)
	return RunReport{Blogs: runs, Metrics: total}, err
}

func (s *Service) runOne(ctx context.Context, p blog.Profile) BlogRun {
	run := BlogRun{BlogID: p.ID}
	log := s.logger.With(zap.Int64("blog_id", p.ID))

	if !p.Accepted() {
		if p.Exhausted(s.refiner.MaxAttempts()) {
			run.Action = ActionSkip
			run.State = refine.StateExhausted
			run.Error = blog.ErrExhausted.Error()
			return run
		}
		run.Action = ActionCheck
		res, err := s.CheckBlog(ctx, p.ID, CheckOptions{})
		run.State = res.State
		if err != nil {
			log.Warn("check failed", zap.Error(err))
			run.Error = err.Error()
			return run
		}
		if res.State != refine.StateAccepted {
			return run
		}
	}

	if run.Action == "" {
		run.Action = ActionDiscover
	}
	res, err := s.DiscoverAndExtract(ctx, p.ID)
	run.Metrics = res.Metrics
	if err != nil {
		log.Warn("discovery failed", zap.Error(err))
		run.Error = err.Error()
	}
	return run
}
