package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

// Promoting fetches with a plain HTTP probe first and re-renders through the
// headless fetcher when the detector flags the probe as a client-side shell.
type Promoting struct {
	probe    blog.Fetcher
	headless blog.Fetcher
	detector blog.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoting builds a Promoting fetcher. headless and detector may be nil,
// in which case the probe response is always returned.
func NewPromoting(probe, headless blog.Fetcher, detector blog.HeadlessDetector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{probe: probe, headless: headless, detector: detector, logger: logger.Named("promoting_fetcher")}
}

// Fetch implements blog.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, req blog.FetchRequest) (blog.FetchResponse, error) {
	if req.UseHeadless && p.headless != nil {
		return p.headless.Fetch(ctx, req)
	}
	resp, err := p.probe.Fetch(ctx, req)
	if err != nil {
		return blog.FetchResponse{}, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("headless promotion failed, using probe response",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	p.logger.Debug("promoted to headless", zap.String("url", req.URL))
	return rendered, nil
}
