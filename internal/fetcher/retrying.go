package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/retry"
)

var errAttemptTimeout = errors.New("attempt timed out")

// Retrying wraps a Fetcher with a per-attempt timeout and a retry policy.
// Server errors, 408, 429 and transport failures are retried; other 4xx
// responses and caller cancellation are not.
type Retrying struct {
	next    blog.Fetcher
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
}

// NewRetrying builds a retrying fetcher. A zero timeout leaves attempts
// bounded only by ctx.
func NewRetrying(next blog.Fetcher, policy retry.Policy, timeout time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, timeout: timeout, logger: logger.Named("fetcher")}
}

// Fetch performs req, retrying transient failures.
func (r *Retrying) Fetch(ctx context.Context, req blog.FetchRequest) (blog.FetchResponse, error) {
	var (
		resp       blog.FetchResponse
		lastErr    error
		lastStatus int
	)
	start := time.Now()
	attempts, err := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) error {
		out, err := r.attempt(ctx, req)
		if err == nil {
			resp = out
			return nil
		}
		lastErr = err
		lastStatus = statusOf(err)
		r.logger.Debug("fetch attempt failed",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Int("status", lastStatus),
			zap.Error(err),
		)
		if !retryableStatus(lastStatus) {
			return retry.Permanent(err)
		}
		return err
	})

	renderer := "http"
	if resp.UsedHeadless {
		renderer = "headless"
	}
	if err != nil {
		status := "error"
		if lastStatus != 0 {
			status = strconv.Itoa(lastStatus)
		}
		metrics.ObserveFetch(req.URL, status, renderer, 0, time.Since(start))
		cause := lastErr
		var inner *blog.FetchError
		if errors.As(lastErr, &inner) && inner.Cause != nil {
			cause = inner.Cause
		}
		if cause == nil || ctx.Err() != nil {
			cause = err
		}
		return blog.FetchResponse{}, &blog.FetchError{
			URL:        req.URL,
			StatusCode: lastStatus,
			Attempts:   attempts,
			Cause:      cause,
		}
	}
	metrics.ObserveFetch(req.URL, strconv.Itoa(resp.StatusCode), renderer, len(resp.Body), time.Since(start))
	return resp, nil
}

func (r *Retrying) attempt(ctx context.Context, req blog.FetchRequest) (blog.FetchResponse, error) {
	attemptCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
		req.Timeout = r.timeout
	}
	out, err := r.next.Fetch(attemptCtx, req)
	if err != nil {
		// A per-attempt deadline is a transient failure; only the caller's
		// own cancellation should stop the retry loop.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return blog.FetchResponse{}, fmt.Errorf("%w after %s", errAttemptTimeout, r.timeout)
		}
		return blog.FetchResponse{}, err
	}
	if out.StatusCode >= http.StatusBadRequest {
		return blog.FetchResponse{}, &blog.FetchError{
			URL:        req.URL,
			StatusCode: out.StatusCode,
			Attempts:   1,
			Cause:      fmt.Errorf("unexpected status %d", out.StatusCode),
		}
	}
	return out, nil
}

func statusOf(err error) int {
	var fe *blog.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

func retryableStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
