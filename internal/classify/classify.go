// Package classify maps failures onto error-log categories and records them.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Classify returns the category for err and whether it should be recorded
// at all. Duplicate URLs are benign and never recorded. Unrecognized errors
// take the caller's fallback.
func Classify(err error, fallback blog.Category) (blog.Category, bool) {
	if err == nil || errors.Is(err, blog.ErrDuplicateURL) {
		return "", false
	}
	var (
		fetchErr   *blog.FetchError
		genErr     *blog.GenerationError
		execErr    *schema.ExecutionError
		extractErr *blog.ExtractionError
	)
	switch {
	case errors.As(err, &fetchErr):
		return blog.CategoryNetwork, true
	case errors.As(err, &genErr), errors.As(err, &execErr):
		return blog.CategorySchema, true
	case errors.As(err, &extractErr):
		return blog.CategoryExtraction, true
	default:
		return fallback, true
	}
}

// Recorder writes one ErrorRecord per classified failure.
type Recorder struct {
	log    blog.ErrorLog
	clock  blog.Clock
	logger *zap.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(log blog.ErrorLog, clock blog.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{log: log, clock: clock, logger: logger.Named("errors")}
}

// Record classifies err and appends it to the error log.
func (r *Recorder) Record(ctx context.Context, blogID int64, postID *int64, err error, fallback blog.Category) error {
	category, ok := Classify(err, fallback)
	if !ok {
		if err != nil {
			r.logger.Debug("benign failure not recorded", zap.Int64("blog_id", blogID), zap.Error(err))
		}
		return nil
	}
	now := time.Now().UTC()
	if r.clock != nil {
		now = r.clock.Now()
	}
	rec := blog.ErrorRecord{
		BlogID:    blogID,
		PostID:    postID,
		Category:  category,
		Message:   err.Error(),
		Timestamp: now,
	}
	if insertErr := r.log.InsertError(ctx, rec); insertErr != nil {
		return fmt.Errorf("insert error record: %w", insertErr)
	}
	metrics.ObserveError(string(category))
	r.logger.Info("error recorded",
		zap.Int64("blog_id", blogID),
		zap.String("category", string(category)),
		zap.Error(err),
	)
	return nil
}
