// Package refine drives the generate, validate and refine loop that turns an
// untrusted schema proposal into an accepted one under a persisted budget.
package refine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// State is a refinement state.
type State string

// Refinement states. Accepted and Exhausted are terminal for one run.
const (
	StateDrafting   State = "drafting"
	StateValidating State = "validating"
	StateRefining   State = "refining"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// Store is the slice of the gateway the controller writes to.
type Store interface {
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	UpsertBlogSchema(ctx context.Context, id int64, s schema.Schema, accepted bool) error
	MarkUnsuccessful(ctx context.Context, id int64) error
}

// Recorder writes classified error records.
type Recorder interface {
	Record(ctx context.Context, blogID int64, postID *int64, err error, fallback blog.Category) error
}

// Outcome summarizes one run.
type Outcome struct {
	State       State
	Schema      *schema.Schema
	Attempts    int
	Records     []schema.Record
	LastFailure error
}

// Controller joins a SchemaGenerator with the Executor.
type Controller struct {
	generator   blog.SchemaGenerator
	executor    *schema.Executor
	store       Store
	recorder    Recorder
	maxAttempts int
	logger      *zap.Logger
}

// NewController builds a Controller. maxAttempts <= 0 defaults to 3.
func NewController(
	generator blog.SchemaGenerator,
	executor *schema.Executor,
	store Store,
	recorder Recorder,
	maxAttempts int,
	logger *zap.Logger,
) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if executor == nil {
		executor = schema.NewExecutor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		generator:   generator,
		executor:    executor,
		store:       store,
		recorder:    recorder,
		maxAttempts: maxAttempts,
		logger:      logger.Named("refine"),
	}
}

// MaxAttempts returns the refinement budget.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Run advances refinement for profile against the listing html fetched from
// pageURL. Only failed validations consume the budget; the counter value
// returned by the store is authoritative.
func (c *Controller) Run(ctx context.Context, profile blog.Profile, html []byte, pageURL string) (Outcome, error) {
	log := c.logger.With(zap.Int64("blog_id", profile.ID), zap.String("url", profile.URL))
	attempts := profile.Attempts
	if attempts >= c.maxAttempts {
		log.Debug("refinement budget already spent", zap.Int("attempts", attempts))
		return Outcome{State: StateExhausted, Attempts: attempts}, nil
	}

	var (
		prior        *schema.Schema
		priorRecords []schema.Record
		lastFailure  error
	)
	c.enter(log, StateDrafting, attempts)
	for attempts < c.maxAttempts {
		failureText := ""
		if lastFailure != nil {
			failureText = lastFailure.Error()
		}
		candidate, err := c.generator.GenerateSchema(ctx, blog.GenerateRequest{
			BlogURL:      pageURL,
			HTML:         html,
			Prior:        prior,
			PriorRecords: priorRecords,
			Failure:      failureText,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{State: StateDrafting, Attempts: attempts, LastFailure: lastFailure}, fmt.Errorf("refinement interrupted: %w", ctxErr)
		}

		if err == nil {
			c.enter(log, StateValidating, attempts)
			res, execErr := c.executor.Execute(html, candidate, pageURL)
			if execErr == nil {
				if err := c.store.UpsertBlogSchema(ctx, profile.ID, candidate, true); err != nil {
					return Outcome{}, fmt.Errorf("persist accepted schema: %w", err)
				}
				c.enter(log, StateAccepted, attempts)
				log.Info("schema accepted",
					zap.Int("records", len(res.Records)),
					zap.String("container", res.Selected.Selector),
					zap.Int("attempts", attempts),
				)
				return Outcome{State: StateAccepted, Schema: &candidate, Attempts: attempts, Records: res.Records}, nil
			}
			err = execErr
			proposed := candidate
			prior = &proposed
			priorRecords = res.Selected.Records
		}
		lastFailure = err

		n, incErr := c.store.IncrementAttempts(ctx, profile.ID)
		if incErr != nil {
			return Outcome{}, fmt.Errorf("increment refinement attempts: %w", incErr)
		}
		attempts = n
		c.enter(log, StateRefining, attempts)
		log.Info("schema rejected", zap.Int("attempts", attempts), zap.Error(err))
		if attempts < c.maxAttempts {
			c.enter(log, StateDrafting, attempts)
		}
	}

	return c.exhaust(ctx, log, profile.ID, prior, attempts, lastFailure)
}

func (c *Controller) exhaust(
	ctx context.Context,
	log *zap.Logger,
	blogID int64,
	proposed *schema.Schema,
	attempts int,
	lastFailure error,
) (Outcome, error) {
	if proposed != nil {
		if err := c.store.UpsertBlogSchema(ctx, blogID, *proposed, false); err != nil {
			return Outcome{}, fmt.Errorf("persist proposed schema: %w", err)
		}
	} else if err := c.store.MarkUnsuccessful(ctx, blogID); err != nil {
		return Outcome{}, fmt.Errorf("mark blog unsuccessful: %w", err)
	}

	cause := lastFailure
	if cause == nil {
		cause = errors.New("no proposal was attempted")
	}
	exhausted := fmt.Errorf("%w after %d attempt(s): %w", blog.ErrExhausted, attempts, cause)
	if c.recorder != nil {
		if err := c.recorder.Record(ctx, blogID, nil, exhausted, blog.CategorySchema); err != nil {
			log.Warn("failed to record exhaustion", zap.Error(err))
		}
	}
	c.enter(log, StateExhausted, attempts)
	log.Warn("schema refinement exhausted", zap.Int("attempts", attempts), zap.Error(lastFailure))
	return Outcome{State: StateExhausted, Schema: proposed, Attempts: attempts, LastFailure: lastFailure}, nil
}

func (c *Controller) enter(log *zap.Logger, s State, attempts int) {
	metrics.ObserveTransition(string(s))
	log.Debug("refinement transition", zap.String("state", string(s)), zap.Int("attempts", attempts))
}
