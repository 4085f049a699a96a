package refine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

const listing = `<body>
<article><a href="/one">One</a><time datetime="2024-01-01"></time></article>
<article><a href="/two">Two</a><time datetime="2024-01-02"></time></article>
</body>`

var (
	good = schema.Schema{
		PostItemSelector: "article",
		Fields: schema.Fields{
			Title:   schema.FieldRule{Selector: "a"},
			PostURL: schema.FieldRule{Selector: "a"},
			Date:    schema.FieldRule{Selector: "time", Attribute: "datetime"},
		},
	}
	bad = schema.Schema{
		PostItemSelector: "li.nothing",
		Fields:           schema.Fields{Title: schema.FieldRule{Selector: "a"}, PostURL: schema.FieldRule{Selector: "a"}},
	}
)

type scriptedGenerator struct {
	mu       sync.Mutex
	outputs  []schema.Schema
	errs     []error
	requests []blog.GenerateRequest
}

func (g *scriptedGenerator) GenerateSchema(_ context.Context, req blog.GenerateRequest) (schema.Schema, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return schema.Schema{}, g.errs[i]
	}
	if i >= len(g.outputs) {
		return g.outputs[len(g.outputs)-1], nil
	}
	return g.outputs[i], nil
}

type fakeStore struct {
	mu           sync.Mutex
	attempts     int
	accepted     *schema.Schema
	proposed     *schema.Schema
	successful   bool
	unsuccessful int
}

func (s *fakeStore) IncrementAttempts(_ context.Context, _ int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts, nil
}

func (s *fakeStore) UpsertBlogSchema(_ context.Context, _ int64, sc schema.Schema, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accepted {
		s.accepted = &sc
		s.successful = true
		return nil
	}
	s.proposed = &sc
	s.successful = false
	return nil
}

func (s *fakeStore) MarkUnsuccessful(context.Context, int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsuccessful++
	s.successful = false
	return nil
}

type recorded struct {
	err      error
	fallback blog.Category
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recorded
}

func (r *fakeRecorder) Record(_ context.Context, _ int64, _ *int64, err error, fallback blog.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recorded{err: err, fallback: fallback})
	return nil
}

func newController(gen blog.SchemaGenerator, store *fakeStore, rec *fakeRecorder) *Controller {
	return NewController(gen, schema.NewExecutor(), store, rec, 3, zap.NewNop())
}

func TestRunAcceptsFirstWorkingSchema(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: []schema.Schema{good}}
	store := &fakeStore{}
	rec := &fakeRecorder{}

	out, err := newController(gen, store, rec).Run(context.Background(), blog.Profile{ID: 1}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Len(t, out.Records, 2)
	require.Equal(t, 0, store.attempts)
	require.True(t, store.successful)
	require.Equal(t, good, *store.accepted)
	require.Empty(t, rec.records)
}

func TestRunRefinesWithFeedback(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: []schema.Schema{bad, good}}
	store := &fakeStore{}
	rec := &fakeRecorder{}

	out, err := newController(gen, store, rec).Run(context.Background(), blog.Profile{ID: 1}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, 1, store.attempts)

	require.Len(t, gen.requests, 2)
	require.Nil(t, gen.requests[0].Prior)
	require.NotNil(t, gen.requests[1].Prior)
	require.Equal(t, bad, *gen.requests[1].Prior)
	require.Contains(t, gen.requests[1].Failure, "no_containers")
}

func TestRunExhaustsInExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: []schema.Schema{bad}}
	store := &fakeStore{}
	rec := &fakeRecorder{}

	out, err := newController(gen, store, rec).Run(context.Background(), blog.Profile{ID: 7}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 3, out.Attempts)
	require.Len(t, gen.requests, 3)
	require.Equal(t, 3, store.attempts)
	require.False(t, store.successful)
	require.Equal(t, bad, *store.proposed)
	require.Nil(t, store.accepted)

	require.Len(t, rec.records, 1)
	require.Equal(t, blog.CategorySchema, rec.records[0].fallback)
	require.ErrorIs(t, rec.records[0].err, blog.ErrExhausted)
	var execErr *schema.ExecutionError
	require.ErrorAs(t, rec.records[0].err, &execErr)
}

func TestRunGenerationErrorsConsumeBudget(t *testing.T) {
	t.Parallel()

	genErr := &blog.GenerationError{Message: "garbage"}
	gen := &scriptedGenerator{outputs: []schema.Schema{good}, errs: []error{genErr, genErr, genErr}}
	store := &fakeStore{}
	rec := &fakeRecorder{}

	out, err := newController(gen, store, rec).Run(context.Background(), blog.Profile{ID: 3}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 1, store.unsuccessful)
	require.Nil(t, store.proposed)
	require.Len(t, rec.records, 1)
	require.ErrorAs(t, rec.records[0].err, &genErr)
}

func TestRunContinuesCounterAndSkipsWhenSpent(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: []schema.Schema{bad}}
	store := &fakeStore{attempts: 2}
	rec := &fakeRecorder{}
	c := newController(gen, store, rec)

	out, err := c.Run(context.Background(), blog.Profile{ID: 1, Attempts: 2}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Len(t, gen.requests, 1)
	require.Len(t, rec.records, 1)

	out, err = c.Run(context.Background(), blog.Profile{ID: 1, Attempts: 3}, []byte(listing), "https://blog.example.com/")
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Len(t, gen.requests, 1)
	require.Len(t, rec.records, 1)
}

type cancelingGenerator struct{ cancel context.CancelFunc }

func (g cancelingGenerator) GenerateSchema(context.Context, blog.GenerateRequest) (schema.Schema, error) {
	g.cancel()
	return schema.Schema{}, errors.New("canceled mid-call")
}

func TestRunCancellationDoesNotConsumeBudget(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeStore{}
	_, err := newController(cancelingGenerator{cancel: cancel}, store, &fakeRecorder{}).Run(ctx, blog.Profile{ID: 1}, []byte(listing), "https://blog.example.com/")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, store.attempts)
}
