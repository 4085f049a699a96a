package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/clock/system"
	"github.com/JakeFAU/blogwatch/internal/dispatcher"
	queuemem "github.com/JakeFAU/blogwatch/internal/queue/memory"
	"github.com/JakeFAU/blogwatch/internal/schema"
	"github.com/JakeFAU/blogwatch/internal/storage/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server  *Server
	service *fakeService
	queue   *queuemem.Queue
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	svc := newFakeService()
	q := queuemem.NewQueue(8)
	dispatch := dispatcher.New(q, memory.NewTaskStore(), &fakeIDGen{ids: []string{"task-1", "task-2"}}, system.NewManual(now), nil)
	return &fixture{
		server:  NewServer(svc, dispatch, cfg, zap.NewNop()),
		service: svc,
		queue:   q,
	}
}

func (f *fixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_AddAndGetBlog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodPost, "/v1/blogs", []byte(`{"name":"Example","url":"https://blog.example.com/"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	require.Equal(t, "Example", created["name"])
	require.Equal(t, false, created["scraping_successful"])

	rec = f.do(http.MethodGet, "/v1/blogs/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://blog.example.com/", decode(t, rec)["url"])

	rec = f.do(http.MethodPost, "/v1/blogs", []byte(`{"url":"https://blog.example.com/"}`))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_AddBlogRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/blogs", []byte("{invalid")).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/blogs", []byte(`{"name":"x"}`)).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/blogs", []byte(`{"url":"ftp://x"}`)).Code)
}

func TestServer_GetBlogErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/blogs/abc", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/blogs/99", nil).Code)
}

func TestServer_SubmitCheckQueuesTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.service.seed(blog.Profile{ID: 1, Name: "b", URL: "https://b.example.com/"})

	rec := f.do(http.MethodPost, "/v1/blogs/1/check?regenerate=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "task-1", decode(t, rec)["task_id"])

	task, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, blog.TaskCheck, task.Kind)
	require.True(t, task.Regenerate)

	rec = f.do(http.MethodGet, "/v1/tasks/task-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	require.Equal(t, "queued", got["status"])
	require.Equal(t, float64(1), got["blog_id"])
}

func TestServer_SubmitDiscoverAndErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.service.seed(blog.Profile{ID: 1, URL: "https://b.example.com/"})

	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/v1/blogs/1/discover", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/blogs/2/discover", nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/blogs/1/check?regenerate=maybe", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/tasks/missing", nil).Code)
	require.Equal(t, 1, f.queue.Len())
}

func TestServer_ResetAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.service.seed(blog.Profile{ID: 1, URL: "https://b.example.com/", Attempts: 3})

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/blogs/1/reset", nil).Code)
	p, err := f.service.GetBlog(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, p.Attempts)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/blogs/5/reset", nil).Code)
}

func TestServer_ListPosts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{DefaultWindow: 12 * time.Hour})
	f.service.posts = []blog.Post{{ID: 1, URL: "https://b.example.com/p", Title: "P", Topics: []string{"go"}}}

	rec := f.do(http.MethodGet, "/v1/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 12*time.Hour, f.service.lastWindow)
	require.Len(t, decode(t, rec)["posts"], 1)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/posts?since=6h", nil).Code)
	require.Equal(t, 6*time.Hour, f.service.lastWindow)

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/posts?since=-1h", nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/posts?since=soon", nil).Code)
}

func TestServer_ReprocessPost(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodPost, "/v1/posts/reprocess", []byte(`{"url":"https://b.example.com/p"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "reprocessed", decode(t, rec)["summary"])

	rec = f.do(http.MethodPost, "/v1/posts/reprocess", []byte(`{"url":"https://b.example.com/missing"}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/posts/reprocess", []byte(`{}`)).Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", nil).Code)

	f.service.readyErr = errors.New("db down")
	require.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", nil).Code)

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{APIKey: "secret"})
	f.service.seed(blog.Profile{ID: 1, URL: "https://b.example.com/"})

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/v1/blogs/1", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/blogs/1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.service.panicOnGet = true
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/v1/blogs/1", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeService struct {
	mu         sync.Mutex
	blogs      map[int64]blog.Profile
	nextID     int64
	posts      []blog.Post
	lastWindow time.Duration
	readyErr   error
	panicOnGet bool
}

func newFakeService() *fakeService {
	return &fakeService{blogs: make(map[int64]blog.Profile), nextID: 1}
}

func (s *fakeService) seed(p blog.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blogs[p.ID] = p
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
}

func (s *fakeService) AddBlog(_ context.Context, name, rawURL string) (blog.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rawURL) < 8 || rawURL[:8] != "https://" {
		return blog.Profile{}, fmt.Errorf("%w: %q", blog.ErrInvalidURL, rawURL)
	}
	for _, p := range s.blogs {
		if p.URL == rawURL {
			return blog.Profile{}, blog.ErrDuplicateURL
		}
	}
	p := blog.Profile{ID: s.nextID, Name: name, URL: rawURL, CreatedAt: now, Schema: &schema.Schema{PostItemSelector: "article"}}
	s.nextID++
	s.blogs[p.ID] = p
	return p, nil
}

func (s *fakeService) GetBlog(_ context.Context, id int64) (blog.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnGet {
		panic("boom")
	}
	p, ok := s.blogs[id]
	if !ok {
		return blog.Profile{}, fmt.Errorf("blog %d: %w", id, blog.ErrNotFound)
	}
	return p, nil
}

func (s *fakeService) ResetAttempts(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.blogs[id]
	if !ok {
		return blog.ErrNotFound
	}
	p.Attempts = 0
	s.blogs[id] = p
	return nil
}

func (s *fakeService) PostsDiscoveredSince(_ context.Context, window time.Duration) ([]blog.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastWindow = window
	return s.posts, nil
}

func (s *fakeService) ReprocessPost(_ context.Context, postURL string) (blog.Post, error) {
	if postURL != "https://b.example.com/p" {
		return blog.Post{}, blog.ErrNotFound
	}
	return blog.Post{ID: 1, URL: postURL, Summary: "reprocessed"}, nil
}

func (s *fakeService) Ready(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyErr
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
