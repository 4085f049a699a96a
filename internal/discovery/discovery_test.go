package discovery

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogwatch/internal/schema"
)

type memLookup struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func (m *memLookup) ExistingPostURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for _, u := range urls {
		if _, ok := m.urls[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (m *memLookup) store(urls ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		m.urls[u] = struct{}{}
	}
}

var listSchema = schema.Schema{
	PostItemSelector: "li.post",
	Fields: schema.Fields{
		Title:   schema.FieldRule{Selector: "a"},
		PostURL: schema.FieldRule{Selector: "a"},
	},
}

const listing = `<body><ul>
<li class="post"><a href="/a#comments">A</a></li>
<li class="post"><a href="HTTPS://Blog.Example.com:443/b">B</a></li>
<li class="post"><a href="/a">A again</a></li>
<li class="post"><a href="/c">C</a></li>
</ul></body>`

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/x#frag":                       "https://blog.example.com/x",
		"HTTPS://BLOG.example.com:443/Y": "https://blog.example.com/Y",
		"http://other.example.com:80":    "http://other.example.com/",
		"http://other.example.com:8080/": "http://other.example.com:8080/",
		"rel?q=1":                        "https://blog.example.com/list/rel?q=1",
	}
	for in, want := range cases {
		got, err := Normalize("https://blog.example.com/list/", in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := Normalize("https://blog.example.com/", "#top")
	require.Error(t, err)
}

func TestDiscoverDedupsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	lookup := &memLookup{urls: map[string]struct{}{"https://blog.example.com/c": {}}}
	d := New(schema.NewExecutor(), lookup)

	first, err := d.Discover(context.Background(), []byte(listing), listSchema, "https://blog.example.com/")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "https://blog.example.com/a", first[0].URL)
	require.Equal(t, "A", first[0].Title)
	require.Equal(t, "https://blog.example.com/b", first[1].URL)

	for _, c := range first {
		lookup.store(c.URL)
	}
	second, err := d.Discover(context.Background(), []byte(listing), listSchema, "https://blog.example.com/")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestDiscoverSurfacesSchemaFailure(t *testing.T) {
	t.Parallel()

	d := New(nil, &memLookup{urls: map[string]struct{}{}})
	_, err := d.Discover(context.Background(), []byte(`<body><p>redesigned</p></body>`), listSchema, "https://blog.example.com/")
	var execErr *schema.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, schema.ReasonNoContainers, execErr.Reason)
}
