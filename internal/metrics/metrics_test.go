package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, fetchTotal)
	require.NotNil(t, refinementTransitionsTotal)
	require.NotNil(t, errorsTotal)
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(refinementTransitionsTotal.WithLabelValues("accepted"))
	ObserveTransition("accepted")
	require.Equal(t, before+1, testutil.ToFloat64(refinementTransitionsTotal.WithLabelValues("accepted")))

	before = testutil.ToFloat64(errorsTotal.WithLabelValues("schema"))
	ObserveError("schema")
	ObserveError("schema")
	require.Equal(t, before+2, testutil.ToFloat64(errorsTotal.WithLabelValues("schema")))

	before = testutil.ToFloat64(fetchBytesTotal.WithLabelValues("blog.example.com"))
	ObserveFetch("https://Blog.Example.com/x", "200", "http", 512, time.Millisecond)
	require.Equal(t, before+512, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("blog.example.com")))

	IncActiveWorkers()
	active := testutil.ToFloat64(activeWorkers)
	DecActiveWorkers()
	require.Equal(t, active-1, testutil.ToFloat64(activeWorkers))

	ObservePost("stored")
	ObserveCheck("accepted")
	ObserveLLMRequest("schema", "ok")
	ObserveTask("check", "succeeded")
	ObserveRateLimitDelay("blog.example.com", 10*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
