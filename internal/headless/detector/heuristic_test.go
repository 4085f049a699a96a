package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	links := strings.Repeat(`<a href="/p">post</a>`, 5)
	cases := []struct {
		name string
		h    *Heuristic
		resp blog.FetchResponse
		want bool
	}{
		{"empty body", NewHeuristic(100, 0), blog.FetchResponse{StatusCode: 200}, true},
		{"spa shell", NewHeuristic(100, 0), blog.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}, true},
		{"spa marker with links", NewHeuristic(10, 0), blog.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next">` + links + `</div>`)}, false},
		{"script heavy", NewHeuristic(1000, 0), blog.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, true},
		{"too few anchors", NewHeuristic(10, 3), blog.FetchResponse{StatusCode: 200, Body: []byte(`<html><body><p>static text only</p></body></html>`)}, true},
		{"plain listing", NewHeuristic(10, 3), blog.FetchResponse{StatusCode: 200, Body: []byte(`<html><body>` + links + `</body></html>`)}, false},
		{"non 200", NewHeuristic(100, 0), blog.FetchResponse{StatusCode: 404, Body: []byte("not found")}, false},
		{"already headless", NewHeuristic(100, 0), blog.FetchResponse{StatusCode: 200, UsedHeadless: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.h.ShouldPromote(tc.resp))
		})
	}
}
