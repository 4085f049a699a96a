package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSchema(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"post_item_selector": " article.post ",
		"fields": {
			"title": {"selector": "h2 a"},
			"post_url": {"selector": "h2 a", "attribute": "href", "base_url_handling": "relative_to_page"},
			"date": {"selector": "time", "attribute": "datetime", "format": "null"}
		}
	}`)
	s, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "article.post", s.PostItemSelector)
	require.Equal(t, "href", s.Fields.PostURL.Attribute)
	require.Empty(t, s.Fields.Date.Format)

	again, err := Parse([]byte(s.JSON()))
	require.NoError(t, err)
	require.Equal(t, s, again)
}

func TestParseSchemaRejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`not json`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"post_item_selector": ""}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"post_item_selector": "li", "fields": {"post_url": {"base_url_handling": "sometimes"}}}`))
	require.Error(t, err)
}

func TestSplitGroup(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"article", "div.post"}, splitGroup("article, div.post"))
	require.Equal(t, []string{`a[title="x,y"]`, "li:not(.a, .b)"}, splitGroup(`a[title="x,y"], li:not(.a, .b)`))
	require.Equal(t, []string{"li"}, splitGroup("li,"))
}
