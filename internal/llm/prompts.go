package llm

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/blogwatch/internal/schema"
)

const schemaShape = `{
  "post_item_selector": "CSS_SELECTOR_FOR_EACH_POST_ITEM",
  "fields": {
    "title": {
      "selector": "CSS_SELECTOR_FOR_TITLE_WITHIN_POST_ITEM"
    },
    "post_url": {
      "selector": "CSS_SELECTOR_FOR_LINK_WITHIN_POST_ITEM",
      "attribute": "href",
      "base_url_handling": "relative_to_page or absolute"
    },
    "date": {
      "selector": "CSS_SELECTOR_FOR_DATE_WITHIN_POST_ITEM",
      "attribute": "OPTIONAL_ATTRIBUTE_NAME or null to use the element text",
      "format": "STRPTIME_FORMAT_STRING"
    }
  }
}`

const schemaGuide = `Rules for the configuration:
1. post_item_selector is one valid CSS selector matching the element that wraps each individual post in the list, for example "li.blog-entry".
2. Every selector under fields is relative to the post item element. An empty selector means the post item element itself.
3. title.selector points at the element whose text is the post title.
4. post_url.selector points at the anchor linking to the full post. Use "relative_to_page" when hrefs are relative paths and "absolute" when they are full URLs.
5. date.attribute names the attribute holding the date (for example "datetime" on a <time> element), or null when the date is the element text.
6. date.format is a strptime format string such as "%B %d, %Y" for "January 15, 2023", "%d %b %Y %H:%M" for "15 Jan 2023 14:30" or "%Y/%m/%d" for "2023/12/25".
7. Prefer selectors that survive minor redesigns but stay specific. Only CSS selectors and attribute names are allowed.
8. If dates are genuinely absent, still give your best guess; missing dates are tolerated.`

const generatePrompt = `You are an expert web scraping assistant. Analyze the HTML of a blog's main listing page and produce a JSON configuration that extracts every blog post listed on it.

The configuration must have exactly this shape:

%s

%s

Blog page URL: %s
HTML <body> content:
%s

Respond with ONLY the JSON configuration object.`

const correctionPrompt = `You are an expert web scraping assistant. A previous JSON configuration for extracting blog posts from this listing page did not work. Analyze the HTML again and produce an improved configuration.

The configuration must have exactly this shape:

%s

%s

Previous configuration:
%s

Results of the previous configuration:
%s

Why it was rejected: %s

Blog page URL: %s
HTML <body> content:
%s

Focus on identifying the correct post_item_selector first, then locate title, post_url and date inside each item.
Respond with ONLY the JSON configuration object.`

const summaryPrompt = `You are an expert content analyst. Analyze this blog post and provide:

1. A concise 2-3 sentence summary that captures the main point and key takeaway.
2. A technical density rating from 1 to 3.

Target an intelligent, well-read reader. Write concisely, fluidly and clearly. Prefer specific details from the article over broad generalizations.

Technical density scale:
1 - Reflective or anecdotal: personal experience, career reflections, high-level thinking. Accessible to anyone.
2 - Practitioner oriented: how-to guides, lessons learned, best practices. Assumes domain familiarity.
3 - Deeply technical or mathematical: research, derivations, system internals. Requires deep expertise.

Answer with a JSON object {"summary": string, "technical_density": integer}.

Blog post:
%s`

const topicPrompt = `You are an expert content categorizer. Identify the topics of this blog post.

Existing topics, from other articles:
%s

matched_topics: topics from the existing list that substantially match the post, using the EXACT existing names. Match on main concepts, not keyword presence.

new_topic_suggestions: optionally 1-3 new kebab-case topics for genuinely new concepts not covered by the existing list. Skip variations of existing topics. Avoid very broad topics such as "ai" or "programming" and very narrow ones. Be conservative; the default is no suggestions.

Answer with a JSON object {"matched_topics": [string], "new_topic_suggestions": [string]}.

Blog content:
%s`

func buildGeneratePrompt(blogURL, body string) string {
	return fmt.Sprintf(generatePrompt, schemaShape, schemaGuide, blogURL, fence(body))
}

func buildCorrectionPrompt(blogURL, body string, prior schema.Schema, records []schema.Record, failure string) string {
	if failure == "" {
		failure = "unknown"
	}
	return fmt.Sprintf(correctionPrompt,
		schemaShape, schemaGuide, prior.JSON(), renderRecords(records), failure, blogURL, fence(body))
}

func buildSummaryPrompt(content string) string {
	return fmt.Sprintf(summaryPrompt, content)
}

func buildTopicPrompt(content string, existing []string) string {
	list := strings.Join(existing, ", ")
	if list == "" {
		list = "(none yet)"
	}
	return fmt.Sprintf(topicPrompt, list, content)
}

func fence(body string) string {
	return "```html\n" + body + "\n```"
}

func renderRecords(records []schema.Record) string {
	if len(records) == 0 {
		return "No posts were extracted."
	}
	var b strings.Builder
	for i, r := range records {
		date := r.RawDate
		if r.Date != nil {
			date = r.Date.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "Post %d:\nTitle: %s\nURL: %s\nDate: %s\n\n", i+1, r.Title, r.URL, date)
	}
	return strings.TrimSpace(b.String())
}
