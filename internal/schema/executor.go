package schema

import (
	"bytes"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Record is one candidate post extracted from a listing page.
type Record struct {
	Title   string
	URL     string
	Date    *time.Time
	RawDate string
}

// WellFormed reports whether the record carries both a title and a URL.
func (r Record) WellFormed() bool {
	return r.Title != "" && r.URL != ""
}

// Candidate is the record set produced by one member of the container rule.
type Candidate struct {
	Selector string
	Records  []Record
	// Position of the first matched element in document order.
	Position int
}

// WellFormed returns the records that carry a title and a URL.
func (c Candidate) WellFormed() []Record {
	out := make([]Record, 0, len(c.Records))
	for _, r := range c.Records {
		if r.WellFormed() {
			out = append(out, r)
		}
	}
	return out
}

// Scorer ranks container candidates; higher wins.
type Scorer func(Candidate) int

// FieldCompleteness scores 2 per well-formed record with a date and 1 per
// well-formed record without one.
func FieldCompleteness(c Candidate) int {
	score := 0
	for _, r := range c.Records {
		if !r.WellFormed() {
			continue
		}
		score++
		if r.Date != nil {
			score++
		}
	}
	return score
}

// RecordCount scores candidates by well-formed records alone.
func RecordCount(c Candidate) int {
	return len(c.WellFormed())
}

// ScorerByName resolves a configured scorer name. Empty selects
// FieldCompleteness.
func ScorerByName(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "field_completeness":
		return FieldCompleteness, nil
	case "record_count":
		return RecordCount, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}

// Result is the outcome of a successful execution.
type Result struct {
	Records    []Record
	Selected   Candidate
	Candidates int
	Dropped    int
}

// All yields the well-formed records in document order. Records are already
// extracted by the time Execute returns, since picking a container means
// scoring every candidate; All only lets callers stop early.
func (r Result) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range r.Records {
			if !yield(rec) {
				return
			}
		}
	}
}

// Executor interprets schemas against HTML using CSS selector and attribute
// primitives only.
type Executor struct {
	scorer Scorer
}

// Option customizes an Executor.
type Option func(*Executor)

// WithScorer replaces the candidate scoring function.
func WithScorer(s Scorer) Option {
	return func(e *Executor) {
		if s != nil {
			e.scorer = s
		}
	}
}

// NewExecutor builds an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{scorer: FieldCompleteness}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies s to body. pageURL is used to resolve relative post links.
// When containers match but no record is usable, the returned Result still
// carries the selected candidate alongside the error.
func (e *Executor) Execute(body []byte, s Schema, pageURL string) (Result, error) {
	if s.IsZero() {
		return Result{}, &ExecutionError{Reason: ReasonInvalidSelector, Cause: fmt.Errorf("empty container selector")}
	}
	if _, err := cascadia.ParseGroup(s.PostItemSelector); err != nil {
		return Result{}, &ExecutionError{Reason: ReasonInvalidSelector, Selector: s.PostItemSelector, Cause: err}
	}
	if err := checkFieldSelectors(s.Fields); err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, &ExecutionError{Reason: ReasonInvalidHTML, Cause: err}
	}
	root := doc.Get(0)
	order := documentOrder(root)

	var candidates []Candidate
	for _, member := range splitGroup(s.PostItemSelector) {
		m, err := cascadia.Compile(member)
		if err != nil {
			return Result{}, &ExecutionError{Reason: ReasonInvalidSelector, Selector: member, Cause: err}
		}
		nodes := m.MatchAll(root)
		if len(nodes) == 0 {
			continue
		}
		c := Candidate{Selector: member, Position: order[nodes[0]]}
		for _, n := range nodes {
			c.Records = append(c.Records, extractRecord(doc.FindNodes(n), s.Fields, pageURL))
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Result{}, &ExecutionError{Reason: ReasonNoContainers, Selector: s.PostItemSelector}
	}

	best := e.pick(candidates)
	if err := diagnose(best); err != nil {
		// The partial result lets callers show the generator what matched.
		return Result{Selected: best, Candidates: len(candidates), Dropped: len(best.Records)}, err
	}
	records := best.WellFormed()
	return Result{
		Records:    records,
		Selected:   best,
		Candidates: len(candidates),
		Dropped:    len(best.Records) - len(records),
	}, nil
}

func (e *Executor) pick(candidates []Candidate) Candidate {
	best := candidates[0]
	bestScore := e.scorer(best)
	for _, c := range candidates[1:] {
		score := e.scorer(c)
		if score > bestScore || (score == bestScore && c.Position < best.Position) {
			best, bestScore = c, score
		}
	}
	return best
}

func diagnose(c Candidate) error {
	var titles, urls, complete int
	for _, r := range c.Records {
		if r.Title != "" {
			titles++
		}
		if r.URL != "" {
			urls++
		}
		if r.WellFormed() {
			complete++
		}
	}
	base := ExecutionError{Selector: c.Selector, Matched: len(c.Records)}
	switch {
	case titles == 0:
		base.Reason = ReasonMissingTitle
	case urls == 0:
		base.Reason = ReasonMissingURL
	case complete == 0:
		base.Reason = ReasonNoWellFormed
	default:
		return nil
	}
	return &base
}

func extractRecord(container *goquery.Selection, f Fields, pageURL string) Record {
	var r Record
	r.Title = fieldValue(container, f.Title.Selector, f.Title.Attribute)

	attr := f.PostURL.Attribute
	if attr == "" {
		attr = "href"
	}
	if href := fieldValue(container, f.PostURL.Selector, attr); href != "" {
		if abs, ok := ResolveURL(pageURL, href); ok {
			r.URL = abs
		}
	}

	if f.Date.Selector != "" || f.Date.Attribute != "" {
		r.RawDate = fieldValue(container, f.Date.Selector, f.Date.Attribute)
		if t, ok := ParseDate(r.RawDate, f.Date.Format); ok {
			r.Date = &t
		}
	}
	return r
}

// An empty selector addresses the container itself.
func fieldValue(container *goquery.Selection, selector, attribute string) string {
	target := container
	if selector != "" {
		target = container.Find(selector).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if attribute != "" {
		v, _ := target.Attr(attribute)
		return strings.TrimSpace(v)
	}
	return collapse(target.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// goquery silently matches nothing on a bad selector, so field selectors are
// compiled up front to surface the mistake to the generator.
func checkFieldSelectors(f Fields) error {
	for _, sel := range []string{f.Title.Selector, f.PostURL.Selector, f.Date.Selector} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return &ExecutionError{Reason: ReasonInvalidSelector, Selector: sel, Cause: err}
		}
	}
	return nil
}

// splitGroup breaks a selector list at top-level commas, leaving commas
// inside brackets, parentheses and quoted strings alone.
func splitGroup(selector string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(selector); i++ {
		c := selector[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(selector[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(selector[start:]))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func documentOrder(root *html.Node) map[*html.Node]int {
	order := make(map[*html.Node]int)
	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		order[n] = i
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return order
}
