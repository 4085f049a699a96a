package schema

import (
	"fmt"
	"strings"
	"time"
)

// strptime directives mapped onto Go reference-time fragments. Numeric day,
// month and hour use the non-padded forms so both "5" and "05" parse.
var strptimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "_2",
	'B': "January",
	'b': "Jan",
	'h': "Jan",
	'A': "Monday",
	'a': "Mon",
	'H': "15",
	'I': "3",
	'M': "04",
	'S': "05",
	'p': "PM",
	'z': "-0700",
	'Z': "MST",
	'f': "000000",
}

// layoutWords are the alphabetic Go layout tokens. Go layouts have no escape
// syntax, so literal text may not contain or complete one of these.
var layoutWords = []string{"January", "Monday", "Jan", "Mon", "MST", "PM", "pm"}

var fallbackLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
}

type layoutPart struct {
	text    string
	literal bool
}

// StrptimeLayout converts a strptime format string into a Go time layout.
// Literal text that Go would read as a layout element (any digit, or words
// such as "Mon" or "Jan") is rejected.
func StrptimeLayout(format string) (string, error) {
	parts, err := splitStrptime(format)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, p := range parts {
		if p.literal {
			var prev, next string
			if i > 0 {
				prev = parts[i-1].text
			}
			if i+1 < len(parts) {
				next = parts[i+1].text
			}
			if literalCollides(prev, p.text, next) {
				return "", fmt.Errorf("literal %q in format %q collides with a layout element", p.text, format)
			}
		}
		b.WriteString(p.text)
	}
	return b.String(), nil
}

// splitStrptime separates directives from literal runs. "%%" joins the
// surrounding literal.
func splitStrptime(format string) ([]layoutPart, error) {
	var (
		parts []layoutPart
		lit   strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, layoutPart{text: lit.String(), literal: true})
			lit.Reset()
		}
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return nil, fmt.Errorf("dangling %% in format %q", format)
		}
		i++
		d := format[i]
		if d == '%' {
			lit.WriteByte('%')
			continue
		}
		// GNU "%-d" style padding flags carry no extra meaning for parsing.
		if d == '-' && i+1 < len(format) {
			i++
			d = format[i]
		}
		frag, ok := strptimeDirectives[d]
		if !ok {
			return nil, fmt.Errorf("unsupported directive %%%c in format %q", d, format)
		}
		flush()
		parts = append(parts, layoutPart{text: frag})
	}
	flush()
	return parts, nil
}

// literalCollides reports whether lit holds a digit or overlaps a layout
// word, including one that spans into the neighbouring fragments.
func literalCollides(prev, lit, next string) bool {
	if strings.ContainsAny(lit, "0123456789") {
		return true
	}
	joined := prev + lit + next
	lo, hi := len(prev), len(prev)+len(lit)
	for _, w := range layoutWords {
		for from := 0; from < len(joined); {
			j := strings.Index(joined[from:], w)
			if j < 0 {
				break
			}
			start := from + j
			if start < hi && start+len(w) > lo {
				return true
			}
			from = start + 1
		}
	}
	return false
}

// ParseDate parses raw using the strptime format when given, then a fixed
// list of common layouts. It returns ok=false when nothing matches.
func ParseDate(raw, format string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if format != "" {
		if layout, err := StrptimeLayout(format); err == nil {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), true
			}
		}
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
