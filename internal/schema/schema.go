// Package schema defines the declarative extraction rule set for a blog
// listing page and the sandboxed executor that interprets it.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// URL handling modes for the post_url field.
const (
	RelativeToPage = "relative_to_page"
	Absolute       = "absolute"
)

// Schema is a data value: a container rule plus per-field rules. It is never
// executed as code; Executor interprets it through selector primitives only.
type Schema struct {
	PostItemSelector string `json:"post_item_selector" validate:"required"`
	Fields           Fields `json:"fields"`
}

// Fields holds the per-field rules, all relative to a matched container.
type Fields struct {
	Title   FieldRule `json:"title"`
	PostURL FieldRule `json:"post_url"`
	Date    FieldRule `json:"date"`
}

// FieldRule selects one value inside a container.
type FieldRule struct {
	Selector        string `json:"selector"`
	Attribute       string `json:"attribute,omitempty"`
	BaseURLHandling string `json:"base_url_handling,omitempty" validate:"omitempty,oneof=relative_to_page absolute"`
	Format          string `json:"format,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes a schema document and validates its shape.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	s = s.normalized()
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks the structural requirements of a schema. It does not
// guarantee the schema matches anything; only Executor can tell that.
func (s Schema) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}

// IsZero reports whether the schema carries no container rule.
func (s Schema) IsZero() bool {
	return strings.TrimSpace(s.PostItemSelector) == ""
}

// JSON renders the schema as indented JSON for prompts and storage.
func (s Schema) JSON() string {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// LLMs frequently emit "null" or padded strings for optional rules.
func (s Schema) normalized() Schema {
	s.PostItemSelector = strings.TrimSpace(s.PostItemSelector)
	s.Fields.Title = s.Fields.Title.normalized()
	s.Fields.PostURL = s.Fields.PostURL.normalized()
	s.Fields.Date = s.Fields.Date.normalized()
	return s
}

func (r FieldRule) normalized() FieldRule {
	r.Selector = strings.TrimSpace(r.Selector)
	r.Attribute = nullable(r.Attribute)
	r.BaseURLHandling = nullable(r.BaseURLHandling)
	r.Format = nullable(r.Format)
	return r
}

func nullable(v string) string {
	v = strings.TrimSpace(v)
	if v == "null" || v == "None" {
		return ""
	}
	return v
}
