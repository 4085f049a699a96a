package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/retry"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

const summaryJSONSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "technical_density": {"type": "integer", "minimum": 1, "maximum": 3}
  },
  "required": ["summary", "technical_density"]
}`

const topicJSONSchema = `{
  "type": "object",
  "properties": {
    "matched_topics": {"type": "array", "items": {"type": "string"}},
    "new_topic_suggestions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["matched_topics"]
}`

const maxNewTopics = 3

var (
	summarySchema = gojsonschema.NewStringLoader(summaryJSONSchema)
	topicSchema   = gojsonschema.NewStringLoader(topicJSONSchema)
)

// OracleConfig bounds oracle calls.
type OracleConfig struct {
	MaxRetries      int
	RetryDelay      time.Duration
	Timeout         time.Duration
	MaxPromptBytes  int
	MaxContentBytes int
}

// Oracle implements blog.SchemaGenerator and blog.MetadataExtractor on top of
// a Client.
type Oracle struct {
	client Client
	cfg    OracleConfig
	policy retry.Policy
	logger *zap.Logger
}

// NewOracle builds an Oracle.
func NewOracle(client Client, cfg OracleConfig, logger *zap.Logger) *Oracle {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxPromptBytes <= 0 {
		cfg.MaxPromptBytes = 100_000
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 60_000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		client: client,
		cfg:    cfg,
		policy: retry.NewConstantPolicy(cfg.MaxRetries, cfg.RetryDelay),
		logger: logger.Named("oracle"),
	}
}

// GenerateSchema proposes a schema for the listing in req. Any failure is a
// *blog.GenerationError.
func (o *Oracle) GenerateSchema(ctx context.Context, req blog.GenerateRequest) (schema.Schema, error) {
	body, err := SampleHTML(req.HTML, o.cfg.MaxPromptBytes)
	if err != nil {
		return schema.Schema{}, &blog.GenerationError{Message: "sample listing html", Cause: err}
	}
	prompt := buildGeneratePrompt(req.BlogURL, body)
	if req.Prior != nil {
		prompt = buildCorrectionPrompt(req.BlogURL, body, *req.Prior, req.PriorRecords, req.Failure)
	}

	var proposed schema.Schema
	err = o.generateJSON(ctx, "schema", prompt, func(raw string) error {
		s, err := schema.Parse([]byte(raw))
		if err != nil {
			return err
		}
		proposed = s
		return nil
	})
	if err != nil {
		return schema.Schema{}, &blog.GenerationError{Message: "no usable schema from model", Cause: err}
	}
	return proposed, nil
}

type summaryAnswer struct {
	Summary          string `json:"summary"`
	TechnicalDensity int    `json:"technical_density"`
}

type topicAnswer struct {
	MatchedTopics       []string `json:"matched_topics"`
	NewTopicSuggestions []string `json:"new_topic_suggestions"`
}

// ExtractMetadata asks for a summary with density and for topics. Matched
// topics are kept only when they exist in existingTopics; at most three new
// suggestions are added.
func (o *Oracle) ExtractMetadata(ctx context.Context, text string, existingTopics []string) (blog.Metadata, error) {
	content := truncateUTF8(text, o.cfg.MaxContentBytes)
	if strings.TrimSpace(content) == "" {
		return blog.Metadata{}, errors.New("post has no text content")
	}

	var sum summaryAnswer
	err := o.generateJSON(ctx, "summary", buildSummaryPrompt(content), func(raw string) error {
		return decodeValidated(raw, summarySchema, &sum)
	})
	if err != nil {
		return blog.Metadata{}, fmt.Errorf("summary: %w", err)
	}

	var topics topicAnswer
	err = o.generateJSON(ctx, "topics", buildTopicPrompt(content, existingTopics), func(raw string) error {
		return decodeValidated(raw, topicSchema, &topics)
	})
	if err != nil {
		return blog.Metadata{}, fmt.Errorf("topics: %w", err)
	}

	return blog.Metadata{
		Summary: strings.TrimSpace(sum.Summary),
		Density: densityFromScale(sum.TechnicalDensity),
		Topics:  mergeTopics(existingTopics, topics),
	}, nil
}

func (o *Oracle) generateJSON(ctx context.Context, op, prompt string, decode func(string) error) error {
	attempts, err := retry.Do(ctx, o.policy, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if o.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
			defer cancel()
		}
		raw, err := o.client.GenerateJSON(callCtx, prompt)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("model call timed out after %s", o.cfg.Timeout)
			}
			o.logger.Debug("model call failed", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if err := decode(CleanJSONBlock(raw)); err != nil {
			o.logger.Debug("model answer rejected", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		metrics.ObserveLLMRequest(op, "error")
		return fmt.Errorf("%s after %d attempt(s): %w", op, attempts, err)
	}
	metrics.ObserveLLMRequest(op, "ok")
	return nil
}

func decodeValidated(raw string, loader gojsonschema.JSONLoader, out any) error {
	result, err := gojsonschema.Validate(loader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("answer does not match schema: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func densityFromScale(level int) blog.Density {
	switch level {
	case 1:
		return blog.DensityLow
	case 2:
		return blog.DensityMedium
	case 3:
		return blog.DensityHigh
	default:
		return blog.DensityUnset
	}
}

func mergeTopics(existing []string, answer topicAnswer) []string {
	known := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		known[blog.NormalizeTopic(t)] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) bool {
		n := blog.NormalizeTopic(name)
		if n == "" {
			return false
		}
		if _, dup := seen[n]; dup {
			return false
		}
		seen[n] = struct{}{}
		out = append(out, n)
		return true
	}
	for _, t := range answer.MatchedTopics {
		if _, ok := known[blog.NormalizeTopic(t)]; ok {
			add(t)
		}
	}
	added := 0
	for _, t := range answer.NewTopicSuggestions {
		if added == maxNewTopics {
			break
		}
		if add(t) {
			added++
		}
	}
	return out
}
