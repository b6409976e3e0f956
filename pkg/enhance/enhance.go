// Package enhance attaches SEO/content metadata to place records using the
// Anthropic API.
package enhance

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/model"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024
)

const systemPrompt = `Given a business/place record as JSON, write listing metadata.
Respond with only a JSON object with the fields:
summary (one short paragraph), keywords (array of strings), slug (url-safe).`

type messageAPI interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config configures the enhancer.
type Config struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Enhancer implements the pipeline's Enhancer contract on top of the
// Anthropic messages API.
type Enhancer struct {
	messages  messageAPI
	model     string
	maxTokens int64
}

// New creates an Enhancer.
func New(cfg Config) *Enhancer {
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	e := &Enhancer{messages: &client.Messages}
	e.applyConfig(cfg)
	return e
}

func (e *Enhancer) applyConfig(cfg Config) {
	e.model = cfg.Model
	if e.model == "" {
		e.model = defaultModel
	}
	e.maxTokens = cfg.MaxTokens
	if e.maxTokens <= 0 {
		e.maxTokens = defaultMaxTokens
	}
}

// Enhance produces enrichment metadata for one record.
func (e *Enhancer) Enhance(ctx context.Context, record *model.CandidateRecord) (*model.Enrichment, error) {
	input, err := json.Marshal(record)
	if err != nil {
		return nil, eris.Wrap(err, "enhance: encode record")
	}

	msg, err := e.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(string(input))),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enhance: create message")
	}

	raw := firstText(msg)
	if raw == "" {
		return nil, eris.New("enhance: empty model response")
	}

	var enrichment model.Enrichment
	if err := json.Unmarshal([]byte(stripFences(raw)), &enrichment); err != nil {
		return nil, eris.Wrap(err, "enhance: decode model response")
	}
	if enrichment.Slug == "" {
		enrichment.Slug = Slugify(record.Name)
	}
	return &enrichment, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a place name into a url-safe slug.
func Slugify(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

func firstText(msg *sdk.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
