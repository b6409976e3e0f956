// Package extract parses unstructured text into candidate place records
// using the Anthropic API.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/model"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 2048
)

const systemPrompt = `Extract every business or place mentioned in the user's text.
Respond with only a JSON array. Each element has the fields:
name, address, phone, email, website, category, rating (number),
location ({"lat": number, "lng": number}), confidence (0-100).
Omit fields you cannot determine. Respond with [] if no places are present.`

// messageAPI is the slice of the SDK the extractor needs; it keeps tests
// offline.
type messageAPI interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config configures the extractor.
type Config struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Extractor implements the pipeline's Parser contract on top of the
// Anthropic messages API.
type Extractor struct {
	messages  messageAPI
	model     string
	maxTokens int64
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	e := &Extractor{messages: &client.Messages}
	e.applyConfig(cfg)
	return e
}

func (e *Extractor) applyConfig(cfg Config) {
	e.model = cfg.Model
	if e.model == "" {
		e.model = defaultModel
	}
	e.maxTokens = cfg.MaxTokens
	if e.maxTokens <= 0 {
		e.maxTokens = defaultMaxTokens
	}
}

// ParseText extracts zero or more candidate records from raw text.
func (e *Extractor) ParseText(ctx context.Context, text string) ([]model.CandidateRecord, error) {
	msg, err := e.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}

	raw := firstText(msg)
	if raw == "" {
		return nil, eris.New("extract: empty model response")
	}

	var records []model.CandidateRecord
	if err := json.Unmarshal([]byte(stripFences(raw)), &records); err != nil {
		return nil, eris.Wrap(err, "extract: decode model response")
	}

	kept := records[:0]
	for _, rec := range records {
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		kept = append(kept, rec)
	}

	zap.L().Debug("records extracted",
		zap.Int("count", len(kept)),
		zap.Int("input_bytes", len(text)),
	)
	return kept, nil
}

func firstText(msg *sdk.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
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
