package extract

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	text string
	err  error
}

func (f *fakeMessages) New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: f.text}},
	}, nil
}

func newTestExtractor(text string, err error) *Extractor {
	e := &Extractor{messages: &fakeMessages{text: text, err: err}}
	e.applyConfig(Config{})
	return e
}

func TestParseText(t *testing.T) {
	e := newTestExtractor(`[
		{"name": "Truth Coffee", "phone": "0212000440", "confidence": 85},
		{"name": "", "address": "nameless"},
		{"name": "Ocean Basket", "category": "restaurant"}
	]`, nil)

	records, err := e.ParseText(context.Background(), "some scraped page text")
	require.NoError(t, err)
	require.Len(t, records, 2, "nameless records are dropped")
	assert.Equal(t, "Truth Coffee", records[0].Name)
	assert.Equal(t, 85.0, records[0].Confidence)
}

func TestParseText_CodeFencedResponse(t *testing.T) {
	e := newTestExtractor("```json\n[{\"name\": \"Kota Joe\"}]\n```", nil)

	records, err := e.ParseText(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Kota Joe", records[0].Name)
}

func TestParseText_EmptyArray(t *testing.T) {
	e := newTestExtractor("[]", nil)

	records, err := e.ParseText(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseText_APIError(t *testing.T) {
	e := newTestExtractor("", eris.New("overloaded"))

	_, err := e.ParseText(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create message")
}

func TestParseText_MalformedJSON(t *testing.T) {
	e := newTestExtractor("sure! here are the places:", nil)

	_, err := e.ParseText(context.Background(), "text")
	require.Error(t, err)
}
