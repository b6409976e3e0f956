package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placeforge/ingest-cli/internal/model"
)

func TestValidate_ValidRecord(t *testing.T) {
	record := validRecord()
	out := NewRuleValidator().Validate(&record)

	assert.True(t, out.IsValid)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Warnings)
}

func TestValidate_NameBounds(t *testing.T) {
	v := NewRuleValidator()

	short := model.CandidateRecord{Name: "X"}
	out := v.Validate(&short)
	assert.False(t, out.IsValid)
	assert.Contains(t, strings.Join(out.Errors, " "), "name too short")

	long := model.CandidateRecord{Name: strings.Repeat("a", 201)}
	out = v.Validate(&long)
	assert.Contains(t, strings.Join(out.Errors, " "), "name too long")

	padded := model.CandidateRecord{Name: "  Truth Coffee  "}
	out = v.Validate(&padded)
	assert.True(t, out.IsValid)
	assert.Equal(t, "Truth Coffee", padded.Name)
}

func TestValidate_FieldShapes(t *testing.T) {
	tests := []struct {
		name    string
		record  model.CandidateRecord
		wantErr string
	}{
		{"bad phone", model.CandidateRecord{Name: "Kota Joe", Phone: "call me"}, "phone number"},
		{"bad email", model.CandidateRecord{Name: "Kota Joe", Email: "not-an-email"}, "email address"},
		{"bad website", model.CandidateRecord{Name: "Kota Joe", Website: "ftp://weird"}, "website URL"},
		{"rating high", model.CandidateRecord{Name: "Kota Joe", Rating: 5.5}, "rating out of range"},
		{"rating negative", model.CandidateRecord{Name: "Kota Joe", Rating: -1}, "rating out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewRuleValidator().Validate(&tt.record)
			assert.False(t, out.IsValid)
			assert.Contains(t, strings.Join(out.Errors, " "), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsCommonShapes(t *testing.T) {
	record := model.CandidateRecord{
		Name:    "Truth Coffee",
		Phone:   "+27 21 200 0440",
		Email:   "hello@truth.coffee",
		Website: "truth.coffee",
	}
	out := NewRuleValidator().Validate(&record)
	require.True(t, out.IsValid, "errors: %v", out.Errors)
}

func TestValidate_Warnings(t *testing.T) {
	record := model.CandidateRecord{Name: "Kota Joe"}
	out := NewRuleValidator().Validate(&record)

	require.True(t, out.IsValid)
	joined := strings.Join(out.Warnings, " ")
	assert.Contains(t, joined, "no location")
	assert.Contains(t, joined, "no contact details")
}
