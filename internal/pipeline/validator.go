package pipeline

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/placeforge/ingest-cli/internal/model"
)

const (
	minNameLen = 2
	maxNameLen = 200
)

var phoneShape = regexp.MustCompile(`^\+?[0-9][0-9 ()\-\.]{5,18}[0-9]$`)

// RuleValidator applies field-level shape and range checks. It mutates
// nothing; trimming happens on the caller's copy.
type RuleValidator struct{}

// NewRuleValidator creates the default validator.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

// Validate checks name bounds, phone/email/URL shape, and rating range.
// Violations land in Errors; soft issues like a missing location in Warnings.
func (v *RuleValidator) Validate(record *model.CandidateRecord) model.Validation {
	var out model.Validation

	record.Name = strings.TrimSpace(record.Name)
	nameLen := utf8.RuneCountInString(record.Name)
	if nameLen < minNameLen {
		out.Errors = append(out.Errors, fmt.Sprintf("name too short (min %d characters)", minNameLen))
	} else if nameLen > maxNameLen {
		out.Errors = append(out.Errors, fmt.Sprintf("name too long (max %d characters)", maxNameLen))
	}

	if record.Phone != "" && !phoneShape.MatchString(strings.TrimSpace(record.Phone)) {
		out.Errors = append(out.Errors, "phone number has invalid format")
	}

	if record.Email != "" {
		if _, err := mail.ParseAddress(record.Email); err != nil {
			out.Errors = append(out.Errors, "email address has invalid format")
		}
	}

	if record.Website != "" && !validURL(record.Website) {
		out.Errors = append(out.Errors, "website URL has invalid format")
	}

	if record.Rating < 0 || record.Rating > 5 {
		out.Errors = append(out.Errors, "rating out of range (0-5)")
	}

	if record.Location == nil || record.Location.Zero() {
		out.Warnings = append(out.Warnings, "record has no location")
	}
	if record.Phone == "" && record.Email == "" && record.Website == "" {
		out.Warnings = append(out.Warnings, "record has no contact details")
	}

	out.IsValid = len(out.Errors) == 0
	return out
}

func validURL(raw string) bool {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && strings.Contains(u.Host, ".")
}
