package similarity

import (
	"fmt"
	"strings"

	"github.com/placeforge/ingest-cli/internal/model"
)

// Field weights for the aggregate duplicate score. Phone is the strongest
// signal and only ever matches exactly on the normalized form.
const (
	weightPhone   = 0.4
	weightName    = 0.3
	weightAddress = 0.3
)

// DefaultThreshold is the weighted score at or above which two records are
// treated as the same real-world place.
const DefaultThreshold = 0.8

// DefaultCountryPrefix rewrites leading national zeros in phone numbers.
const DefaultCountryPrefix = "+27"

// Engine fuzzy-compares candidate records on normalized name, address, and
// phone fields. It is stateless and safe for concurrent use.
type Engine struct {
	threshold     float64
	countryPrefix string
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the duplicate threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithCountryPrefix overrides the phone country prefix.
func WithCountryPrefix(p string) Option {
	return func(e *Engine) { e.countryPrefix = p }
}

// NewEngine creates an Engine with the default threshold and country prefix.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		threshold:     DefaultThreshold,
		countryPrefix: DefaultCountryPrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured duplicate threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Score computes the weighted similarity of two records in [0,1]. Weights are
// renormalized over the fields present on both records, so a missing phone on
// either side redistributes its weight to name and address.
func (e *Engine) Score(a, b model.CandidateRecord) float64 {
	var score, totalWeight float64

	if a.Phone != "" && b.Phone != "" {
		totalWeight += weightPhone
		if NormalizePhone(a.Phone, e.countryPrefix) == NormalizePhone(b.Phone, e.countryPrefix) {
			score += weightPhone
		}
	}

	if a.Name != "" && b.Name != "" {
		totalWeight += weightName
		score += weightName * JaroWinkler(NormalizeName(a.Name), NormalizeName(b.Name))
	}

	if a.Address != "" && b.Address != "" {
		totalWeight += weightAddress
		score += weightAddress * JaroWinkler(NormalizeAddress(a.Address), NormalizeAddress(b.Address))
	}

	if totalWeight == 0 {
		return 0
	}
	return score / totalWeight
}

// IsDuplicate reports whether two records refer to the same place: either the
// weighted score crosses the threshold, or the normalized phone numbers match
// exactly. Shared phones override name/address disagreement.
func (e *Engine) IsDuplicate(a, b model.CandidateRecord) bool {
	if e.samePhone(a, b) {
		return true
	}
	return e.Score(a, b) >= e.threshold
}

func (e *Engine) samePhone(a, b model.CandidateRecord) bool {
	if a.Phone == "" || b.Phone == "" {
		return false
	}
	return NormalizePhone(a.Phone, e.countryPrefix) == NormalizePhone(b.Phone, e.countryPrefix)
}

// Explain reports concrete match reasons between two records, independent of
// the aggregate score, for audit display.
func (e *Engine) Explain(a, b model.CandidateRecord) []string {
	var reasons []string

	if a.Phone != "" && b.Phone != "" &&
		NormalizePhone(a.Phone, e.countryPrefix) == NormalizePhone(b.Phone, e.countryPrefix) {
		reasons = append(reasons, "same phone number")
	}

	if a.Email != "" && b.Email != "" && normalizeEmail(a.Email) == normalizeEmail(b.Email) {
		reasons = append(reasons, "same email address")
	}

	if a.Name != "" && b.Name != "" {
		if sim := JaroWinkler(NormalizeName(a.Name), NormalizeName(b.Name)); sim > 0.8 {
			reasons = append(reasons, fmt.Sprintf("name similarity %.2f", sim))
		}
	}

	if a.Address != "" && b.Address != "" {
		if sim := JaroWinkler(NormalizeAddress(a.Address), NormalizeAddress(b.Address)); sim > 0.8 {
			reasons = append(reasons, fmt.Sprintf("address similarity %.2f", sim))
		}
	}

	if a.Website != "" && b.Website != "" && NormalizeHost(a.Website) == NormalizeHost(b.Website) {
		reasons = append(reasons, "same website host")
	}

	return reasons
}

// Match scores a candidate against an existing record and returns a
// DuplicateMatch when the threshold is crossed.
func (e *Engine) Match(candidate model.CandidateRecord, existing model.ExistingRecord) *model.DuplicateMatch {
	other := existing.Candidate()
	score := e.Score(candidate, other)
	if score < e.threshold && !e.samePhone(candidate, other) {
		return nil
	}
	return &model.DuplicateMatch{
		Candidate:       candidate,
		MatchedExisting: existing,
		Similarity:      score,
		MatchReasons:    e.Explain(candidate, other),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
