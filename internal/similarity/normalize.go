package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// genericNameTokens are legal/generic suffix words dropped from business names
// before comparison. "Joe's Restaurant (Pty) Ltd" and "Joes" should compare on
// the distinctive part only.
var genericNameTokens = map[string]bool{
	"restaurant": true,
	"cafe":       true,
	"hotel":      true,
	"bar":        true,
	"shop":       true,
	"store":      true,
	"ltd":        true,
	"pty":        true,
	"cc":         true,
	"inc":        true,
	"the":        true,
	"and":        true,
}

// streetSynonyms collapses street-type words to a single token so
// "Main Street" and "Main Rd" normalize closer together.
var streetSynonyms = map[string]string{
	"street":    "st",
	"str":       "st",
	"road":      "st",
	"rd":        "st",
	"avenue":    "st",
	"ave":       "st",
	"drive":     "st",
	"dr":        "st",
	"lane":      "st",
	"ln":        "st",
	"boulevard": "st",
	"blvd":      "st",
	"crescent":  "st",
	"cres":      "st",
	"close":     "st",
	"way":       "st",
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizePhone strips formatting characters and rewrites a leading national
// "0" to the given country prefix (e.g. "021 794 2390" -> "+27217942390").
func NormalizePhone(phone, countryPrefix string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "0") && countryPrefix != "" {
		digits = countryPrefix + digits[1:]
	}
	return digits
}

// NormalizeName lowercases, strips punctuation and diacritics, and removes
// common legal/generic suffix tokens from a business name.
func NormalizeName(name string) string {
	tokens := tokenize(name)
	kept := tokens[:0]
	for _, tok := range tokens {
		if !genericNameTokens[tok] {
			kept = append(kept, tok)
		}
	}
	// A name made entirely of generic tokens keeps them rather than
	// normalizing to the empty string.
	if len(kept) == 0 {
		kept = tokenize(name)
	}
	return strings.Join(kept, " ")
}

// NormalizeAddress lowercases, strips punctuation, and collapses street-type
// synonyms to a single token.
func NormalizeAddress(address string) string {
	tokens := tokenize(address)
	for i, tok := range tokens {
		if syn, ok := streetSynonyms[tok]; ok {
			tokens[i] = syn
		}
	}
	return strings.Join(tokens, " ")
}

// NormalizeHost lowercases a website URL down to its bare host.
func NormalizeHost(website string) string {
	s := strings.ToLower(strings.TrimSpace(website))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// tokenize lowercases, strips diacritics, replaces punctuation with spaces,
// and splits into fields.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
