// Package normalize turns raw provider fields into the canonical shapes the
// rest of the pipeline keys on. Every function is total: empty input yields
// empty output and nothing here panics on garbage.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
)

var (
	zipRe = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)

	// Salary fragments stripped out of titles: "$1,500/wk", "$85k-$95k",
	// "70 CPM", "$0.62 per mile".
	titleSalaryRe = regexp.MustCompile(`(?i)\$?\s*\d[\d,.]*\s*k?\s*(?:-|–|to)?\s*\$?\s*[\d,.]*\s*k?\s*(?:/|per\s+)?\s*(?:hour|hr|week|wk|year|yr|annually|month|mo|day|mile|mi|cpm)\b`)
	dollarRe      = regexp.MustCompile(`\$\s*\d[\d,.]*\s*k?\b`)

	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	sepRunRe     = regexp.MustCompile(`\s*[-–|•,]\s*(?:[-–|•,]\s*)+`)
)

// Normalizer applies the rule catalogue to raw posting fields.
type Normalizer struct {
	rules   *rules.Ruleset
	caser   cases.Caser
	urgency []*regexp.Regexp
}

// New builds a Normalizer over the given catalogue.
func New(rs *rules.Ruleset) *Normalizer {
	urgency := make([]*regexp.Regexp, 0, len(rs.UrgencyWords))
	for _, w := range rs.UrgencyWords {
		urgency = append(urgency, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return &Normalizer{
		rules:   rs,
		caser:   cases.Title(language.AmericanEnglish),
		urgency: urgency,
	}
}

// Apply populates every normalized field on the posting in place.
// searchLocation is the market's canonical location, used when the raw
// location is unusable.
func (n *Normalizer) Apply(p *model.JobPosting, searchLocation string) {
	p.Title = n.Title(p.RawTitle)
	p.Company, p.CompanyOriginal = n.Company(p.RawCompany)
	p.Location = n.Location(p.RawLocation, searchLocation)
	p.City, p.State = SplitLocation(p.Location)
	p.Description = n.CleanHTML(p.RawDescription)
}

// Location shapes a raw location string into "City, ST". ZIP codes are
// stripped, full state names collapse to USPS codes, and city names are
// title-cased with the catalogue's casing exceptions. Garbled non-ASCII
// input and ZIP-only input fall back to searchLocation.
func (n *Normalizer) Location(raw, searchLocation string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !isASCII(s) {
		return searchLocation
	}

	s = zipRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ,-/")
	if s == "" {
		return searchLocation
	}

	city, state := n.splitCityState(s)
	city = n.titleCaseCity(city)
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case state != "":
		return state
	default:
		return city
	}
}

// splitCityState separates a cleaned location string into a city part and a
// two-letter state code. Either side may come back empty.
func (n *Normalizer) splitCityState(s string) (string, string) {
	if i := strings.Index(s, ","); i >= 0 {
		city := strings.TrimSpace(s[:i])
		rest := strings.TrimSpace(s[i+1:])
		if code, ok := n.rules.StateCode(rest); ok {
			return city, code
		}
		// "Dallas, TX, USA" and similar: try the first token after the comma.
		if fields := strings.Fields(rest); len(fields) > 0 {
			if code, ok := n.rules.StateCode(strings.Trim(fields[0], ",.")); ok {
				return city, code
			}
		}
		return city, ""
	}

	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return "", ""
	}
	// Whole string is a state ("texas", "TX").
	if code, ok := n.rules.StateCode(s); ok {
		return "", code
	}
	// Trailing state name of up to three words ("washington district of
	// columbia"), or a trailing code ("Houston TX").
	for k := 3; k >= 1; k-- {
		if len(tokens) <= k {
			continue
		}
		cand := strings.Join(tokens[len(tokens)-k:], " ")
		if code, ok := n.rules.StateCode(cand); ok {
			return strings.Join(tokens[:len(tokens)-k], " "), code
		}
	}
	return s, ""
}

// titleCaseCity title-cases a city name, keeping prepositions lowercase
// (unless leading) and compass abbreviations fully uppercase.
func (n *Normalizer) titleCaseCity(city string) string {
	words := strings.Fields(city)
	for i, w := range words {
		switch {
		case n.rules.IsUppercaseWord(w):
			words[i] = strings.ToUpper(w)
		case i > 0 && n.rules.IsLowercaseWord(w):
			words[i] = strings.ToLower(w)
		default:
			words[i] = n.caser.String(strings.ToLower(w))
		}
	}
	return strings.Join(words, " ")
}

// Company returns the lowercase, suffix-stripped company name used for
// matching, plus the cleaned original for display.
func (n *Normalizer) Company(raw string) (string, string) {
	original := whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), " ")
	if original == "" {
		return "", ""
	}

	lowered := strings.ToLower(original)
	lowered = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '&' || r == '-' || r == '.' {
			return r
		}
		return ' '
	}, lowered)

	tokens := strings.Fields(lowered)
	for len(tokens) > 1 && n.rules.IsCompanySuffix(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	normalized := strings.Join(tokens, " ")
	normalized = strings.Trim(normalized, " .,-")
	return normalized, original
}

// Title cleans a job title: salary fragments and urgency hype are removed,
// separator runs collapse, and whitespace is squeezed.
func (n *Normalizer) Title(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = titleSalaryRe.ReplaceAllString(s, " ")
	s = dollarRe.ReplaceAllString(s, " ")
	for _, re := range n.urgency {
		s = re.ReplaceAllString(s, " ")
	}
	s = strings.ReplaceAll(s, "!", " ")
	s = sepRunRe.ReplaceAllString(s, " - ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, " -–|•,:")
	return s
}

// CleanHTML strips tags from a description and decodes entities, collapsing
// the result to single-spaced text.
func (n *Normalizer) CleanHTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	s := strings.ReplaceAll(raw, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SplitLocation splits a normalized "City, ST" location back into its parts.
func SplitLocation(loc string) (string, string) {
	i := strings.LastIndex(loc, ",")
	if i < 0 {
		if len(loc) == 2 && loc == strings.ToUpper(loc) && loc != strings.ToLower(loc) {
			return "", loc
		}
		return loc, ""
	}
	city := strings.TrimSpace(loc[:i])
	state := strings.TrimSpace(loc[i+1:])
	if len(state) != 2 {
		return city, ""
	}
	return city, strings.ToUpper(state)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
