// Package quality scores postings on deterministic heuristics. The same
// inputs always produce the same Result; nothing here calls the network,
// so scoring is free and safe to rerun after classification refines the
// route type.
package quality

import (
	"math"
	"strings"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
)

// Weights control how component scores combine into the overall score.
type Weights struct {
	Company     float64 `yaml:"company" mapstructure:"company"`
	Salary      float64 `yaml:"salary" mapstructure:"salary"`
	Description float64 `yaml:"description" mapstructure:"description"`
	Title       float64 `yaml:"title" mapstructure:"title"`
	Location    float64 `yaml:"location" mapstructure:"location"`
}

// DefaultWeights returns the standard component weighting.
func DefaultWeights() Weights {
	return Weights{
		Company:     0.30,
		Salary:      0.25,
		Description: 0.25,
		Title:       0.10,
		Location:    0.10,
	}
}

// Components holds the individual dimension scores, each 0.0-1.0.
type Components struct {
	Company     float64 `json:"company"`
	Salary      float64 `json:"salary"`
	Description float64 `json:"description"`
	Title       float64 `json:"title"`
	Location    float64 `json:"location"`
}

// Result is the full quality assessment for one posting.
type Result struct {
	Overall         float64    `json:"overall"`
	Components      Components `json:"components"`
	Flags           []string   `json:"flags,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// Scorer evaluates postings against the rule catalogue.
type Scorer struct {
	rules   *rules.Ruleset
	weights Weights
}

// New builds a Scorer. Zero-valued weights fall back to DefaultWeights.
func New(rs *rules.Ruleset, w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Scorer{rules: rs, weights: w}
}

// Score computes the full quality assessment for a posting. The salary
// component judges pay against the posting's route type, so rerunning
// after classification tightens the verdict.
func (s *Scorer) Score(p *model.JobPosting) Result {
	route := p.RouteType
	if route == "" {
		route = model.RouteUnknown
	}

	comp := Components{
		Company:     s.scoreCompany(p.Company),
		Salary:      s.scoreSalary(p.RawSalary, string(route)),
		Description: s.scoreDescription(p.Description),
		Title:       s.scoreTitle(p.Title),
		Location:    s.scoreLocation(p.Location, p.State),
	}

	flagText := p.Title + " " + p.Description + " " + p.RawSalary + " " + p.Location
	flags := s.rules.MatchFlags(flagText)

	w := s.weights
	total := w.Company + w.Salary + w.Description + w.Title + w.Location
	overall := (w.Company*comp.Company +
		w.Salary*comp.Salary +
		w.Description*comp.Description +
		w.Title*comp.Title +
		w.Location*comp.Location) / total

	overall -= math.Min(0.3, 0.1*float64(len(flags)))
	overall = math.Round(clamp01(overall)*1000) / 1000

	return Result{
		Overall:         overall,
		Components:      comp,
		Flags:           flags,
		Recommendations: s.recommendations(p, comp),
	}
}

// Apply writes a Score result back onto the posting.
func (s *Scorer) Apply(p *model.JobPosting) Result {
	r := s.Score(p)
	p.QualityScore = r.Overall
	p.QualityFlags = r.Flags
	p.QualityRecommendations = r.Recommendations
	return r
}

// scoreCompany rates the normalized company name against the reputation
// lists. Exact matches move all the way to the list's base score, partial
// matches 80% of the way from neutral.
func (s *Scorer) scoreCompany(company string) float64 {
	if company == "" {
		return 0.2
	}

	const (
		neutral  = 0.60
		goodBase = 0.95
		badBase  = 0.10
	)

	if factor := matchFactor(company, s.rules.Companies.KnownBad); factor > 0 {
		return neutral + factor*(badBase-neutral)
	}
	if factor := matchFactor(company, s.rules.Companies.KnownGood); factor > 0 {
		return neutral + factor*(goodBase-neutral)
	}

	generic := 0
	for _, tok := range strings.Fields(company) {
		for _, g := range s.rules.Companies.GenericTokens {
			if tok == g {
				generic++
				break
			}
		}
	}
	if generic >= 2 {
		return neutral - 0.2
	}
	return neutral
}

// matchFactor returns 1.0 for an exact reputation-list match, 0.8 for a
// substring match in either direction, and 0 for no match.
func matchFactor(company string, list []string) float64 {
	for _, entry := range list {
		if company == entry {
			return 1.0
		}
	}
	for _, entry := range list {
		if strings.Contains(company, entry) || strings.Contains(entry, company) {
			return 0.8
		}
	}
	return 0
}

// scoreSalary rates annualized pay against the sanity range for the route
// type. Missing or unparsable pay is neutral rather than punished.
func (s *Scorer) scoreSalary(raw, route string) float64 {
	low, high, ok := ParseSalary(raw)
	if !ok {
		return 0.5
	}

	rng := s.rules.SalaryRangeFor(route)
	mid := (low + high) / 2

	var score float64
	switch {
	case mid >= rng.Min && mid <= rng.Max:
		score = 0.9
	case mid > rng.Max:
		over := mid / rng.Max
		if over <= 1.5 {
			score = 0.9 - (over-1)
		} else {
			score = math.Max(0.1, 0.4-0.6*(over-1.5))
		}
	default:
		score = math.Max(0.1, 0.6*(mid/rng.Min))
	}

	// A pay pitch matching the unrealistic-salary patterns caps the
	// component even if the math lands in range.
	for _, f := range s.rules.MatchFlags(raw) {
		if f == "unrealistic_salary" {
			score = math.Min(score, 0.25)
		}
	}
	return clamp01(score)
}

// scoreDescription rates substance: enough words, concrete benefit and
// schedule details, and none of the scammy tells.
func (s *Scorer) scoreDescription(desc string) float64 {
	if desc == "" {
		return 0.2
	}

	words := len(strings.Fields(desc))
	var score float64
	switch {
	case words < 30:
		score = 0.35
	case words <= 100:
		score = 0.55
	default:
		score = 0.70
	}

	lower := strings.ToLower(desc)
	categories := 0
	for _, phrases := range s.rules.QualityKeywords {
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				categories++
				break
			}
		}
	}
	score += math.Min(0.3, 0.1*float64(categories))

	redFlags := 0
	for _, phrase := range s.rules.RedFlagPhrases {
		if strings.Contains(lower, phrase) {
			redFlags++
		}
	}
	score -= math.Min(0.3, 0.15*float64(redFlags))

	if strings.Count(desc, "!") > 5 {
		score -= 0.1
	}
	if shouting(desc) {
		score -= 0.1
	}
	return clamp01(score)
}

// scoreTitle rates a cleaned title on trade vocabulary and plausible length.
func (s *Scorer) scoreTitle(title string) float64 {
	if title == "" {
		return 0.2
	}

	lower := strings.ToLower(title)
	score := 0.5

	credible := 0.0
	for _, tok := range s.rules.TitleTokens.Credible {
		if strings.Contains(lower, tok) {
			credible += 0.15
		}
	}
	score += math.Min(0.4, credible)

	suspect := 0.0
	for _, tok := range s.rules.TitleTokens.Suspect {
		if strings.Contains(lower, strings.ToLower(tok)) {
			suspect += 0.2
		}
	}
	score -= math.Min(0.4, suspect)

	if len(title) < 10 || len(title) > 80 {
		score -= 0.1
	}
	return clamp01(score)
}

// scoreLocation rewards a concrete "City, ST" and punishes multi-market
// spray postings.
func (s *Scorer) scoreLocation(loc, state string) float64 {
	if loc == "" {
		return 0.2
	}

	lower := strings.ToLower(loc)
	for _, vague := range s.rules.VagueLocations {
		if strings.Contains(lower, vague) {
			return 0.25
		}
	}

	switch {
	case state != "" && loc != state:
		return 0.9
	case state != "":
		return 0.6
	default:
		return 0.6
	}
}

func (s *Scorer) recommendations(p *model.JobPosting, comp Components) []string {
	var recs []string
	if p.Company == "" {
		recs = append(recs, "missing company name")
	} else if comp.Company < 0.4 {
		recs = append(recs, "company has poor reputation signals")
	}
	if p.RawSalary == "" {
		recs = append(recs, "no pay information")
	} else if comp.Salary < 0.4 {
		recs = append(recs, "pay outside plausible range for route type")
	}
	if comp.Description < 0.4 {
		recs = append(recs, "description lacks substance")
	}
	if comp.Title < 0.4 {
		recs = append(recs, "title looks like spam")
	}
	if comp.Location < 0.4 {
		recs = append(recs, "location is vague or missing")
	}
	return recs
}

// shouting reports whether a description is mostly uppercase letters.
func shouting(s string) bool {
	if len(s) < 40 {
		return false
	}
	upper, letters := 0, 0
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	return letters > 0 && float64(upper)/float64(letters) > 0.5
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
