// Package rules holds the static catalogue the pipeline consults at every
// stage: state codes, market search locations, company reputation lists,
// salary sanity ranges, and the suspicious-pattern regexes behind quality
// flags. The catalogue ships embedded in the binary and can be replaced
// wholesale with a YAML file via rules_path.
package rules

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// SalaryRange bounds plausible annual pay in USD for a route type.
type SalaryRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Companies holds the reputation lists used by the quality scorer.
type Companies struct {
	KnownGood     []string `yaml:"known_good"`
	KnownBad      []string `yaml:"known_bad"`
	GenericTokens []string `yaml:"generic_tokens"`
}

// TitleTokens splits job-title vocabulary into credible and suspect sets.
type TitleTokens struct {
	Credible []string `yaml:"credible"`
	Suspect  []string `yaml:"suspect"`
}

// Ruleset is the fully loaded and compiled rule catalogue. It is immutable
// after Load and safe for concurrent use.
type Ruleset struct {
	States          map[string]string      `yaml:"states"`
	Markets         map[string]string      `yaml:"markets"`
	Companies       Companies              `yaml:"companies"`
	SalaryRanges    map[string]SalaryRange `yaml:"salary_ranges"`
	Patterns        map[string][]string    `yaml:"patterns"`
	QualityKeywords map[string][]string    `yaml:"quality_keywords"`
	TitleTokens     TitleTokens            `yaml:"title_tokens"`
	RedFlagPhrases  []string               `yaml:"red_flag_phrases"`
	VagueLocations  []string               `yaml:"vague_locations"`
	UrgencyWords    []string               `yaml:"urgency_words"`
	CompanySuffixes []string               `yaml:"company_suffixes"`
	LowercaseWords  []string               `yaml:"lowercase_words"`
	UppercaseWords  []string               `yaml:"uppercase_words"`

	compiled  map[string][]*regexp.Regexp
	stateSet  map[string]bool
	lowerSet  map[string]bool
	upperSet  map[string]bool
	suffixSet map[string]bool
}

var validRouteKeys = map[string]bool{
	"Local":    true,
	"Regional": true,
	"OTR":      true,
	"Unknown":  true,
}

// Load reads the catalogue from path, or the embedded defaults when path
// is empty. The returned Ruleset has all patterns compiled and validated.
func Load(path string) (*Ruleset, error) {
	data := defaultsYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "rules: read catalogue %s", path)
		}
	}
	return parse(data)
}

func parse(data []byte) (*Ruleset, error) {
	rs := &Ruleset{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, eris.Wrap(err, "rules: parse catalogue")
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *Ruleset) compile() error {
	if _, ok := r.SalaryRanges["Unknown"]; !ok {
		return eris.New("rules: salary_ranges must define an Unknown range")
	}
	for route, rng := range r.SalaryRanges {
		if !validRouteKeys[route] {
			return eris.Errorf("rules: unknown route type %q in salary_ranges", route)
		}
		if rng.Min <= 0 || rng.Max <= rng.Min {
			return eris.Errorf("rules: salary range for %s must have 0 < min < max", route)
		}
	}

	r.compiled = make(map[string][]*regexp.Regexp, len(r.Patterns))
	for group, exprs := range r.Patterns {
		for _, expr := range exprs {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return eris.Wrapf(err, "rules: compile pattern %s in group %s", expr, group)
			}
			r.compiled[group] = append(r.compiled[group], re)
		}
	}

	r.stateSet = make(map[string]bool, len(r.States))
	for name, code := range r.States {
		if len(code) != 2 {
			return eris.Errorf("rules: state code for %q must be two letters, got %q", name, code)
		}
		r.stateSet[strings.ToUpper(code)] = true
	}

	r.lowerSet = toSet(r.LowercaseWords)
	r.upperSet = toSet(r.UppercaseWords)
	r.suffixSet = toSet(r.CompanySuffixes)
	return nil
}

func toSet(words []string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[strings.ToLower(w)] = true
	}
	return s
}

// SearchLocation resolves a market name to its provider search location.
func (r *Ruleset) SearchLocation(market string) (string, bool) {
	loc, ok := r.Markets[market]
	return loc, ok
}

// MarketNames returns all configured market names, sorted.
func (r *Ruleset) MarketNames() []string {
	names := make([]string, 0, len(r.Markets))
	for name := range r.Markets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StateCode resolves a full state name or an existing two-letter code to
// its USPS code.
func (r *Ruleset) StateCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if code, ok := r.States[strings.ToLower(s)]; ok {
		return code, true
	}
	up := strings.ToUpper(s)
	if len(up) == 2 && r.stateSet[up] {
		return up, true
	}
	return "", false
}

// ValidStateCode reports whether code is a known two-letter USPS code.
func (r *Ruleset) ValidStateCode(code string) bool {
	return r.stateSet[strings.ToUpper(strings.TrimSpace(code))]
}

// SalaryRangeFor returns the sanity range for a route type, falling back
// to the Unknown range for unrecognized values.
func (r *Ruleset) SalaryRangeFor(route string) SalaryRange {
	if rng, ok := r.SalaryRanges[route]; ok {
		return rng
	}
	return r.SalaryRanges["Unknown"]
}

// MatchFlags returns the sorted names of every pattern group with at least
// one regex matching text. Matching is case-insensitive.
func (r *Ruleset) MatchFlags(text string) []string {
	if text == "" {
		return nil
	}
	var flags []string
	for group, res := range r.compiled {
		for _, re := range res {
			if re.MatchString(text) {
				flags = append(flags, group)
				break
			}
		}
	}
	sort.Strings(flags)
	return flags
}

// IsLowercaseWord reports whether a token stays lowercase when title-casing
// a city name (unless it leads the name).
func (r *Ruleset) IsLowercaseWord(w string) bool {
	return r.lowerSet[strings.ToLower(w)]
}

// IsUppercaseWord reports whether a token is fully uppercased when
// title-casing a city name, such as compass directions.
func (r *Ruleset) IsUppercaseWord(w string) bool {
	return r.upperSet[strings.ToLower(w)]
}

// IsCompanySuffix reports whether a token is a corporate suffix stripped
// during company normalization.
func (r *Ruleset) IsCompanySuffix(w string) bool {
	return r.suffixSet[strings.ToLower(strings.TrimSpace(w))]
}
