package quality

import (
	"regexp"
	"strconv"
	"strings"
)

// Pay period multipliers to annualize a figure.
const (
	hoursPerYear  = 2080
	daysPerYear   = 260
	weeksPerYear  = 52
	monthsPerYear = 12
)

var (
	amountRe = regexp.MustCompile(`\$?\s*(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)\s*([kK])?`)

	hourlyRe  = regexp.MustCompile(`(?i)\b(?:per\s+hour|an\s+hour|/\s*h(?:ou)?r|hourly)\b`)
	dailyRe   = regexp.MustCompile(`(?i)\b(?:per\s+day|a\s+day|/\s*day|daily)\b`)
	weeklyRe  = regexp.MustCompile(`(?i)\b(?:per\s+week|a\s+week|/\s*w(?:ee)?k|weekly)\b`)
	monthlyRe = regexp.MustCompile(`(?i)\b(?:per\s+month|a\s+month|/\s*mo(?:nth)?|monthly)\b`)
	yearlyRe  = regexp.MustCompile(`(?i)\b(?:per\s+year|a\s+year|/\s*y(?:ea)?r|yearly|annual(?:ly)?)\b`)
	mileageRe = regexp.MustCompile(`(?i)\b(?:per\s+mile|/\s*mi(?:le)?|cpm)\b`)
)

// ParseSalary extracts an annualized pay range from a raw salary string.
// Figures quoted per hour, day, week or month are scaled to a yearly
// amount. Mileage-based pay cannot be annualized and reports ok=false,
// as does anything with no parsable figure.
func ParseSalary(raw string) (low, high float64, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, false
	}
	if mileageRe.MatchString(s) {
		return 0, 0, false
	}

	matches := amountRe.FindAllStringSubmatch(s, 2)
	if len(matches) == 0 {
		return 0, 0, false
	}

	amounts := make([]float64, 0, 2)
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		if v > 0 {
			amounts = append(amounts, v)
		}
	}
	if len(amounts) == 0 {
		return 0, 0, false
	}

	low = amounts[0]
	high = amounts[len(amounts)-1]
	if high < low {
		low, high = high, low
	}

	mult := periodMultiplier(s, high)
	return low * mult, high * mult, true
}

// periodMultiplier picks the annualization factor from an explicit period
// keyword, falling back to a magnitude guess: two-digit figures read as
// hourly, three-to-four-digit figures as weekly, anything larger as annual.
func periodMultiplier(s string, high float64) float64 {
	switch {
	case hourlyRe.MatchString(s):
		return hoursPerYear
	case dailyRe.MatchString(s):
		return daysPerYear
	case weeklyRe.MatchString(s):
		return weeksPerYear
	case monthlyRe.MatchString(s):
		return monthsPerYear
	case yearlyRe.MatchString(s):
		return 1
	}
	switch {
	case high < 100:
		return hoursPerYear
	case high < 10000:
		return weeksPerYear
	default:
		return 1
	}
}
