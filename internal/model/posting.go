package model

import (
	"strings"
	"time"
)

// MatchLevel is the classifier's verdict on how well a posting fits
// the candidate population we serve.
type MatchLevel string

const (
	MatchGood    MatchLevel = "good"
	MatchSoSo    MatchLevel = "so-so"
	MatchBad     MatchLevel = "bad"
	MatchUnknown MatchLevel = "unknown"
)

// ParseMatchLevel maps a classifier output string onto a known level,
// falling back to MatchUnknown for anything unrecognized.
func ParseMatchLevel(s string) MatchLevel {
	switch MatchLevel(strings.ToLower(strings.TrimSpace(s))) {
	case MatchGood:
		return MatchGood
	case MatchSoSo:
		return MatchSoSo
	case MatchBad:
		return MatchBad
	}
	return MatchUnknown
}

// Acceptable reports whether the level is good enough to serve from memory.
func (m MatchLevel) Acceptable() bool {
	return m == MatchGood || m == MatchSoSo
}

// RouteType describes the driving radius of a job.
type RouteType string

const (
	RouteLocal    RouteType = "Local"
	RouteRegional RouteType = "Regional"
	RouteOTR      RouteType = "OTR"
	RouteUnknown  RouteType = "Unknown"
)

// ParseRouteType maps a classifier output string onto a known route type,
// falling back to RouteUnknown for anything unrecognized.
func ParseRouteType(s string) RouteType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return RouteLocal
	case "regional":
		return RouteRegional
	case "otr", "over the road", "over-the-road":
		return RouteOTR
	}
	return RouteUnknown
}

// FinalStatus is the terminal disposition the router assigns to a posting.
// Empty until the posting has been routed or excluded by an earlier stage.
type FinalStatus string

const (
	StatusIncludedLocal          FinalStatus = "included_local"
	StatusIncludedOTR            FinalStatus = "included_otr"
	StatusIncludedOther          FinalStatus = "included_other"
	StatusExcludedDuplicate      FinalStatus = "excluded_duplicate"
	StatusExcludedQuality        FinalStatus = "excluded_quality"
	StatusExcludedClassification FinalStatus = "excluded_classification"
)

// Included reports whether the status delivers the posting to the output set.
func (s FinalStatus) Included() bool {
	switch s {
	case StatusIncludedLocal, StatusIncludedOTR, StatusIncludedOther:
		return true
	}
	return false
}

// SourceKind records where a posting entered the current run from.
type SourceKind string

const (
	SourceMemory SourceKind = "memory"
	SourceFresh  SourceKind = "fresh"
	SourceImport SourceKind = "import"
)

// RawPosting is a provider search result before any normalization.
// Provider clients stringify non-string scalars at the boundary, so
// every field here is already a plain string.
type RawPosting struct {
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	URL         string    `json:"url,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty"`
}

// JobPosting is the unit of work flowing through every pipeline stage.
// Market is fixed at ingestion and never reassigned afterwards.
type JobPosting struct {
	ID     string     `json:"id"`
	Market string     `json:"market"`
	Source SourceKind `json:"source"`

	// Raw fields as received from the provider or memory store.
	RawTitle       string    `json:"raw_title"`
	RawCompany     string    `json:"raw_company"`
	RawLocation    string    `json:"raw_location"`
	RawDescription string    `json:"raw_description,omitempty"`
	RawSalary      string    `json:"raw_salary,omitempty"`
	SourceURL      string    `json:"source_url,omitempty"`
	SourcePlatform string    `json:"source_platform,omitempty"`
	PostedAt       time.Time `json:"posted_at,omitempty"`

	// Normalized fields populated by the normalize stage.
	Title           string `json:"title"`
	Company         string `json:"company"`
	CompanyOriginal string `json:"company_original,omitempty"`
	Location        string `json:"location"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	Description     string `json:"description,omitempty"`

	// Quality assessment.
	QualityScore           float64  `json:"quality_score"`
	QualityFlags           []string `json:"quality_flags,omitempty"`
	QualityRecommendations []string `json:"quality_recommendations,omitempty"`

	// Dedup keys (hex sha256).
	DedupKeyR1 string `json:"dedup_key_r1,omitempty"`
	DedupKeyR2 string `json:"dedup_key_r2,omitempty"`

	// Classification.
	MatchLevel       MatchLevel `json:"match_level,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	RouteType        RouteType  `json:"route_type,omitempty"`
	CareerPathway    string     `json:"career_pathway,omitempty"`
	FairChance       bool       `json:"fair_chance"`
	TrainingProvided bool       `json:"training_provided"`
	ClassifiedAt     time.Time  `json:"classified_at,omitempty"`

	// Routing.
	FinalStatus  FinalStatus `json:"final_status,omitempty"`
	SortPriority int         `json:"sort_priority"`

	// Memory bookkeeping. FirstSeenAt survives upserts; LastSeenAt moves
	// forward every time a run re-encounters the posting.
	FirstSeenAt time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
}

// HasIdentity reports whether the posting carries enough identity to join
// a dedup group. Postings missing both company and title must never be
// grouped with each other.
func (p *JobPosting) HasIdentity() bool {
	return strings.TrimSpace(p.Company) != "" || strings.TrimSpace(p.Title) != ""
}

// ClassifiedWithin reports whether the posting carries a usable
// classification newer than the given age.
func (p *JobPosting) ClassifiedWithin(maxAge time.Duration, now time.Time) bool {
	if p.MatchLevel == "" || p.MatchLevel == MatchUnknown || p.ClassifiedAt.IsZero() {
		return false
	}
	return now.Sub(p.ClassifiedAt) <= maxAge
}
