package classify

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// ClassifierType selects the prompt and output schema for a run.
type ClassifierType string

const (
	// TypeCDL reviews postings for entry-level CDL driving placements.
	TypeCDL ClassifierType = "cdl"
	// TypePathway additionally maps postings onto career pathways for
	// candidates working toward a CDL.
	TypePathway ClassifierType = "pathway"
)

// ParseClassifierType validates a configuration string. Empty input
// falls back to TypeCDL.
func ParseClassifierType(s string) (ClassifierType, error) {
	switch ClassifierType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeCDL:
		return TypeCDL, nil
	case TypePathway:
		return TypePathway, nil
	case "":
		return TypeCDL, nil
	}
	return "", eris.Errorf("classify: unknown classifier type %q", s)
}

// maxDescriptionChars bounds the description sent per posting so one
// scraped wall of text cannot blow the token budget for the whole batch.
const maxDescriptionChars = 6000

const cdlSystemPrompt = `You review trucking job postings for entry-level CDL drivers who recently earned their license and may have a criminal record.

For each posting, respond with a single JSON object and nothing else:
{
  "match": "good" | "so-so" | "bad",
  "summary": "<one sentence a career coach can read aloud to the candidate>",
  "route_type": "Local" | "Regional" | "OTR" | "Unknown",
  "fair_chance": true | false
}

Guidance:
- "good": hires drivers with under 1 year of experience, no lease-purchase requirement, pay and route are stated plainly.
- "so-so": plausible fit but missing details, asks for 1-2 years experience, or pay is vague.
- "bad": requires 2+ years experience, owner-operators only, lease-purchase schemes, staffing-agency spam, or not actually a driving job.
- "fair_chance" is true only when the posting states felony-friendly, second-chance, or background-friendly hiring. Silence means false.
- Route: "Local" is home daily, "Regional" home weekly, "OTR" is multi-week over-the-road. Use "Unknown" when the posting does not say.`

const pathwaySystemPrompt = `You review job postings for career coaches placing candidates who are working toward a CDL or building driving-adjacent experience. The candidate may have a criminal record.

For each posting, respond with a single JSON object and nothing else:
{
  "match": "good" | "so-so" | "bad",
  "summary": "<one sentence a career coach can read aloud to the candidate>",
  "route_type": "Local" | "Regional" | "OTR" | "Unknown",
  "fair_chance": true | false,
  "career_pathway": "dock_to_driver" | "internal_cdl_training" | "warehouse_to_driver" | "general_warehouse" | "non_cdl_driving" | "no_pathway",
  "training_provided": true | false
}

Guidance:
- "match" rates fit for someone without a CDL yet: "good" means the employer trains or promotes into driving, "so-so" means relevant experience with no stated path, "bad" means a dead end or a scam.
- "career_pathway" names the most specific route into a driving career the posting supports. Use "no_pathway" when there is none.
- "training_provided" is true only when the employer pays for or provides CDL training.
- "fair_chance" is true only when the posting states felony-friendly, second-chance, or background-friendly hiring. Silence means false.
- Route applies to the driving role the pathway leads to; use "Unknown" when unclear.`

// SystemPrompt returns the system instruction for a classifier type.
func SystemPrompt(t ClassifierType) string {
	if t == TypePathway {
		return pathwaySystemPrompt
	}
	return cdlSystemPrompt
}

// BuildUserMessage renders one posting for classification. Only
// normalized fields go to the model.
func BuildUserMessage(p model.JobPosting) string {
	desc := p.Description
	if len(desc) > maxDescriptionChars {
		desc = desc[:maxDescriptionChars]
	}
	return fmt.Sprintf(`Job posting:
Title: %s
Company: %s
Location: %s
Description: %s`, p.Title, p.CompanyOriginal, p.Location, desc)
}
