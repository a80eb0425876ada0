package classify

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/anthropic"
)

// outcome is one posting's parsed classification.
type outcome struct {
	MatchLevel       model.MatchLevel
	Summary          string
	RouteType        model.RouteType
	FairChance       bool
	CareerPathway    string
	TrainingProvided bool
}

// parseOutcome decodes a model response. Enum values the model invents
// coerce to unknown rather than failing; only unusable responses return
// an error.
func parseOutcome(resp *anthropic.MessageResponse) (*outcome, error) {
	if resp == nil || len(resp.Content) == 0 {
		return nil, eris.New("classify: empty response")
	}

	cleaned := cleanJSON(extractText(resp))
	var raw struct {
		Match            string `json:"match"`
		Summary          string `json:"summary"`
		RouteType        string `json:"route_type"`
		FairChance       any    `json:"fair_chance"`
		CareerPathway    string `json:"career_pathway"`
		TrainingProvided any    `json:"training_provided"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "classify: parse response")
	}

	return &outcome{
		MatchLevel:       model.ParseMatchLevel(raw.Match),
		Summary:          strings.TrimSpace(raw.Summary),
		RouteType:        model.ParseRouteType(raw.RouteType),
		FairChance:       coerceBool(raw.FairChance),
		CareerPathway:    normalizePathway(raw.CareerPathway),
		TrainingProvided: coerceBool(raw.TrainingProvided),
	}, nil
}

// coerceBool accepts the booleans models actually emit: true, "true",
// "yes". Anything else is false.
func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes":
			return true
		}
	}
	return false
}

// normalizePathway lowercases a pathway label and drops the explicit
// no-pathway marker so the field stays empty when there is nothing to
// report.
func normalizePathway(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "no_pathway" || s == "none" {
		return ""
	}
	return s
}

// extractText concatenates all text content blocks.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
