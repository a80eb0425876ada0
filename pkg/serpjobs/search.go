package serpjobs

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// maxSearchPages bounds how deep a single search pages. The engine keeps
// serving past this point but result quality drops off sharply.
const maxSearchPages = 10

// Searcher pages through the engine and converts results, and is the type
// ingestion wires in as a fresh-source provider.
type Searcher struct {
	client Client
	now    func() time.Time
}

// NewSearcher wraps a Google Jobs engine client as a posting source.
func NewSearcher(client Client) *Searcher {
	return &Searcher{
		client: client,
		now:    time.Now,
	}
}

// Name identifies this provider in configuration and run metadata.
func (s *Searcher) Name() string { return "serpjobs" }

// Search pages the engine until maxResults postings are collected, the
// engine runs dry, or the page cap is reached.
func (s *Searcher) Search(ctx context.Context, location, terms string, radius, maxResults int) ([]model.RawPosting, error) {
	req := SearchRequest{
		Query:    terms,
		Location: location,
		RadiusKM: milesToKM(radius),
	}

	now := s.now()
	var out []model.RawPosting
	for page := 0; page < maxSearchPages; page++ {
		req.Start = page * PageSize
		resp, err := s.client.Search(ctx, req)
		if err != nil {
			return out, err
		}
		if len(resp.JobsResults) == 0 {
			break
		}

		for _, job := range resp.JobsResults {
			if maxResults > 0 && len(out) >= maxResults {
				break
			}
			out = append(out, jobToRaw(job, now))
		}
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		if len(resp.JobsResults) < PageSize {
			break
		}
	}

	zap.L().Debug("serpjobs search finished",
		zap.String("query", terms),
		zap.String("location", location),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// milesToKM converts the caller's mile radius to the engine's kilometer
// parameter, rounding up so the requested area is never shrunk.
func milesToKM(miles int) int {
	if miles <= 0 {
		return 0
	}
	return int(math.Ceil(float64(miles) * 1.609344))
}

func jobToRaw(j JobResult, now time.Time) model.RawPosting {
	return model.RawPosting{
		Title:       j.Title,
		Company:     j.CompanyName,
		Location:    j.Location,
		Description: j.Description,
		Salary:      j.DetectedExtensions.Salary,
		URL:         applyURL(j),
		Platform:    platformFromVia(j.Via),
		PostedAt:    parsePostedAt(j.DetectedExtensions.PostedAt, now),
	}
}

// applyURL prefers the first apply option, which points at the actual
// board listing, over the engine's own share link.
func applyURL(j JobResult) string {
	if len(j.ApplyOptions) > 0 && j.ApplyOptions[0].Link != "" {
		return j.ApplyOptions[0].Link
	}
	return j.ShareLink
}

// platformFromVia strips the "via " prefix Google Jobs puts on board names,
// so "via Indeed" becomes "Indeed".
func platformFromVia(via string) string {
	via = strings.TrimSpace(via)
	if rest, ok := strings.CutPrefix(via, "via "); ok {
		return strings.TrimSpace(rest)
	}
	return via
}

// parsePostedAt converts the engine's relative age ("3 days ago",
// "22 hours ago", "just posted") to an absolute time. Unparseable values
// produce the zero time, which downstream treats as age unknown.
func parsePostedAt(s string, now time.Time) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return time.Time{}
	case "just posted", "today":
		return now
	case "yesterday":
		return now.Add(-24 * time.Hour)
	}

	fields := strings.Fields(s)
	if len(fields) < 3 || fields[len(fields)-1] != "ago" {
		return time.Time{}
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return time.Time{}
	}

	unit := strings.TrimSuffix(fields[1], "s")
	switch unit {
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	default:
		return time.Time{}
	}
}
