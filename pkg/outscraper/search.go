package outscraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// Searcher runs the full async round-trip (submit, poll, convert) and is
// the type ingestion wires in as a fresh-source provider.
type Searcher struct {
	client   Client
	pollOpts []PollOption
	now      func() time.Time
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithPollOptions overrides polling behavior for every search.
func WithPollOptions(opts ...PollOption) SearcherOption {
	return func(s *Searcher) {
		s.pollOpts = opts
	}
}

// NewSearcher wraps an Outscraper client as a posting source.
func NewSearcher(client Client, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies this provider in configuration and run metadata.
func (s *Searcher) Name() string { return "outscraper" }

// Search submits a jobs query for the location, polls until the provider
// finishes, and returns provider-neutral postings capped at maxResults.
func (s *Searcher) Search(ctx context.Context, location, terms string, radius, maxResults int) ([]model.RawPosting, error) {
	req := SearchRequest{
		Query:  strings.TrimSpace(terms + " " + location),
		Radius: radius,
		Limit:  maxResults,
	}

	submitted, err := s.client.SubmitJobSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := PollRequest(ctx, s.client, submitted.ID, s.pollOpts...)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("outscraper: search %q", req.Query))
	}

	postings := toRawPostings(status.Data, maxResults, s.now())
	zap.L().Debug("outscraper search finished",
		zap.String("query", req.Query),
		zap.String("request_id", submitted.ID),
		zap.Int("results", len(postings)),
	)
	return postings, nil
}

// toRawPostings flattens the per-query result pages into postings, newest
// first as the provider ordered them, capped at limit (0 means no cap).
func toRawPostings(data [][]JobResult, limit int, now time.Time) []model.RawPosting {
	var out []model.RawPosting
	for _, page := range data {
		for _, job := range page {
			if limit > 0 && len(out) >= limit {
				return out
			}
			out = append(out, jobToRaw(job, now))
		}
	}
	return out
}

func jobToRaw(j JobResult, now time.Time) model.RawPosting {
	salary := j.Salary
	if salary == "" {
		salary = j.DetectedExtensions.Salary
	}
	return model.RawPosting{
		Title:       j.Title,
		Company:     j.CompanyName,
		Location:    j.Location,
		Description: j.Description,
		Salary:      salary,
		URL:         j.Link,
		Platform:    platformFromVia(j.Via),
		PostedAt:    parsePostedAt(j.DetectedExtensions.PostedAt, now),
	}
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

// parsePostedAt converts the provider's relative age ("3 days ago",
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
