// Package importer seeds the posting store from exported spreadsheet
// files. Rows run through the same normalize, score and dedup stages a
// live run uses, so an imported posting is indistinguishable from a
// sourced one once stored. Files that carry classification columns
// (match level, route type) seed servable memory directly; files
// without them seed rows the next run will classify.
package importer

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/dedup"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/normalize"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/quality"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
)

// Store is the slice of the posting store the importer needs.
type Store interface {
	UpsertPostings(ctx context.Context, postings []model.JobPosting) (int64, error)
}

// Config carries the per-import knobs.
type Config struct {
	// Market the rows belong to. Must exist in the rules catalogue;
	// it keys storage and dedup identity.
	Market string
	// Platform stamped on rows whose file has no platform column.
	// Empty means "import".
	Platform string
	// Sheet selects an XLSX sheet by name. Empty means the first one.
	Sheet string
}

// Result summarizes one import.
type Result struct {
	Rows       int   // data rows read from the file
	Skipped    int   // rows missing both company and title
	Duplicates int   // rows collapsed by dedup
	Rejected   int   // rows rejected by the identity policy
	Upserted   int64 // rows written to the store
}

// Importer converts file rows into stored postings.
type Importer struct {
	store      Store
	rules      *rules.Ruleset
	normalizer *normalize.Normalizer
	scorer     *quality.Scorer
	dedup      *dedup.Deduplicator
}

// New builds an Importer. strictIdentity matches the sourcing setting:
// rows missing both company and title are rejected instead of stored.
func New(st Store, rs *rules.Ruleset, strictIdentity bool) *Importer {
	return &Importer{
		store:      st,
		rules:      rs,
		normalizer: normalize.New(rs),
		scorer:     quality.New(rs, quality.Weights{}),
		dedup:      dedup.New(strictIdentity),
	}
}

// ImportFile reads a CSV or XLSX export and stores its postings. The
// file type comes from the extension.
func (im *Importer) ImportFile(ctx context.Context, path string, cfg Config) (*Result, error) {
	if cfg.Market == "" {
		return nil, eris.New("importer: market is required")
	}
	location, ok := im.rules.SearchLocation(cfg.Market)
	if !ok {
		return nil, eris.Errorf("importer: unknown market %q", cfg.Market)
	}

	var (
		rowCh <-chan []string
		errCh <-chan error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		ch, ech, err := streamCSV(ctx, path)
		if err != nil {
			return nil, err
		}
		rowCh, errCh = ch, ech
	case ".xlsx":
		rowCh, errCh = streamXLSX(ctx, path, cfg.Sheet)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", ext)
	}

	res := &Result{}
	var cols columns
	var postings []model.JobPosting
	now := time.Now().UTC()

	for row := range rowCh {
		if cols == nil {
			m, err := mapHeader(row)
			if err != nil {
				drain(rowCh)
				return nil, err
			}
			cols = m
			continue
		}
		res.Rows++
		p, ok := cols.posting(row, cfg, location, now)
		if !ok {
			res.Skipped++
			continue
		}
		postings = append(postings, p)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if cols == nil {
		return nil, eris.New("importer: file has no header row")
	}

	return im.seed(ctx, postings, res, cfg, location)
}

// seed walks imported postings through the sourcing stages and stores
// the survivors.
func (im *Importer) seed(ctx context.Context, postings []model.JobPosting, res *Result, cfg Config, location string) (*Result, error) {
	for i := range postings {
		im.normalizer.Apply(&postings[i], location)
		im.scorer.Apply(&postings[i])
	}

	out := im.dedup.Dedupe(postings)
	res.Duplicates = len(out.Duplicates)
	res.Rejected = len(out.Rejected)

	n, err := im.store.UpsertPostings(ctx, out.Survivors)
	if err != nil {
		return nil, eris.Wrap(err, "importer: upsert postings")
	}
	res.Upserted = n

	zap.L().Info("importer: file imported",
		zap.String("market", cfg.Market),
		zap.Int("rows", res.Rows),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("rejected", res.Rejected),
		zap.Int64("upserted", res.Upserted),
	)
	return res, nil
}

// columns maps field names to header positions.
type columns map[string]int

// headerAliases lists the header spellings each field accepts,
// checked in order. Exporters disagree on almost every name.
var headerAliases = map[string][]string{
	"title":       {"title", "job title", "job_title", "position"},
	"company":     {"company", "company name", "company_name", "employer"},
	"location":    {"location", "city", "job location", "job_location"},
	"description": {"description", "job description", "job_description", "snippet"},
	"salary":      {"salary", "pay", "compensation", "salary_formatted"},
	"url":         {"url", "link", "job url", "job_url", "apply url", "apply_url"},
	"platform":    {"platform", "source", "site"},
	"posted_at":   {"posted_at", "posted at", "date posted", "posted"},
	"match":       {"match", "match_level", "match quality", "match_quality"},
	"route":       {"route", "route_type", "route type"},
	"summary":     {"summary", "ai_summary", "ai summary"},
	"fair_chance": {"fair_chance", "fair chance"},
}

// mapHeader resolves column positions. Title and company columns are
// required; everything else is optional.
func mapHeader(header []string) (columns, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	cols := columns{}
	for field, aliases := range headerAliases {
		for _, alias := range aliases {
			for i, h := range normalized {
				if h == alias {
					cols[field] = i
					break
				}
			}
			if _, ok := cols[field]; ok {
				break
			}
		}
	}

	var missing []string
	for _, required := range []string{"title", "company"} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("importer: header is missing %s column(s)", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columns) get(row []string, field string) string {
	idx, ok := c[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// posting builds a run-shaped posting from one row. Rows with neither
// title nor company are unusable and reported false.
func (c columns) posting(row []string, cfg Config, location string, now time.Time) (model.JobPosting, bool) {
	title := c.get(row, "title")
	company := c.get(row, "company")
	if title == "" && company == "" {
		return model.JobPosting{}, false
	}

	platform := c.get(row, "platform")
	if platform == "" {
		platform = cfg.Platform
	}
	if platform == "" {
		platform = "import"
	}

	p := model.JobPosting{
		ID:             uuid.NewString(),
		Market:         cfg.Market,
		Source:         model.SourceImport,
		RawTitle:       title,
		RawCompany:     company,
		RawLocation:    c.get(row, "location"),
		RawDescription: c.get(row, "description"),
		RawSalary:      c.get(row, "salary"),
		SourceURL:      c.get(row, "url"),
		SourcePlatform: platform,
		PostedAt:       parseDate(c.get(row, "posted_at")),
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}

	// A row that names its match level seeds servable memory. Unknown
	// or absent levels stay unclassified so the next run classifies
	// them instead of trusting a blank.
	if raw := c.get(row, "match"); raw != "" {
		if level := model.ParseMatchLevel(raw); level != model.MatchUnknown {
			p.MatchLevel = level
			p.RouteType = model.ParseRouteType(c.get(row, "route"))
			p.Summary = c.get(row, "summary")
			p.FairChance = parseBool(c.get(row, "fair_chance"))
			p.ClassifiedAt = now
		}
	}
	return p, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true
	}
	return false
}

// drain unblocks the producer goroutine after an early exit.
func drain(rowCh <-chan []string) {
	for range rowCh {
	}
}
