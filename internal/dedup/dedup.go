// Package dedup collapses postings that describe the same job. Two rounds
// run in order: round one groups on company, title and market, round two on
// company and location. Within a group the highest-quality posting wins and
// the rest are excluded as duplicates.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// Outcome describes one Dedupe pass.
type Outcome struct {
	Survivors  []model.JobPosting
	Duplicates []model.JobPosting
	Rejected   []model.JobPosting
	R1Groups   int
	R2Groups   int
}

// Deduplicator holds the identity policy for records missing both company
// and title. Strict mode rejects them outright; lenient mode passes them
// through ungrouped so they can never collapse into one another.
type Deduplicator struct {
	strict bool
}

// New builds a Deduplicator. strictIdentity controls how postings missing
// both company and title are handled.
func New(strictIdentity bool) *Deduplicator {
	return &Deduplicator{strict: strictIdentity}
}

// AssignKeys computes and stores both dedup keys on the posting. Postings
// missing both company and title get an ID-derived round-one key so they
// stay distinct in storage instead of all landing on one degenerate hash.
func AssignKeys(p *model.JobPosting) {
	if p.HasIdentity() {
		p.DedupKeyR1 = KeyR1(p.Company, p.Title, p.Market)
	} else {
		p.DedupKeyR1 = hashKey("posting", p.ID)
	}
	p.DedupKeyR2 = KeyR2(p.Company, p.Location)
}

// KeyR1 is the round-one identity: company, canonicalized title, market.
func KeyR1(company, title, market string) string {
	return hashKey(strings.ToLower(company), CanonicalTitle(title), strings.ToLower(market))
}

// KeyR2 is the round-two identity: company and location.
func KeyR2(company, location string) string {
	return hashKey(strings.ToLower(company), strings.ToLower(location))
}

// CanonicalTitle folds a title for matching: lowercase, punctuation to
// spaces, and licence-class noise removed so "CDL Driver", "CDL-A Driver"
// and "Class A CDL Driver" all collapse to the same key.
func CanonicalTitle(title string) string {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, title)

	tokens := strings.Fields(folded)
	kept := tokens[:0]
	for _, tok := range tokens {
		if len(tok) == 1 || tok == "class" {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Dedupe runs both rounds over the postings. Input order breaks remaining
// ties, so a second pass over the survivors is a no-op.
func (d *Deduplicator) Dedupe(postings []model.JobPosting) Outcome {
	var out Outcome

	pool := make([]model.JobPosting, 0, len(postings))
	for _, p := range postings {
		AssignKeys(&p)
		if !p.HasIdentity() {
			p.QualityRecommendations = appendUnique(p.QualityRecommendations, "missing company and title")
			if d.strict {
				p.FinalStatus = model.StatusExcludedQuality
				out.Rejected = append(out.Rejected, p)
			} else {
				out.Survivors = append(out.Survivors, p)
			}
			continue
		}
		pool = append(pool, p)
	}

	// Round one: company + title + market.
	survivors, dupes, groups := collapse(pool, func(p *model.JobPosting) string {
		return p.DedupKeyR1
	})
	out.R1Groups = groups
	out.Duplicates = append(out.Duplicates, dupes...)

	// Round two: company + location. Postings missing either side skip
	// grouping rather than matching each other on the empty value.
	survivors, dupes, groups = collapse(survivors, func(p *model.JobPosting) string {
		if strings.TrimSpace(p.Company) == "" || strings.TrimSpace(p.Location) == "" {
			return ""
		}
		return p.DedupKeyR2
	})
	out.R2Groups = groups
	out.Duplicates = append(out.Duplicates, dupes...)
	out.Survivors = append(out.Survivors, survivors...)

	if len(out.Duplicates) > 0 || len(out.Rejected) > 0 {
		zap.L().Debug("dedup: collapsed postings",
			zap.Int("in", len(postings)),
			zap.Int("survivors", len(out.Survivors)),
			zap.Int("duplicates", len(out.Duplicates)),
			zap.Int("rejected", len(out.Rejected)),
		)
	}
	return out
}

// collapse groups postings by key and keeps the best of each group. An
// empty key opts the posting out of grouping. Returns survivors in input
// order, losers marked excluded_duplicate, and the number of multi-member
// groups.
func collapse(postings []model.JobPosting, keyFn func(*model.JobPosting) string) ([]model.JobPosting, []model.JobPosting, int) {
	winner := make(map[string]int, len(postings))
	loser := make([]bool, len(postings))
	grouped := make(map[string]bool)

	for i := range postings {
		key := keyFn(&postings[i])
		if key == "" {
			continue
		}
		w, seen := winner[key]
		if !seen {
			winner[key] = i
			continue
		}
		grouped[key] = true
		if beats(&postings[i], &postings[w]) {
			loser[w] = true
			winner[key] = i
		} else {
			loser[i] = true
		}
	}

	survivors := make([]model.JobPosting, 0, len(postings))
	var dupes []model.JobPosting
	for i := range postings {
		if loser[i] {
			p := postings[i]
			p.FinalStatus = model.StatusExcludedDuplicate
			dupes = append(dupes, p)
			continue
		}
		survivors = append(survivors, postings[i])
	}
	return survivors, dupes, len(grouped)
}

// beats reports whether a should replace b as group winner: higher quality
// score first, then the more recent posting date. Equal on both keeps b,
// so earlier input order wins.
func beats(a, b *model.JobPosting) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	return a.PostedAt.After(b.PostedAt)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
