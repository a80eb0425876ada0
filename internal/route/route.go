// Package route assigns each classified posting its final disposition
// and puts the survivors in delivery order. Routing is the last stage
// that touches a posting; after it, every exclusion is attributable to
// a final status.
package route

import (
	"sort"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// FilterConfig carries the per-run inclusion filters.
type FilterConfig struct {
	// MatchLevels a posting may carry and still be delivered. Empty
	// means good and so-so. Unknown is never deliverable.
	MatchLevels []model.MatchLevel
	// RouteTypes a posting may carry and still be delivered. Empty
	// means all route types, Unknown included.
	RouteTypes []model.RouteType
	// FairChanceOnly drops postings that do not state fair-chance
	// hiring.
	FairChanceOnly bool
	// MaxJobs truncates the delivered slice after sorting. Zero means
	// no cap.
	MaxJobs int
}

// Outcome is the routed set.
type Outcome struct {
	// All holds every input posting with FinalStatus and SortPriority
	// assigned, in display order: included postings by ascending
	// priority, then the excluded ones.
	All []model.JobPosting
	// Delivered is the included slice after the MaxJobs cap.
	Delivered []model.JobPosting
	Included  int
	Excluded  int
	// Capped counts included postings dropped by MaxJobs.
	Capped int
}

// Apply routes postings. The input order only matters for tie-breaks:
// the sort is stable, so equal-priority postings keep their relative
// order.
func Apply(postings []model.JobPosting, cfg FilterConfig) Outcome {
	matchSet := matchLevelSet(cfg.MatchLevels)
	routeSet := routeTypeSet(cfg.RouteTypes)

	out := Outcome{All: make([]model.JobPosting, len(postings))}
	copy(out.All, postings)

	for i := range out.All {
		p := &out.All[i]
		p.SortPriority = sortPriority(*p)
		if include(*p, matchSet, routeSet, cfg.FairChanceOnly) {
			p.FinalStatus = includedStatus(p.RouteType)
			out.Included++
		} else {
			p.FinalStatus = model.StatusExcludedClassification
			out.Excluded++
		}
	}

	sort.SliceStable(out.All, func(i, j int) bool {
		a, b := out.All[i], out.All[j]
		if a.FinalStatus.Included() != b.FinalStatus.Included() {
			return a.FinalStatus.Included()
		}
		return a.SortPriority < b.SortPriority
	})

	delivered := out.All[:out.Included]
	if cfg.MaxJobs > 0 && len(delivered) > cfg.MaxJobs {
		out.Capped = len(delivered) - cfg.MaxJobs
		delivered = delivered[:cfg.MaxJobs]
	}
	out.Delivered = delivered
	return out
}

func include(p model.JobPosting, matchSet map[model.MatchLevel]bool, routeSet map[model.RouteType]bool, fairChanceOnly bool) bool {
	if p.MatchLevel == "" || p.MatchLevel == model.MatchUnknown {
		return false
	}
	if !matchSet[p.MatchLevel] {
		return false
	}
	if !routeSet[p.RouteType] {
		return false
	}
	if fairChanceOnly && !p.FairChance {
		return false
	}
	return true
}

func includedStatus(rt model.RouteType) model.FinalStatus {
	switch rt {
	case model.RouteLocal:
		return model.StatusIncludedLocal
	case model.RouteOTR, model.RouteRegional:
		return model.StatusIncludedOTR
	}
	return model.StatusIncludedOther
}

// sortPriority is the combined sort key, ascending = delivered first.
// Route tier dominates: any local posting beats any over-the-road
// posting regardless of match quality.
func sortPriority(p model.JobPosting) int {
	return routeTier(p.RouteType)*10 + qualityTier(p)
}

func routeTier(rt model.RouteType) int {
	switch rt {
	case model.RouteLocal:
		return 0
	case model.RouteOTR, model.RouteRegional:
		return 1
	}
	return 2
}

func qualityTier(p model.JobPosting) int {
	switch {
	case p.MatchLevel == model.MatchGood && p.FairChance:
		return 1
	case p.MatchLevel == model.MatchGood:
		return 2
	case p.MatchLevel == model.MatchSoSo && p.FairChance:
		return 3
	case p.MatchLevel == model.MatchSoSo:
		return 4
	}
	return 5
}

func matchLevelSet(levels []model.MatchLevel) map[model.MatchLevel]bool {
	if len(levels) == 0 {
		return map[model.MatchLevel]bool{
			model.MatchGood: true,
			model.MatchSoSo: true,
		}
	}
	set := make(map[model.MatchLevel]bool, len(levels))
	for _, l := range levels {
		set[l] = true
	}
	return set
}

func routeTypeSet(types []model.RouteType) map[model.RouteType]bool {
	if len(types) == 0 {
		return map[model.RouteType]bool{
			model.RouteLocal:    true,
			model.RouteRegional: true,
			model.RouteOTR:      true,
			model.RouteUnknown:  true,
		}
	}
	set := make(map[model.RouteType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
