// Package ingest decides where each market's postings come from and
// collects them. The memory store is consulted first; paid provider
// calls are issued only when the strategy says cached rows cannot
// satisfy the request.
package ingest

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Mode selects the sourcing strategy.
type Mode string

const (
	// ModeMemoryFirst bypasses providers when memory covers the configured
	// fraction of the request.
	ModeMemoryFirst Mode = "memory_first"
	// ModeAlwaysFresh always issues provider calls and merges memory in.
	ModeAlwaysFresh Mode = "always_fresh"
	// ModeBalanced bypasses providers only when memory fully covers the
	// request.
	ModeBalanced Mode = "balanced"
)

// ParseMode validates a configuration string. Empty input falls back to
// ModeMemoryFirst, the cheapest strategy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMemoryFirst:
		return ModeMemoryFirst, nil
	case ModeAlwaysFresh:
		return ModeAlwaysFresh, nil
	case ModeBalanced:
		return ModeBalanced, nil
	case "":
		return ModeMemoryFirst, nil
	}
	return "", eris.Errorf("ingest: unknown strategy mode %q", s)
}

// Decision says where a market's postings come from.
type Decision int

const (
	// UseMemory satisfies the request from the memory store alone. No
	// provider call is issued.
	UseMemory Decision = iota
	// UseFresh issues provider calls with no memory rows worth merging.
	UseFresh
	// UseBlend issues provider calls and merges memory rows in, memory
	// winning on identity collisions.
	UseBlend
)

func (d Decision) String() string {
	switch d {
	case UseMemory:
		return "use_memory"
	case UseFresh:
		return "use_fresh"
	case UseBlend:
		return "use_blend"
	}
	return "unknown"
}

// Fresh reports whether the decision issues provider calls.
func (d Decision) Fresh() bool {
	return d == UseFresh || d == UseBlend
}

// Decide is the bypass decision table. memoryCount counts acceptable
// memory rows, want is the requested posting count, and bypassFraction is
// the memory coverage that makes a paid call unnecessary under
// ModeMemoryFirst. The memoryOnly flag always wins: no provider call is
// issued even when memory came up empty.
func Decide(mode Mode, memoryOnly bool, memoryCount, want int, bypassFraction float64) Decision {
	if memoryOnly {
		return UseMemory
	}

	blend := UseBlend
	if memoryCount == 0 {
		blend = UseFresh
	}

	switch mode {
	case ModeAlwaysFresh:
		return blend
	case ModeBalanced:
		if want > 0 && memoryCount >= want {
			return UseMemory
		}
		return blend
	default: // ModeMemoryFirst
		threshold := bypassThreshold(want, bypassFraction)
		if threshold > 0 && memoryCount >= threshold {
			return UseMemory
		}
		return blend
	}
}

// bypassThreshold is the memory row count that satisfies a request for
// want postings. Fractions round up, so 0.75 of 10 requested needs 8
// rows, not 7. A zero threshold disables bypassing entirely.
func bypassThreshold(want int, fraction float64) int {
	if want <= 0 || fraction <= 0 {
		return 0
	}
	return int(math.Ceil(fraction * float64(want)))
}
