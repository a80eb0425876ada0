package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mode
		wantErr bool
	}{
		{name: "memory first", input: "memory_first", want: ModeMemoryFirst},
		{name: "always fresh", input: "always_fresh", want: ModeAlwaysFresh},
		{name: "balanced", input: "balanced", want: ModeBalanced},
		{name: "mixed case and whitespace", input: "  Always_Fresh ", want: ModeAlwaysFresh},
		{name: "empty defaults to memory first", input: "", want: ModeMemoryFirst},
		{name: "unknown mode", input: "cheapest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown strategy mode")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		mode        Mode
		memoryOnly  bool
		memoryCount int
		want        int
		fraction    float64
		expect      Decision
	}{
		{
			name:       "memory only wins even with empty memory",
			mode:       ModeAlwaysFresh,
			memoryOnly: true,
			expect:     UseMemory,
		},
		{
			name:        "memory first bypasses at coverage fraction",
			mode:        ModeMemoryFirst,
			memoryCount: 80,
			want:        100,
			fraction:    0.75,
			expect:      UseMemory,
		},
		{
			name:        "memory first exactly at threshold",
			mode:        ModeMemoryFirst,
			memoryCount: 75,
			want:        100,
			fraction:    0.75,
			expect:      UseMemory,
		},
		{
			name:        "memory first one row short blends",
			mode:        ModeMemoryFirst,
			memoryCount: 74,
			want:        100,
			fraction:    0.75,
			expect:      UseBlend,
		},
		{
			name:        "fractional threshold rounds up",
			mode:        ModeMemoryFirst,
			memoryCount: 3,
			want:        4,
			fraction:    0.75,
			expect:      UseMemory,
		},
		{
			name:        "below rounded up threshold blends",
			mode:        ModeMemoryFirst,
			memoryCount: 2,
			want:        4,
			fraction:    0.75,
			expect:      UseBlend,
		},
		{
			name:        "zero fraction disables bypass",
			mode:        ModeMemoryFirst,
			memoryCount: 500,
			want:        10,
			fraction:    0,
			expect:      UseBlend,
		},
		{
			name:     "memory first with empty memory goes fresh",
			mode:     ModeMemoryFirst,
			want:     100,
			fraction: 0.75,
			expect:   UseFresh,
		},
		{
			name:        "always fresh blends memory in",
			mode:        ModeAlwaysFresh,
			memoryCount: 100,
			want:        10,
			fraction:    0.75,
			expect:      UseBlend,
		},
		{
			name:     "always fresh with empty memory",
			mode:     ModeAlwaysFresh,
			want:     10,
			fraction: 0.75,
			expect:   UseFresh,
		},
		{
			name:        "balanced bypasses only on full coverage",
			mode:        ModeBalanced,
			memoryCount: 10,
			want:        10,
			expect:      UseMemory,
		},
		{
			name:        "balanced blends on partial coverage",
			mode:        ModeBalanced,
			memoryCount: 9,
			want:        10,
			expect:      UseBlend,
		},
		{
			name:   "balanced with empty memory goes fresh",
			mode:   ModeBalanced,
			want:   10,
			expect: UseFresh,
		},
		{
			name:        "balanced with zero want blends",
			mode:        ModeBalanced,
			memoryCount: 5,
			expect:      UseBlend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.mode, tt.memoryOnly, tt.memoryCount, tt.want, tt.fraction)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "use_memory", UseMemory.String())
	assert.Equal(t, "use_fresh", UseFresh.String())
	assert.Equal(t, "use_blend", UseBlend.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

func TestDecisionFresh(t *testing.T) {
	assert.False(t, UseMemory.Fresh())
	assert.True(t, UseFresh.Fresh())
	assert.True(t, UseBlend.Fresh())
}

func TestBypassThreshold(t *testing.T) {
	tests := []struct {
		want     int
		fraction float64
		expect   int
	}{
		{want: 100, fraction: 0.75, expect: 75},
		{want: 4, fraction: 0.75, expect: 3},
		{want: 3, fraction: 0.5, expect: 2},
		{want: 10, fraction: 1.0, expect: 10},
		{want: 0, fraction: 0.75, expect: 0},
		{want: 10, fraction: 0, expect: 0},
		{want: -5, fraction: 0.75, expect: 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, bypassThreshold(tt.want, tt.fraction))
	}
}
