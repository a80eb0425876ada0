package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errProvider = errors.New("provider unavailable")

// testBreaker returns a breaker on a fake clock. Advance the clock by
// updating the returned time pointer.
func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func failNTimes(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Run(context.Background(), func(_ context.Context) error {
			return errProvider
		})
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{TripThreshold: 3, Cooldown: time.Minute})

	failNTimes(b, 2)
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("expected closed after 2 failures, got %v", got)
	}

	failNTimes(b, 1)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %v", got)
	}

	var calls int
	err := b.Run(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("open breaker must not invoke the call, got %d invocations", calls)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{TripThreshold: 3, Cooldown: time.Minute})

	failNTimes(b, 2)
	_ = b.Run(context.Background(), func(_ context.Context) error { return nil })
	failNTimes(b, 2)

	if got := b.State(); got != BreakerClosed {
		t.Errorf("expected closed (success resets the streak), got %v", got)
	}
}

func TestBreaker_CountsFilter(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{
		TripThreshold: 2,
		Cooldown:      time.Minute,
		Counts:        IsTransient,
	})

	for i := 0; i < 5; i++ {
		_ = b.Run(context.Background(), func(_ context.Context) error {
			return errors.New("invalid query")
		})
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("non-counted errors must not trip the breaker, got %v", got)
	}

	for i := 0; i < 2; i++ {
		_ = b.Run(context.Background(), func(_ context.Context) error {
			return NewTransientError(errProvider, 503)
		})
	}
	if got := b.State(); got != BreakerOpen {
		t.Errorf("expected open after counted failures, got %v", got)
	}
}

func TestBreaker_ProbeClosesOnSuccess(t *testing.T) {
	b, clock := testBreaker(BreakerConfig{TripThreshold: 1, Cooldown: time.Minute})

	failNTimes(b, 1)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("expected open, got %v", got)
	}

	*clock = clock.Add(time.Minute)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %v", got)
	}

	err := b.Run(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", got)
	}
}

func TestBreaker_ProbeReopensOnFailure(t *testing.T) {
	b, clock := testBreaker(BreakerConfig{TripThreshold: 1, Cooldown: time.Minute})

	failNTimes(b, 1)
	*clock = clock.Add(time.Minute)
	failNTimes(b, 1)

	if got := b.State(); got != BreakerOpen {
		t.Fatalf("expected reopened after failed probe, got %v", got)
	}

	err := b.Run(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen during renewed cooldown, got %v", err)
	}
}

func TestBreaker_ProbeQuota(t *testing.T) {
	b, clock := testBreaker(BreakerConfig{TripThreshold: 1, Cooldown: time.Minute, ProbeQuota: 2})

	failNTimes(b, 1)
	*clock = clock.Add(time.Minute)

	_ = b.Run(context.Background(), func(_ context.Context) error { return nil })
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("expected half-open after first probe win, got %v", got)
	}

	_ = b.Run(context.Background(), func(_ context.Context) error { return nil })
	if got := b.State(); got != BreakerClosed {
		t.Errorf("expected closed after second probe win, got %v", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{TripThreshold: 1, Cooldown: time.Hour})

	failNTimes(b, 1)
	b.Reset()

	if got := b.State(); got != BreakerClosed {
		t.Fatalf("expected closed after reset, got %v", got)
	}
	err := b.Run(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Errorf("expected call to pass after reset, got %v", err)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b, clock := testBreaker(BreakerConfig{
		TripThreshold: 1,
		Cooldown:      time.Minute,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	failNTimes(b, 1)
	*clock = clock.Add(time.Minute)
	_ = b.Run(context.Background(), func(_ context.Context) error { return nil })

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestRunVal_ReturnsValue(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{TripThreshold: 3, Cooldown: time.Minute})

	val, err := RunVal(context.Background(), b, func(_ context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(val) != 2 {
		t.Errorf("expected 2 items, got %v", val)
	}

	failNTimes(b, 3)
	val, err = RunVal(context.Background(), b, func(_ context.Context) ([]string, error) {
		return []string{"c"}, nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
	if val != nil {
		t.Errorf("expected zero value when rejected, got %v", val)
	}
}

func TestBreakerSet_SameInstancePerName(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{TripThreshold: 1, Cooldown: time.Minute})

	a1 := set.Get("outscraper")
	a2 := set.Get("outscraper")
	if a1 != a2 {
		t.Fatal("expected the same breaker instance for the same name")
	}
	if set.Get("serp") == a1 {
		t.Fatal("expected distinct breakers per provider")
	}

	failNTimes(a1, 1)
	states := set.States()
	if states["outscraper"] != BreakerOpen {
		t.Errorf("expected outscraper open, got %v", states["outscraper"])
	}
	if states["serp"] != BreakerClosed {
		t.Errorf("expected serp closed, got %v", states["serp"])
	}
}
