package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the current mode of a Breaker.
type BreakerState int

const (
	// BreakerClosed passes calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned when a call is rejected without being tried.
var ErrBreakerOpen = eris.New("resilience: breaker is open")

// BreakerConfig controls when a Breaker trips and recovers.
type BreakerConfig struct {
	// TripThreshold is the consecutive-failure count that opens the
	// breaker. Default 5.
	TripThreshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// ProbeQuota is the successful probe count that closes a half-open
	// breaker. Default 1.
	ProbeQuota int

	// Counts overrides which errors count as failures. Nil counts all.
	Counts func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig returns the breaker settings used for provider calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		TripThreshold: 5,
		Cooldown:      30 * time.Second,
		ProbeQuota:    1,
	}
}

// FromBreakerSettings builds a BreakerConfig from flat config values.
func FromBreakerSettings(tripThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if tripThreshold > 0 {
		cfg.TripThreshold = tripThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// Breaker is a circuit breaker guarding one provider. Consecutive failures
// open it; after the cooldown a probe call decides whether it closes again.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	probeWins   int
	lastFailure time.Time

	now func() time.Time
}

// NewBreaker creates a Breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = def.TripThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = def.ProbeQuota
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// Run executes fn through the breaker, returning ErrBreakerOpen when the
// breaker rejects the call.
func (b *Breaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.gate(); err != nil {
		return err
	}
	err := fn(ctx)
	b.observe(err)
	return err
}

// RunVal is Run for calls that return a value.
func RunVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.gate(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.observe(err)
	return val, err
}

// State returns the effective state, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.shift(BreakerClosed)
	}
	b.failures = 0
	b.probeWins = 0
}

func (b *Breaker) gate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.shift(BreakerHalfOpen)
	}
	return nil
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := b.cfg.Counts
	if counts == nil {
		counts = func(e error) bool { return e != nil }
	}

	if err == nil || !counts(err) {
		switch b.state {
		case BreakerHalfOpen:
			b.probeWins++
			if b.probeWins >= b.cfg.ProbeQuota {
				b.shift(BreakerClosed)
				b.failures = 0
				b.probeWins = 0
			}
		case BreakerClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.TripThreshold {
			b.shift(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.shift(BreakerOpen)
		b.probeWins = 0
	}
}

func (b *Breaker) shift(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// BreakerSet hands out one Breaker per provider name.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakerSet creates a registry of per-provider breakers.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for name, creating it on first use.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[name]; ok {
		return b
	}
	b = NewBreaker(s.cfg)
	s.breakers[name] = b
	return b
}

// States snapshots every breaker's effective state.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BreakerState, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
