package breakers

import (
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// ErrOpen is returned by Execute while the breaker rejects calls
var ErrOpen = cb.ErrOpenState

// Settings tunes a breaker; zero values fall back to defaults
type Settings struct {
	// Interval is the closed-state window after which counts reset
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker immediately
	ConsecutiveFailures uint32
	// MinRequests before the failure ratio is considered
	MinRequests uint32
	FailureRatio float64
}

// DefaultSettings trips after 3 straight failures or >5% failures over 20 requests
func DefaultSettings() Settings {
	return Settings{
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
	}
}

type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string, s Settings) *Breaker {
	def := DefaultSettings()
	if s.Interval <= 0 {
		s.Interval = def.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if s.MinRequests == 0 {
		s.MinRequests = def.MinRequests
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = def.FailureRatio
	}

	st := cb.Settings{Name: name}
	st.Interval = s.Interval
	st.Timeout = s.Timeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		total := counts.Requests
		if total < s.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > s.FailureRatio
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State returns "closed", "half-open" or "open"
func (b *Breaker) State() string { return b.cb.State().String() }
