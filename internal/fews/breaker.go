package fews

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// breakerCooldown is how long the breaker stays open before letting a trial request through.
const breakerCooldown = 30 * time.Second

// newBreaker returns a circuit breaker that opens after failures consecutive
// transient errors. Fatal errors count as successes so that a single bad
// request cannot stop an otherwise healthy API.
func newBreaker(failures int, cooldown time.Duration, log *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	if failures <= 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "fews-api",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsFatal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}
