package forward

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/rules"
)

// defaultBreakerTimeout is the open-state cool-off when a rule enables
// its breaker without a timeout.
const defaultBreakerTimeout = 30 * time.Second

// breakerRegistry lazily creates one circuit breaker per rule name.
// Breakers survive rule set reloads so accumulated failure counts are
// not reset by a config change.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   observability.Logger
	metrics  *observability.Metrics
}

func newBreakerRegistry(logger observability.Logger, metrics *observability.Metrics) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
		metrics:  metrics,
	}
}

// get returns the breaker for a rule, creating it on first use.
func (r *breakerRegistry) get(rule *rules.Rule) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[rule.Name]; ok {
		return cb
	}

	timeout := rule.Breaker.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	threshold := safeIntToUint32(rule.Breaker.Threshold)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        rule.Name,
		MaxRequests: threshold,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Info("circuit breaker state change",
				observability.String("rule", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if r.metrics != nil {
				r.metrics.ObserveBreakerTransition(name, from.String(), to.String())
			}
		},
	})

	r.breakers[rule.Name] = cb
	return cb
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
