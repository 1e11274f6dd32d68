package integrations

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Harness defaults per the retry and breaker policy.
const (
	DefaultCallTimeout      = 10 * time.Second
	DefaultMaxAttempts      = 3
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
)

// HarnessConfig tunes the three wrapper layers.
type HarnessConfig struct {
	CallTimeout      time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BreakerThreshold uint32
	BreakerReset     time.Duration
}

// DefaultHarnessConfig returns the stock wrapper settings.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		CallTimeout:      DefaultCallTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		BackoffBase:      DefaultBackoffBase,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerReset:     DefaultBreakerReset,
	}
}

// CallFunc is one outbound attempt, already scoped to a deadline.
type CallFunc func(ctx context.Context) (map[string]any, error)

// Harness applies timeout, retry with jittered exponential backoff,
// and a per-integration circuit breaker to outbound calls. The breaker
// map is process-wide and shared by all workers.
type Harness struct {
	cfg    HarnessConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHarness creates a harness with the given config; zero fields fall
// back to defaults.
func NewHarness(cfg HarnessConfig) *Harness {
	def := DefaultHarnessConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = def.BreakerReset
	}
	return &Harness{
		cfg:      cfg,
		logger:   slog.Default().With("component", "integration-harness"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker returns the circuit breaker for one integration, creating it
// on first use. Half-open admits exactly one probe.
func (h *Harness) breaker(integration string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if br, ok := h.breakers[integration]; ok {
		return br
	}
	threshold := h.cfg.BreakerThreshold
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        integration,
		MaxRequests: 1,
		Timeout:     h.cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("Circuit breaker state change",
				"integration", name, "from", from.String(), "to", to.String())
		},
	})
	h.breakers[integration] = br
	return br
}

// Do runs fn through all three layers: per-attempt timeout, retry on
// retryable errors, breaker accounting. timeout == 0 uses the harness
// default. Only retryable failures trip the breaker; a permanent 4xx
// passes through without counting against the circuit.
func (h *Harness) Do(ctx context.Context, integration, op string, timeout time.Duration, fn CallFunc) (map[string]any, error) {
	if timeout <= 0 {
		timeout = h.cfg.CallTimeout
	}
	br := h.breaker(integration)

	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		var permanent error

		result, err := br.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res, callErr := fn(attemptCtx)
			if callErr == nil {
				return res, nil
			}
			if ie, ok := AsIntegrationError(callErr); ok && !ie.Retryable {
				// Permanent failures don't count against the
				// circuit; carry them out-of-band.
				permanent = callErr
				return nil, nil
			}
			return nil, callErr
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &IntegrationError{
				Integration: integration, Op: op, Retryable: false,
				Err: ErrBreakerOpen,
			}
		}
		if permanent != nil {
			return nil, permanent
		}
		if err == nil {
			res, _ := result.(map[string]any)
			return res, nil
		}

		lastErr = err
		if attempt == h.cfg.MaxAttempts {
			break
		}
		wait := h.backoff(attempt, err)
		h.logger.Warn("Retryable integration failure, backing off",
			"integration", integration, "op", op, "attempt", attempt,
			"wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, &IntegrationError{
				Integration: integration, Op: op, Retryable: false, Err: ctx.Err(),
			}
		case <-time.After(wait):
		}
	}

	if _, ok := AsIntegrationError(lastErr); ok {
		return nil, lastErr
	}
	return nil, &IntegrationError{Integration: integration, Op: op, Retryable: true, Err: lastErr}
}

// backoff computes the jittered exponential wait, honoring a
// Retry-After hint when the error carries one.
func (h *Harness) backoff(attempt int, err error) time.Duration {
	if ie, ok := AsIntegrationError(err); ok && ie.RetryAfter > 0 {
		return ie.RetryAfter
	}
	base := h.cfg.BackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// BreakerState reports the named breaker's current state, for health
// output. Unknown integrations read as closed.
func (h *Harness) BreakerState(integration string) string {
	h.mu.Lock()
	br, ok := h.breakers[integration]
	h.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return br.State().String()
}
