// Package integrations wraps every outbound API call in a uniform
// timeout + retry + circuit-breaker harness, and provides the adapter
// implementations for chat, ticketing, paging, firewall, identity, and
// the container orchestrator. Adapters run in mock mode per call when
// their credentials are absent.
package integrations

import (
	"errors"
	"fmt"
	"time"
)

// IntegrationError is the uniform failure shape for outbound calls.
// The retry policy consults Retryable; the breaker counts only
// retryable failures.
type IntegrationError struct {
	Integration string
	Op          string
	StatusCode  int
	Retryable   bool
	RetryAfter  time.Duration // from a Retry-After header, 0 if absent
	Err         error
}

func (e *IntegrationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("integration %s/%s: status %d: %v", e.Integration, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("integration %s/%s: %v", e.Integration, e.Op, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// AsIntegrationError extracts an IntegrationError if err carries one.
func AsIntegrationError(err error) (*IntegrationError, bool) {
	var ie *IntegrationError
	ok := errors.As(err, &ie)
	return ie, ok
}

// ErrBreakerOpen is wrapped into the IntegrationError returned on a
// fast-fail while the circuit is open.
var ErrBreakerOpen = errors.New("circuit breaker open")
