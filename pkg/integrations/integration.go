package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Integration is the uniform surface the executor calls. IsMock lets
// audit records mark synthetic executions.
type Integration interface {
	Name() string
	Call(ctx context.Context, op string, args map[string]any) (map[string]any, error)
	IsMock() bool
}

// Registry resolves integrations by name for the executor.
type Registry struct {
	integrations map[string]Integration
}

// NewRegistry builds a registry from the given integrations.
func NewRegistry(integrations ...Integration) *Registry {
	r := &Registry{integrations: make(map[string]Integration, len(integrations))}
	for _, in := range integrations {
		r.integrations[in.Name()] = in
	}
	return r
}

// Get returns the named integration, or an error naming it.
func (r *Registry) Get(name string) (Integration, error) {
	in, ok := r.integrations[name]
	if !ok {
		return nil, fmt.Errorf("integration %q is not registered", name)
	}
	return in, nil
}

// Names lists registered integration names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.integrations))
	for name := range r.integrations {
		names = append(names, name)
	}
	return names
}

// restClient is a minimal JSON-over-HTTP helper shared by the REST
// adapters. Errors are classified into retryable/permanent per the
// harness policy: 429 and 5xx retry, other 4xx do not.
type restClient struct {
	integration string
	baseURL     string
	headers     map[string]string
	httpClient  *http.Client
}

func newRESTClient(integration, baseURL string, headers map[string]string) *restClient {
	return &restClient{
		integration: integration,
		baseURL:     baseURL,
		headers:     headers,
		httpClient:  &http.Client{}, // per-attempt deadlines come from ctx
	}
}

func (c *restClient) doJSON(ctx context.Context, op, method, path string, body any) (map[string]any, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &IntegrationError{Integration: c.integration, Op: op, Retryable: false, Err: err}
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &IntegrationError{Integration: c.integration, Op: op, Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network resets and timeouts are transient.
		return nil, &IntegrationError{Integration: c.integration, Op: op, Retryable: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		ie := &IntegrationError{
			Integration: c.integration,
			Op:          op,
			StatusCode:  resp.StatusCode,
			Retryable:   resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:         fmt.Errorf("%s %s returned %s", method, path, resp.Status),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				ie.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, ie
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Some APIs return empty bodies on success.
		out = map[string]any{}
	}
	return out, nil
}
