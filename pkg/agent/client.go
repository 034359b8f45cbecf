// Package agent provides a client for insight agent query endpoints.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client queries an agent endpoint.
type Client interface {
	Query(ctx context.Context, endpoint string, req Request) (map[string]any, error)
}

// Request is the body of an agent query.
type Request struct {
	Message     string         `json:"message"`
	ThreadID    int            `json:"thread_id"`
	AgentConfig map[string]any `json:"agent_config,omitempty"`
}

// APIError is returned when an agent responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// ErrMalformedReply is returned when an agent reply is not a JSON object.
var ErrMalformedReply = eris.New("agent: reply is not a JSON object")

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithHeader adds a header sent on every query.
func WithHeader(key, value string) Option {
	return func(c *httpClient) {
		c.headers.Set(key, value)
	}
}

type httpClient struct {
	http    *http.Client
	headers http.Header
}

// NewClient creates an agent client. Per-call deadlines come from the
// caller's context, so the default transport has no overall timeout.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Query(ctx context.Context, endpoint string, body Request) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "agent: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "agent: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "agent: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "agent: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return nil, eris.Wrapf(ErrMalformedReply, "agent: decode %d bytes", len(data))
	}
	return out, nil
}
