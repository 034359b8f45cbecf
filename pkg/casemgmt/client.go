// Package casemgmt forwards enrichment results to the downstream case
// management system.
package casemgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// Client forwards case results.
type Client interface {
	Forward(ctx context.Context, p Payload) (*Response, error)
}

// Payload is the body posted downstream. ParsedData and TxID are sent on the
// first submission of a case only.
type Payload struct {
	CaseID     string             `json:"case_id"`
	TxID       string             `json:"tx_id,omitempty"`
	ParsedData model.Tree         `json:"parsed_data,omitempty"`
	Insights   model.AgentResults `json:"insights"`
	Update     bool               `json:"update"`
}

// Response is the downstream reply.
type Response struct {
	StatusCode int            `json:"status_code"`
	Body       map[string]any `json:"response,omitempty"`
}

// APIError is returned when the endpoint responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("casemgmt: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBasicAuth authenticates every request.
func WithBasicAuth(username, password string) Option {
	return func(c *httpClient) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	url      string
	username string
	password string
	http     *http.Client
}

// NewClient creates a client posting to url.
func NewClient(url string, opts ...Option) Client {
	c := &httpClient{
		url:  url,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Forward(ctx context.Context, p Payload) (*Response, error) {
	if p.Insights == nil {
		p.Insights = model.AgentResults{}
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "casemgmt: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "casemgmt: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "casemgmt: forward %s", p.CaseID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "casemgmt: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	out := &Response{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Body); err != nil {
			return nil, eris.Wrap(err, "casemgmt: decode response")
		}
	}
	return out, nil
}
