// Package smartdata provides a client for the upstream submission extraction
// API: authentication, job status, and per-section data packages.
package smartdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api-smartdata.di-beta.boldpenguin.com"
	defaultAuthURL = "https://boldpenguin-auth-uat.beta.boldpenguin.com/auth/token"
)

// Client defines the extraction API operations.
type Client interface {
	// Token exchanges client credentials for a bearer token.
	Token(ctx context.Context) (string, error)
	// Trigger starts processing of an uploaded submission.
	Trigger(ctx context.Context, token, txID string) (map[string]any, error)
	// Status returns the current job status.
	Status(ctx context.Context, token, txID string) (*Status, error)
	// StatusDetails returns the verbose status document for a job.
	StatusDetails(ctx context.Context, token, txID string) (map[string]any, error)
	// FetchSection returns the raw payload of one data package.
	FetchSection(ctx context.Context, token, packageID, txID string) ([]byte, error)
}

// Credentials for the client-credentials grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	APIKey       string
}

// Status is the job status document. Raw holds every field of the reply.
type Status struct {
	TxStatus string         `json:"tx_status"`
	Raw      map[string]any `json:"-"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartdata: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAuthURL overrides the token endpoint.
func WithAuthURL(u string) Option {
	return func(c *httpClient) {
		c.authURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outbound calls. A non-positive rps disables
// throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	creds   Credentials
	baseURL string
	authURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an extraction API client. Calls are throttled to 5 req/s
// by default.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:   creds,
		baseURL: defaultBaseURL,
		authURL: defaultAuthURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"api_key":       {c.creds.APIKey},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "smartdata: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, req, &resp); err != nil {
		return "", eris.Wrap(err, "smartdata: token")
	}
	if resp.AccessToken == "" {
		return "", eris.New("smartdata: token: empty access_token")
	}
	return resp.AccessToken, nil
}

func (c *httpClient) Trigger(ctx context.Context, token, txID string) (map[string]any, error) {
	req, err := c.request(ctx, http.MethodPost, "/universal/v4/universal-submit/file/"+url.PathEscape(txID), token)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.do(ctx, req, &out); err != nil {
		return nil, eris.Wrapf(err, "smartdata: trigger %s", txID)
	}
	return out, nil
}

func (c *httpClient) Status(ctx context.Context, token, txID string) (*Status, error) {
	req, err := c.request(ctx, http.MethodGet, "/universal/v4/universal-submit/status/"+url.PathEscape(txID), token)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, eris.Wrapf(err, "smartdata: status %s", txID)
	}
	st := &Status{Raw: raw}
	if s, ok := raw["tx_status"].(string); ok {
		st.TxStatus = s
	}
	return st, nil
}

func (c *httpClient) StatusDetails(ctx context.Context, token, txID string) (map[string]any, error) {
	req, err := c.request(ctx, http.MethodGet, "/universal/v4/universal-submit/status/"+url.PathEscape(txID)+"/details", token)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.do(ctx, req, &out); err != nil {
		return nil, eris.Wrapf(err, "smartdata: status details %s", txID)
	}
	return out, nil
}

func (c *httpClient) FetchSection(ctx context.Context, token, packageID, txID string) ([]byte, error) {
	req, err := c.request(ctx, http.MethodGet, "/data/v5/"+url.PathEscape(packageID)+"/"+url.PathEscape(txID), token)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, eris.Wrapf(err, "smartdata: fetch %s for %s", packageID, txID)
	}
	return raw, nil
}

func (c *httpClient) request(ctx context.Context, method, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "smartdata: create request")
	}
	req.Header.Set("x-api-key", c.creds.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *httpClient) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
