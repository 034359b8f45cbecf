package smartdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{ClientID: "cid", ClientSecret: "secret", APIKey: "key"}

func TestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "key", r.PostForm.Get("api_key"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok-1"}`))
	}))
	defer srv.Close()

	c := NewClient(testCreds, WithAuthURL(srv.URL), WithRateLimit(0))
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestToken_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(testCreds, WithAuthURL(srv.URL))
	_, err := c.Token(context.Background())
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/universal/v4/universal-submit/status/tx-9", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"tx_status":"PROCESSING","progress":40}`))
	}))
	defer srv.Close()

	c := NewClient(testCreds, WithBaseURL(srv.URL+"/"))
	st, err := c.Status(context.Background(), "tok", "tx-9")
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", st.TxStatus)
	assert.Equal(t, float64(40), st.Raw["progress"])
}

func TestStatus_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(testCreds, WithBaseURL(srv.URL))
	_, err := c.Status(context.Background(), "tok", "tx-9")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Body)
}

func TestFetchSectionAndDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/v5/elevate-us-gl-c0001/tx-1":
			_, _ = w.Write([]byte(`{"data":[{"facts":{}}]}`))
		case "/universal/v4/universal-submit/status/tx-1/details":
			_, _ = w.Write([]byte(`{"files":2}`))
		case "/universal/v4/universal-submit/file/tx-1":
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"accepted":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(testCreds, WithBaseURL(srv.URL))
	ctx := context.Background()

	raw, err := c.FetchSection(ctx, "tok", "elevate-us-gl-c0001", "tx-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"facts":{}}]}`, string(raw))

	details, err := c.StatusDetails(ctx, "tok", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), details["files"])

	trig, err := c.Trigger(ctx, "tok", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, true, trig["accepted"])

	_, err = c.FetchSection(ctx, "tok", "missing", "tx-1")
	assert.Error(t, err)
}
