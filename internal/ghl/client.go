// Package ghl is a minimal client for the GoHighLevel-style CRM API: OAuth
// token endpoints, pipeline listing, and opportunity/contact writes.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiVersion is the provider's required Version header value.
const apiVersion = "2021-07-28"

// maxErrBody caps how much of an error response body is kept for diagnosis.
const maxErrBody = 512

// Config holds provider connection settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the CRM API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client for the given configuration.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl: api error %d: %s", e.Status, e.Body)
}

// AuthRevoked reports whether the error indicates a dead credential rather
// than a transient failure: a 400/401 status, or an invalid_grant/expired
// marker in the body. Retrying these risks provider-side lockout.
func (e *APIError) AuthRevoked() bool {
	if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "invalid_grant") || strings.Contains(body, "expired")
}

// doJSON issues a JSON request with a bearer token and decodes the response
// into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ghl: marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ghl: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

// doForm issues a form-encoded POST (the OAuth endpoints) and decodes the
// response into out.
func (c *Client) doForm(ctx context.Context, path, token string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ghl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Version", apiVersion)
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ghl: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ghl: decode %s response: %w", req.URL.Path, err)
		}
	}
	return nil
}
