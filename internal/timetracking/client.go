// Package timetracking talks to the external time-tracking service that turns
// heartbeats into per-category coded time summaries.
package timetracking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/summary"
)

const maxErrorBody = 512

// Client requests recomputed summaries and provisions per-participant credentials.
type Client struct {
	baseURL     string
	adminKey    string
	signupEmail string
	httpClient  *http.Client
}

// Option configures optional Client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSignupEmail sets the contact email sent when provisioning accounts.
func WithSignupEmail(email string) Option {
	return func(c *Client) {
		c.signupEmail = email
	}
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL, adminKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminKey:   adminKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError reports a non-successful response from the service.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Summary fetches a freshly recomputed summary for the UTC window [from, to].
func (c *Client) Summary(ctx context.Context, token string, from, to time.Time) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339Nano))
	query.Set("to", to.UTC().Format(time.RFC3339Nano))
	query.Set("recompute", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/summary?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("summary request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("summary", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	if !summary.Valid(body) {
		return nil, fmt.Errorf("summary: malformed payload")
	}
	return json.RawMessage(body), nil
}

// Token provisions (or re-provisions) the participant's account and returns its api key.
// The signup endpoint is idempotent for an existing username and password.
func (c *Client) Token(ctx context.Context, p domain.Participant) (string, error) {
	if p.TrackerPassword == "" {
		return "", fmt.Errorf("signup: participant %s has no tracker password", p.ID)
	}

	location := p.TZLabel
	if location == "" {
		location = "UTC"
	}
	name := p.Username
	if name == "" {
		name = p.ID
	}
	form := url.Values{}
	form.Set("location", location)
	form.Set("email", c.signupEmail)
	form.Set("password", p.TrackerPassword)
	form.Set("password_repeat", p.TrackerPassword)
	form.Set("name", name)
	form.Set("username", p.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signup", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.adminKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", statusError("signup", resp)
	}

	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode signup: %w", err)
	}
	if payload.APIKey == "" {
		return "", fmt.Errorf("signup: empty api key for %s", p.ID)
	}
	return payload.APIKey, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
