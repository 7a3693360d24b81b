// Package canfar is a client for the CANFAR science platform session API
// (skaha v0). It covers the small surface the control loops need: listing
// open sessions, querying one session, fetching logs, creating headless
// sessions, and destroying sessions.
//
// Transport failures are classified into the sentinel errors in errors.go so
// callers can distinguish a remote outage from a caller-side defect.
package canfar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the session API client.
type Config struct {
	// BaseURL is the API root, e.g. "https://ws-uv.canfar.net/skaha/v0".
	BaseURL string

	// Token is the bearer token presented on every request. Empty means
	// the transport is expected to carry credentials (e.g. client certs).
	Token string

	// Timeout is the per-request timeout.
	// Default: 30s
	Timeout time.Duration

	// RateLimit is the maximum requests per second against the API.
	// Zero means unlimited.
	RateLimit float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client talks to the session API over HTTP.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient creates a session API client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("canfar base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		httpc:   &http.Client{Timeout: timeout},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// List returns all currently open sessions.
func (c *Client) List(ctx context.Context) ([]Session, error) {
	body, err := c.get(ctx, "List", c.baseURL+"/session", "")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, &APIError{Op: "List", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return sessions, nil
}

// Info returns the current state of one session.
//
// A deleted or expired session yields ErrSessionNotFound; absence is a valid
// terminal signal, not an exceptional condition.
func (c *Client) Info(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &APIError{Op: "Info", Err: fmt.Errorf("session id is required")}
	}

	body, err := c.get(ctx, "Info", c.baseURL+"/session/"+url.PathEscape(sessionID), sessionID)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, &APIError{Op: "Info", SessionID: sessionID, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, &APIError{Op: "Info", SessionID: sessionID, Err: ErrSessionNotFound}
	}
	return &s, nil
}

// Logs fetches the captured output of a session. Used for forensic retention
// only; log content never drives control decisions.
func (c *Client) Logs(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", &APIError{Op: "Logs", Err: fmt.Errorf("session id is required")}
	}

	body, err := c.get(ctx, "Logs", c.baseURL+"/session/"+url.PathEscape(sessionID)+"?view=logs", sessionID)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Create submits a new session and returns its id.
func (c *Client) Create(ctx context.Context, spec Spec) (string, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return "", &APIError{Op: "Create", Err: fmt.Errorf("image is required")}
	}

	form := url.Values{}
	form.Set("name", spec.Name)
	form.Set("image", spec.Image)
	if spec.Cores > 0 {
		form.Set("cores", strconv.Itoa(spec.Cores))
	}
	if spec.RAM > 0 {
		form.Set("ram", strconv.Itoa(spec.RAM))
	}
	kind := spec.Kind
	if kind == "" {
		kind = "headless"
	}
	form.Set("type", kind)
	if spec.Cmd != "" {
		form.Set("cmd", spec.Cmd)
	}
	if spec.Args != "" {
		form.Set("args", spec.Args)
	}
	replicas := spec.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	form.Set("replicas", strconv.Itoa(replicas))
	for k, v := range spec.Env {
		form.Add("env", k+"="+v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &APIError{Op: "Create", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do("Create", "", req)
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", &APIError{Op: "Create", Err: fmt.Errorf("%w: empty session id", ErrMalformedResponse)}
	}
	return id, nil
}

// Destroy deletes a session.
func (c *Client) Destroy(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return &APIError{Op: "Destroy", Err: fmt.Errorf("session id is required")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return &APIError{Op: "Destroy", SessionID: sessionID, Err: err}
	}

	_, err = c.do("Destroy", sessionID, req)
	return err
}

func (c *Client) get(ctx context.Context, op, rawURL, sessionID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &APIError{Op: op, SessionID: sessionID, Err: err}
	}
	return c.do(op, sessionID, req)
}

func (c *Client) do(op, sessionID string, req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, &APIError{Op: op, SessionID: sessionID, Err: err}
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Preserve cancellation; everything else at the transport layer
		// is an availability problem.
		if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
			return nil, &APIError{Op: op, SessionID: sessionID, Err: err}
		}
		return nil, &APIError{Op: op, SessionID: sessionID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: op, SessionID: sessionID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &APIError{Op: op, SessionID: sessionID, Err: ErrSessionNotFound}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{Op: op, SessionID: sessionID, Err: ErrUnauthorized}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{Op: op, SessionID: sessionID, Err: ErrThrottled}
	default:
		return nil, &APIError{Op: op, SessionID: sessionID,
			Err: fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncateBody(body))}
	}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
