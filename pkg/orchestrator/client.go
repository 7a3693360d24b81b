// Package orchestrator is a client for the workflow orchestrator's REST API
// (Prefect-style). The control loops only need two operations: reading the
// RUNNING job records and forcing one record into a terminal FAILED state.
//
// Unlike the session service, orchestrator errors are never swallowed: the
// orchestrator is the system of record, and a pass that cannot read or write
// it must fail loudly.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the orchestrator surface the control loops consume.
type Client interface {
	// ListRunning returns job records currently in RUNNING state, optionally
	// restricted to records carrying all of tagFilter, capped at limit.
	ListRunning(ctx context.Context, tagFilter []string, limit int) ([]JobRecord, error)

	// SetFailed transitions one job record to FAILED with a human-readable
	// message. The orchestrator arbitrates concurrent writers.
	SetFailed(ctx context.Context, jobID, message string) error
}

// Config configures the REST client.
type Config struct {
	// APIURL is the orchestrator API root, e.g. "http://localhost:4200/api".
	APIURL string

	// AuthKey is an optional API key sent as a bearer token.
	AuthKey string

	// Timeout is the per-request timeout.
	// Default: 30s
	Timeout time.Duration
}

// RESTClient implements Client against the orchestrator HTTP API.
type RESTClient struct {
	apiURL string
	auth   string
	httpc  *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates an orchestrator API client.
func NewRESTClient(cfg Config) (*RESTClient, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		return nil, fmt.Errorf("orchestrator API URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		apiURL: apiURL,
		auth:   strings.TrimSpace(cfg.AuthKey),
		httpc:  &http.Client{Timeout: timeout},
	}, nil
}

// flowRun is the wire shape of a job record in list responses.
type flowRun struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	State struct {
		Type StateType `json:"type"`
	} `json:"state"`
}

// ListRunning implements Client.
func (c *RESTClient) ListRunning(ctx context.Context, tagFilter []string, limit int) ([]JobRecord, error) {
	filter := map[string]any{
		"state": map[string]any{
			"type": map[string]any{"any_": []StateType{StateRunning}},
		},
	}
	if len(tagFilter) > 0 {
		filter["tags"] = map[string]any{"all_": tagFilter}
	}
	reqBody := map[string]any{"flow_runs": filter}
	if limit > 0 {
		reqBody["limit"] = limit
	}

	body, err := c.post(ctx, "/flow_runs/filter", reqBody)
	if err != nil {
		return nil, fmt.Errorf("list running job records: %w", err)
	}

	var runs []flowRun
	if err := json.Unmarshal(body, &runs); err != nil {
		return nil, fmt.Errorf("decode job record list: %w", err)
	}

	records := make([]JobRecord, 0, len(runs))
	for _, r := range runs {
		records = append(records, JobRecord{
			ID:        r.ID,
			Name:      r.Name,
			State:     r.State.Type,
			Tags:      r.Tags,
			SessionID: ExtractSessionID(r.Tags),
		})
	}
	return records, nil
}

// SetFailed implements Client.
func (c *RESTClient) SetFailed(ctx context.Context, jobID, message string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	reqBody := map[string]any{
		"state": map[string]any{
			"type":    StateFailed,
			"message": message,
		},
	}
	if _, err := c.post(ctx, "/flow_runs/"+jobID+"/set_state", reqBody); err != nil {
		return fmt.Errorf("set job record %s failed: %w", jobID, err)
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, fmt.Errorf("orchestrator API %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return body, nil
}
