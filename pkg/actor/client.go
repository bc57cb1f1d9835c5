// Package actor is a client for the hosted scraping-actor platform that
// executes lead searches out of process.
package actor

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

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.apify.com/v2"

// Terminal states reported by the platform.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborting  = "ABORTING"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Client defines the actor platform operations.
type Client interface {
	StartRun(ctx context.Context, actorID string, input any) (*RunInfo, error)
	AbortRun(ctx context.Context, runID string) (*RunInfo, error)
	GetRun(ctx context.Context, runID string) (*RunInfo, error)
}

// RunInfo describes one actor run on the platform.
type RunInfo struct {
	ID         string    `json:"id"`
	ActID      string    `json:"actId"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// IsTerminal reports whether the platform has finished with the run.
func (r RunInfo) IsTerminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

type envelope struct {
	Data RunInfo `json:"data"`
}

// APIError is returned when the platform responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("actor: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code for retry classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds every request. A client passed with WithHTTPClient is
// copied first, never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new actor platform client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun queues a new run of actorID with input. It returns as soon as the
// platform has accepted the run.
func (c *httpClient) StartRun(ctx context.Context, actorID string, input any) (*RunInfo, error) {
	var resp envelope
	path := "/acts/" + url.PathEscape(strings.ReplaceAll(actorID, "/", "~")) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, input, &resp); err != nil {
		return nil, eris.Wrapf(err, "actor: start run of %s", actorID)
	}
	if resp.Data.ID == "" {
		return nil, eris.Errorf("actor: start run of %s: response has no run id", actorID)
	}
	return &resp.Data, nil
}

// AbortRun asks the platform to stop a run. It sends no body.
func (c *httpClient) AbortRun(ctx context.Context, runID string) (*RunInfo, error) {
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/actor-runs/"+url.PathEscape(runID)+"/abort", nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "actor: abort run %s", runID)
	}
	return &resp.Data, nil
}

// GetRun fetches the current state of a run.
func (c *httpClient) GetRun(ctx context.Context, runID string) (*RunInfo, error) {
	var resp envelope
	if err := c.do(ctx, http.MethodGet, "/actor-runs/"+url.PathEscape(runID), nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "actor: get run %s", runID)
	}
	return &resp.Data, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

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
