// Package geocode resolves free-text addresses to coordinates through a
// Nominatim-compatible search API, with a process-lifetime memo and a global
// request throttle in front of it.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "leadgen/1.0"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Upstream performs a single free-text lookup. A nil point with a nil
// error means the service answered but found nothing.
type Upstream interface {
	Search(ctx context.Context, query string) (*Point, error)
}

// APIError is returned when the search service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geocode: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the search client.
type Option func(*searchClient)

// WithBaseURL overrides the default search endpoint.
func WithBaseURL(u string) Option {
	return func(c *searchClient) {
		c.baseURL = u
	}
}

// WithUserAgent sets the User-Agent header. Public Nominatim instances
// reject requests without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *searchClient) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *searchClient) {
		c.http = hc
	}
}

// WithTimeout bounds every upstream request.
func WithTimeout(d time.Duration) Option {
	return func(c *searchClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type searchClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates an Upstream backed by a Nominatim-compatible API.
func NewClient(opts ...Option) Upstream {
	c := &searchClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *searchClient) Search(ctx context.Context, query string) (*Point, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lat %q", results[0].Lat)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lon %q", results[0].Lon)
	}
	return &Point{Lat: lat, Lng: lng}, nil
}
