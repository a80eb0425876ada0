// Package serpjobs provides a client for a SerpAPI-compatible Google Jobs
// engine. Unlike the async providers, a search here is a single GET that
// returns one page of results; callers page with the Start offset.
package serpjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	// Default base URL for the search engine API.
	defaultBaseURL = "https://serpapi.com"

	// PageSize is the fixed number of results the engine returns per page.
	PageSize = 10
)

// Client defines the Google Jobs engine operations used by ingestion.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds one page worth of google_jobs query parameters.
type SearchRequest struct {
	// Query is the free-text search, e.g. "CDL driver".
	Query string
	// Location biases results, e.g. "Dallas, TX".
	Location string
	// RadiusKM restricts results to a distance from Location (the engine's
	// lrad parameter). Zero means the engine default.
	RadiusKM int
	// Start is the result offset for pagination, in PageSize steps.
	Start int
}

// SearchResponse is the engine's response envelope. The engine reports
// "no results" as a 200 with an error message rather than an empty list,
// which Search folds into an empty JobsResults.
type SearchResponse struct {
	SearchMetadata SearchMetadata `json:"search_metadata"`
	JobsResults    []JobResult    `json:"jobs_results"`
	Error          string         `json:"error,omitempty"`
}

// SearchMetadata identifies the engine-side search.
type SearchMetadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobResult is a single job listing as the engine returns it.
type JobResult struct {
	Title              string             `json:"title"`
	CompanyName        string             `json:"company_name"`
	Location           string             `json:"location"`
	Via                string             `json:"via"`
	Description        string             `json:"description"`
	ShareLink          string             `json:"share_link"`
	DetectedExtensions DetectedExtensions `json:"detected_extensions"`
	ApplyOptions       []ApplyOption      `json:"apply_options"`
}

// ApplyOption is one of the boards the posting can be applied through.
type ApplyOption struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// DetectedExtensions carries engine-parsed posting attributes. Values
// arrive as display strings ("3 days ago", "Full-time").
type DetectedExtensions struct {
	PostedAt     string `json:"posted_at"`
	ScheduleType string `json:"schedule_type"`
	Salary       string `json:"salary"`
}

// APIError is returned when the engine responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("serpjobs: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate (2 req/s). Zero or
// negative disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Google Jobs engine client. Requests are
// throttled to 2 req/s by default so page loops stay inside plan limits.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "serpjobs: rate limit")
		}
	}

	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", req.Query)
	params.Set("api_key", c.apiKey)
	if req.Location != "" {
		params.Set("location", req.Location)
	}
	if req.RadiusKM > 0 {
		params.Set("lrad", strconv.Itoa(req.RadiusKM))
	}
	if req.Start > 0 {
		params.Set("start", strconv.Itoa(req.Start))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpjobs: create request")
	}
	httpReq.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "serpjobs: search request failed")
	}

	if statusCode < 200 || statusCode >= 300 {
		return nil, &APIError{
			StatusCode: statusCode,
			Body:       string(body),
		}
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "serpjobs: decode response")
	}

	// The engine signals an exhausted query with a 200 and an error message
	// instead of an empty result list. Treat it as no results.
	if result.Error != "" {
		if strings.Contains(result.Error, "hasn't returned any results") {
			result.Error = ""
			result.JobsResults = nil
			return &result, nil
		}
		return nil, eris.Errorf("serpjobs: engine error: %s", result.Error)
	}

	return &result, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Clone request for retry (body is nil for GET requests).
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
