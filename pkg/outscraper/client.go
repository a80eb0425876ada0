// Package outscraper provides a client for the Outscraper Google Jobs
// search API. Searches run asynchronously: a submit call returns a request
// ID, and results become available on the requests endpoint once the
// provider finishes collecting.
package outscraper

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
	"golang.org/x/time/rate"
)

// Default base URL for the Outscraper API.
const defaultBaseURL = "https://api.app.outscraper.com"

// Client defines the Outscraper operations used by ingestion.
type Client interface {
	// SubmitJobSearch starts an async jobs search and returns its request ID.
	SubmitJobSearch(ctx context.Context, req SearchRequest) (*SubmitResponse, error)
	// GetRequest fetches the status (and, once finished, the results) of a
	// previously submitted request.
	GetRequest(ctx context.Context, id string) (*RequestStatus, error)
}

// SearchRequest holds the jobs-search query parameters.
type SearchRequest struct {
	// Query is the free-text search, e.g. "CDL driver Dallas, TX".
	Query string
	// Radius restricts results to a distance in miles from the queried
	// location. Zero means the provider default.
	Radius int
	// Limit caps the number of postings returned. Zero means the provider
	// default page size.
	Limit int
}

// SubmitResponse acknowledges an async search submission.
type SubmitResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ResultsLocation string `json:"results_location"`
}

// RequestStatus is the response from GET /requests/{id}. Data stays empty
// until Status reaches "Success". Results arrive grouped per submitted
// query, hence the nested slice.
type RequestStatus struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Data   [][]JobResult `json:"data"`
}

// JobResult is a single job listing as the provider returns it.
type JobResult struct {
	Title              string             `json:"title"`
	CompanyName        string             `json:"company_name"`
	Location           string             `json:"location"`
	Via                string             `json:"via"`
	Description        string             `json:"description"`
	Salary             string             `json:"salary"`
	Link               string             `json:"link"`
	DetectedExtensions DetectedExtensions `json:"detected_extensions"`
}

// DetectedExtensions carries provider-parsed posting attributes. Values
// arrive as display strings ("3 days ago", "Full-time"), not structured
// data.
type DetectedExtensions struct {
	PostedAt     string `json:"posted_at"`
	ScheduleType string `json:"schedule_type"`
	Salary       string `json:"salary"`
}

// APIError is returned when Outscraper responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outscraper: HTTP %d: %s", e.StatusCode, e.Body)
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

// WithRateLimit overrides the default request rate (5 req/s). Zero or
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

// NewClient creates a new Outscraper client. Requests are throttled to
// 5 req/s by default so poll loops stay inside the account quota.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) SubmitJobSearch(ctx context.Context, req SearchRequest) (*SubmitResponse, error) {
	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("async", "true")
	if req.Radius > 0 {
		params.Set("radius", strconv.Itoa(req.Radius))
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}

	var resp SubmitResponse
	if err := c.get(ctx, "/google-search-jobs?"+params.Encode(), &resp); err != nil {
		return nil, eris.Wrap(err, "outscraper: submit job search")
	}
	return &resp, nil
}

func (c *httpClient) GetRequest(ctx context.Context, id string) (*RequestStatus, error) {
	var resp RequestStatus
	if err := c.get(ctx, fmt.Sprintf("/requests/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("outscraper: get request %s", id))
	}
	return &resp, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return err
	}

	if statusCode < 200 || statusCode >= 300 {
		return &APIError{
			StatusCode: statusCode,
			Body:       string(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
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
