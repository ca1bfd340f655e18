// Package newsapi is a small client for the newsapi.org v2 REST endpoints.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/l0p7/feedstack/internal/metrics"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://newsapi.org"

const maxBodyBytes = 8 << 20

// ErrMissingAPIKey is returned before any request is sent when no key is configured.
var ErrMissingAPIKey = errors.New("newsapi: api key is not configured")

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	RetryMax  int
	// RetryWait bounds the backoff between attempts. Zero keeps the library defaults.
	RetryWait time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Client issues authenticated requests with bounded retries.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	userAgent string
	http      *retryablehttp.Client
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// New validates opts and prepares the retrying transport.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("newsapi: base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("newsapi: base url %q must be absolute", base)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "newsapi"))

	r := retryablehttp.NewClient()
	r.RetryMax = opts.RetryMax
	if opts.Timeout > 0 {
		r.HTTPClient.Timeout = opts.Timeout
	}
	if opts.RetryWait > 0 {
		r.RetryWaitMin = opts.RetryWait
		r.RetryWaitMax = opts.RetryWait
	}
	r.Logger = logger
	r.ErrorHandler = keepLastResponse

	return &Client{
		baseURL:   parsed,
		apiKey:    strings.TrimSpace(opts.APIKey),
		userAgent: opts.UserAgent,
		http:      r,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// TopHeadlines calls GET /v2/top-headlines.
func (c *Client) TopHeadlines(ctx context.Context, req HeadlinesRequest) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	setParam(params, "country", req.Country)
	setParam(params, "category", req.Category)
	setParam(params, "q", req.Query)
	setIntParam(params, "pageSize", req.PageSize)
	setIntParam(params, "page", req.Page)
	return c.get(ctx, "top-headlines", params)
}

// Everything calls GET /v2/everything.
func (c *Client) Everything(ctx context.Context, req EverythingRequest) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	setParam(params, "q", req.Query)
	setParam(params, "domains", req.Domains)
	setParam(params, "excludeDomains", req.ExcludeDomains)
	setParam(params, "from", req.From)
	setParam(params, "to", req.To)
	setParam(params, "language", req.Language)
	setParam(params, "sortBy", req.SortBy)
	setIntParam(params, "page", req.Page)
	return c.get(ctx, "everything", params)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/v2/" + endpoint
	target.RawQuery = params.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(endpoint, 0, time.Since(start))
		c.logger.Warn("newsapi request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return nil, fmt.Errorf("newsapi: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("newsapi: read %s body: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(body) > 0 {
			_ = json.Unmarshal(body, apiErr)
		}
		c.logger.Warn("newsapi returned error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("newsapi: decode %s: %w", endpoint, err)
	}
	if out.Articles == nil {
		out.Articles = []Article{}
	}
	out.CacheControl = resp.Header.Get("Cache-Control")
	return &out, nil
}

// keepLastResponse hands the final response back once retries are exhausted so
// the API error body can still be decoded.
func keepLastResponse(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
}

func setParam(params url.Values, name, value string) {
	if value = strings.TrimSpace(value); value != "" {
		params.Set(name, value)
	}
}

func setIntParam(params url.Values, name string, value int) {
	if value > 0 {
		params.Set(name, strconv.Itoa(value))
	}
}
