package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// Client executes endpoint requests against the analytics API. It never
// touches the cache; callers decide what to do with the result.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	log        *logrus.Entry
}

type options struct {
	transport http.RoundTripper
	timeout   time.Duration
	rateLimit rate.Limit
	burst     int
}

type Option func(*options)

// WithTransport replaces the underlying round tripper. Tests use it to
// inject fake upstreams.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rate.Limit(rps)
		o.burst = burst
	}
}

func NewClient(logger *logrus.Logger, baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	o := options{
		transport: http.DefaultTransport,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var transport http.RoundTripper = &loggingTransport{
		log:  logger.WithField("component", "fetch_transport"),
		next: o.transport,
	}
	if o.rateLimit > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		transport = &limitedTransport{
			limiter: rate.NewLimiter(o.rateLimit, burst),
			next:    transport,
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: transport,
		},
		baseURL: u,
		log:     logger.WithField("component", "fetch_client"),
	}, nil
}

// Execute requests the resource described by d. Failures are returned as
// *Error. If ctx ends before the request completes, ctx.Err() is returned
// instead so that the caller can discard the attempt.
func (c *Client) Execute(ctx context.Context, d endpoint.Descriptor, params endpoint.Params) ([]Record, error) {
	target, err := c.buildURL(d, params)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "building request", Err: err}
	}

	log := c.log.WithFields(logrus.Fields{
		"operation": "execute",
		"endpoint":  d.Key,
		"url":       target,
	})

	req, err := http.NewRequestWithContext(ctx, d.Method, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "building request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "AnalyticsDashboard/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("Request failed")
		return nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		log.WithField("status_code", resp.StatusCode).Warn("Upstream returned error status")
		return nil, &Error{
			Kind:       KindHTTP,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s returned %s", d.Key, resp.Status),
		}
	}

	records, err := decodeRecords(resp.Body)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.WithError(err).Warn("Malformed response body")
		return nil, &Error{Kind: KindParse, Message: "invalid response body", Err: err}
	}

	log.WithFields(logrus.Fields{
		"records":  len(records),
		"duration": time.Since(start),
	}).Debug("Fetched endpoint")
	return records, nil
}

func (c *Client) buildURL(d endpoint.Descriptor, params endpoint.Params) (string, error) {
	path, err := endpoint.Expand(d.URLTemplate, params)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing expanded template: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = ""
	if ref.RawPath != "" {
		u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(ref.RawPath, "/")
	}
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}
