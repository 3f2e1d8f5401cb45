// Package fetch is the HTTP transport used by every discovery stage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

// UserAgent identifies the resolver to remote servers.
const UserAgent = "fedprobe/1.0 (+https://github.com/codeGROOVE-dev/fedprobe)"

// Accept headers used by the discovery stages.
const (
	AcceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptXRD  = "application/xrd+xml,text/xml;q=0.9,*/*;q=0.1"
	AcceptJRD  = "application/jrd+json, application/xrd+xml"
	AcceptJSON = "application/json"
	AcceptFeed = "application/atom+xml,application/rss+xml,application/rdf+xml,text/xml;q=0.9,*/*;q=0.5"
)

// Defaults.
const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxRedirects = 8
	DefaultMaxBodySize  = 2 << 20
)

var (
	// ErrTimeout marks fetches that did not complete in time.
	ErrTimeout = errors.New("fetch timed out")
	// ErrTooManyRedirects is returned when a redirect chain exceeds the configured cap.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBodyTooLarge is returned when a response body exceeds the configured cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// HTTPError represents a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Response is a fully read HTTP response.
type Response struct {
	Header     http.Header
	URL        string // final URL after redirects
	Body       []byte
	StatusCode int
}

// Fetcher retrieves a URL, negotiating content with accept.
// Implementations return an error for anything other than a 2xx response.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, accept string) (*Response, error)
}

// IsTimeout reports whether err was caused by a fetch timing out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Client is the default Fetcher.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	limiters  sync.Map // host -> *rate.Limiter
	userAgent string
	timeout   time.Duration
	maxBody   int64
	attempts  uint
	rate      rate.Limit
	burst     int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRedirects caps the redirect chain; exceeding it fails the fetch.
func WithMaxRedirects(n int) Option {
	return func(c *Client) { c.http.CheckRedirect = redirectPolicy(n) }
}

// WithRateLimit limits requests per host. A zero limit disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.rate = rate.Limit(perSecond)
		c.burst = burst
	}
}

// WithAttempts sets how many times a transient failure is tried.
func WithAttempts(n uint) Option {
	return func(c *Client) { c.attempts = n }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBodySize caps the response body size. Larger bodies fail with ErrBodyTooLarge.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			CheckRedirect: redirectPolicy(DefaultMaxRedirects),
		},
		logger:    slog.Default(),
		userAgent: UserAgent,
		timeout:   DefaultTimeout,
		maxBody:   DefaultMaxBodySize,
		attempts:  2,
		rate:      rate.Limit(5),
		burst:     2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func redirectPolicy(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > limit {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
		}
		return nil
	}
}

// Fetch retrieves rawURL. Transient failures (429, 5xx, connection errors) are retried;
// timeouts, oversized bodies and redirect overflows are not.
func (c *Client) Fetch(ctx context.Context, rawURL, accept string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	resp, err := retry.DoWithData(
		func() (*Response, error) {
			return c.do(ctx, u, accept)
		},
		retry.Context(ctx),
		retry.Attempts(max(c.attempts, 1)),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "retrying fetch", "attempt", n+1, "url", rawURL, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, u *url.URL, accept string) (*Response, error) {
	if err := c.wait(ctx, u.Host); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, u.String(), err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	c.logger.DebugContext(ctx, "fetched", "url", u.String(), "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, classify(ctx, u.String(), err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", u.String(), ErrBodyTooLarge, c.maxBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (c *Client) wait(ctx context.Context, host string) error {
	if c.rate <= 0 {
		return nil
	}
	v, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(c.rate, max(c.burst, 1)))
	lim, ok := v.(*rate.Limiter)
	if !ok {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait for %s: %w", ErrTimeout, host, err)
	}
	return nil
}

// classify maps transport errors onto the package sentinels.
func classify(ctx context.Context, rawURL string, err error) error {
	if errors.Is(err, ErrTooManyRedirects) {
		return fmt.Errorf("fetch %s: %w", rawURL, ErrTooManyRedirects)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("fetch %s: %w: %w", rawURL, ErrTimeout, err)
	}
	return fmt.Errorf("fetch %s: %w", rawURL, err)
}

// isRetryable returns true for transient errors that should be retried.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTooManyRedirects) || errors.Is(err, ErrBodyTooLarge) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
