// Package fetcher provides a rate-limited JSON HTTP client shared by the
// OBIS, GBIF, and WoRMS adapters.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kuroshio-lab/species-sync/internal/resilience"
)

// ErrSourceUnavailable marks a provider endpoint that could not be reached
// after retries. Fatal to the failing source's run, never to the whole sync.
var ErrSourceUnavailable = eris.New("source unavailable")

// Options configures the HTTP client.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// RateLimits maps host to requests-per-second. Hosts not listed get
	// DefaultRateLimit. The limiter is shared across all workers hitting
	// that host.
	RateLimits map[string]rate.Limit
}

// DefaultRateLimit applies to hosts without an explicit ceiling.
const DefaultRateLimit rate.Limit = 5

// DefaultRateLimits returns the per-host request ceilings for the known
// biodiversity APIs.
func DefaultRateLimits() map[string]rate.Limit {
	return map[string]rate.Limit{
		"api.obis.org":          3,
		"api.gbif.org":          5,
		"www.marinespecies.org": 3,
	}
}

// Client is a JSON-over-HTTP fetcher with shared per-host rate limiting,
// exponential-backoff retries, and a per-host circuit breaker.
type Client struct {
	client *http.Client
	opts   Options
	retry  resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*resilience.Breaker
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "species-sync/1.0"
	}
	if opts.RateLimits == nil {
		opts.RateLimits = DefaultRateLimits()
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxAttempts

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		retry:    retry,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*resilience.Breaker),
	}
}

// GetJSON performs a GET against rawURL with the given query parameters and
// decodes the JSON response body into out. Transient failures (429, 5xx,
// timeouts) are retried with exponential backoff; on exhaustion the returned
// error wraps ErrSourceUnavailable.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	if params != nil {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	breaker := c.breakerFor(u.Host)
	retry := c.retry
	retry.OnRetry = resilience.RetryLogger(u.Host, "get")

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		var data []byte
		execErr := breaker.Execute(ctx, func(ctx context.Context) error {
			var attemptErr error
			data, attemptErr = c.getOnce(ctx, u)
			return attemptErr
		})
		return data, execErr
	})
	if err != nil {
		if resilience.IsTransient(err) || eris.Is(eris.Cause(err), resilience.ErrCircuitOpen) {
			return eris.Wrapf(ErrSourceUnavailable, "fetcher: %s: %v", u.Host, err)
		}
		return err
	}

	// 204 / empty bodies (e.g. WoRMS misses) leave out untouched.
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "fetcher: decode response from %s", u.Host)
	}
	return nil
}

func (c *Client) getOnce(ctx context.Context, u *url.URL) ([]byte, error) {
	lim := c.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		zap.L().Warn("transient provider response",
			zap.String("host", u.Host),
			zap.Int("status", resp.StatusCode),
		)
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, u.Host), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("fetcher: http %d from %s", resp.StatusCode, u.Host)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	return body, nil
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[host]; ok {
		return lim
	}
	limit := DefaultRateLimit
	if l, ok := c.opts.RateLimits[host]; ok {
		limit = l
	}
	lim := rate.NewLimiter(limit, int(limit)+1)
	c.limiters[host] = lim
	return lim
}

func (c *Client) breakerFor(host string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}
	b := resilience.NewBreaker(host, 5, 30*time.Second)
	c.breakers[host] = b
	return b
}
