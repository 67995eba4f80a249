// Package fews is a client for the FEWS NET Data Warehouse REST API. It pages
// through market price facts lazily, paces and retries requests, and classifies
// failures as [RetryableFetchError] or [FatalFetchError].
package fews

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/njoerd114/fewssync/internal/model"
)

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 256 << 20

// Config configures a [Client].
type Config struct {
	BaseURL           string
	CountryCode       string
	PageSize          int
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	BreakerFailures   int
	UserAgent         string

	// RetryBaseDelay and RetryMaxDelay override the backoff bounds. Zero
	// keeps the defaults.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerCooldown overrides how long an open breaker rejects requests.
	BreakerCooldown time.Duration

	// HTTPClient replaces the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Query selects the price facts to fetch. Start and End are inclusive
// calendar dates.
type Query struct {
	CountryCode string // empty uses Config.CountryCode
	Start       time.Time
	End         time.Time
}

// Client talks to the FEWS NET API.
type Client struct {
	base    *url.URL
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	policy  retryPolicy
	log     *slog.Logger
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fewssync"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	limit, burst := rate.Inf, 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(math.Ceil(cfg.RequestsPerSecond)))
	}

	policy := retryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		log:         logger,
	}
	if cfg.RetryBaseDelay > 0 {
		policy.baseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		policy.maxDelay = cfg.RetryMaxDelay
	}

	cooldown := breakerCooldown
	if cfg.BreakerCooldown > 0 {
		cooldown = cfg.BreakerCooldown
	}

	return &Client{
		base:    base,
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		breaker: newBreaker(cfg.BreakerFailures, cooldown, logger),
		policy:  policy,
		log:     logger,
	}, nil
}

// Pages returns a lazy sequence of price pages for q. Each iteration starts
// again from the first page; breaking out of the loop stops further
// requests. A failed page is yielded once as an error and ends the sequence.
func (c *Client) Pages(ctx context.Context, q Query) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		next := c.pricesURL(q)
		seen := make(map[string]bool)

		for n := 1; next != ""; n++ {
			if seen[next] {
				yield(Page{}, &FatalFetchError{URL: next, Err: errors.New("pagination loop: next page already fetched")})
				return
			}
			seen[next] = true

			body, err := c.get(ctx, next)
			if err != nil {
				yield(Page{}, err)
				return
			}

			records, nextURL, total, err := decodeList[Record](body)
			if err != nil {
				yield(Page{}, &FatalFetchError{URL: next, Err: err})
				return
			}

			c.log.Debug("fetched page", "page", n, "records", len(records), "total", total)
			if !yield(Page{Number: n, Records: records, Total: total}, nil) {
				return
			}

			next, err = c.resolve(next, nextURL)
			if err != nil {
				yield(Page{}, &FatalFetchError{URL: nextURL, Err: err})
				return
			}
		}
	}
}

// Ping checks that the API answers a cheap request.
func (c *Client) Ping(ctx context.Context) error {
	u := c.endpoint("market")
	q := u.Query()
	q.Set("format", "json")
	q.Set("country_code", c.cfg.CountryCode)
	q.Set("page_size", "1")
	u.RawQuery = q.Encode()

	_, err := c.get(ctx, u.String())
	return err
}

// Markets lists the markets the API knows for countryCode, following
// pagination when the endpoint uses it.
func (c *Client) Markets(ctx context.Context, countryCode string) ([]MarketInfo, error) {
	if countryCode == "" {
		countryCode = c.cfg.CountryCode
	}
	u := c.endpoint("market")
	q := u.Query()
	q.Set("format", "json")
	q.Set("country_code", countryCode)
	u.RawQuery = q.Encode()

	var all []MarketInfo
	next := u.String()
	seen := make(map[string]bool)
	for next != "" && !seen[next] {
		seen[next] = true
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		markets, nextURL, _, err := decodeList[MarketInfo](body)
		if err != nil {
			return nil, &FatalFetchError{URL: next, Err: err}
		}
		all = append(all, markets...)
		if next, err = c.resolve(next, nextURL); err != nil {
			return nil, &FatalFetchError{URL: nextURL, Err: err}
		}
	}
	return all, nil
}

func (c *Client) endpoint(name string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + name + "/"
	return &u
}

func (c *Client) pricesURL(q Query) string {
	country := q.CountryCode
	if country == "" {
		country = c.cfg.CountryCode
	}
	u := c.endpoint("marketpricefacts")
	v := u.Query()
	v.Set("format", "json")
	if country != "" {
		v.Set("country_code", country)
	}
	if !q.Start.IsZero() {
		v.Set("start_date", q.Start.Format(model.DateLayout))
	}
	if !q.End.IsZero() {
		v.Set("end_date", q.End.Format(model.DateLayout))
	}
	v.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	u.RawQuery = v.Encode()
	return u.String()
}

// resolve turns a possibly relative next link into an absolute URL.
func (c *Client) resolve(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	cur, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := cur.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parsing next link: %w", err)
	}
	return ref.String(), nil
}

// get fetches rawURL through the rate limiter, the retry policy and the
// circuit breaker.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	return retry(ctx, c.policy, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, rawURL)
		})
		switch {
		case err == nil:
			return body, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, backoff.Permanent(&RetryableFetchError{URL: rawURL, Err: err})
		case IsFatal(err):
			return nil, backoff.Permanent(err)
		default:
			return nil, err
		}
	})
}

// do performs one GET and classifies the outcome.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FatalFetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &RetryableFetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &RetryableFetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	default:
		return nil, &FatalFetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}
