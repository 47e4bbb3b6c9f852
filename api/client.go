// Package api is the client for the POS backend that renders tickets.
package api

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

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
)

// Client defaults
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 2
	maxBackoff        = 5 * time.Second
)

// ConnectFailureMessage is reported when the backend cannot be reached
const ConnectFailureMessage = "could not connect to the server, check your connection"

// Error is a failed backend call
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Response is a raw backend response
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client talks to the POS backend
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	cache      *RequestCache
	inflight   *InFlightRegistry
	clock      clock.Clock
	maxRetries int
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock sets the clock used for backoff and cache expiry
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithCache replaces the GET response cache
func WithCache(cache *RequestCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithMaxRetries sets how many times a 429 response is retried
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: DefaultTimeout},
		inflight:   NewInFlightRegistry(),
		clock:      clock.Real{},
		maxRetries: DefaultMaxRetries,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewRequestCache(DefaultCacheTTL, c.clock)
	}
	return c
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ClearCache drops every cached response
func (c *Client) ClearCache() {
	c.cache.Clear()
	c.logger.Debug().Msg("API cache cleared")
}

// ClearCacheFor drops cached responses whose key contains path
func (c *Client) ClearCacheFor(path string) {
	n := c.cache.ClearMatching(path)
	c.logger.Debug().Str("path", path).Int("entries", n).Msg("API cache cleared")
}

type request struct {
	method string
	path   string
	params url.Values
	body   any
	// failure builds the message for a non-2xx response without a backend message
	failure func(status int) string
}

func (c *Client) do(ctx context.Context, r request) (*Response, error) {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return nil, &Error{Message: "invalid request", Err: err}
		}
	}

	u := c.baseURL + r.path
	cacheKey := CacheKey(r.method, u, r.params)
	if r.method == http.MethodGet {
		if body, ok := c.cache.Get(cacheKey); ok {
			c.logger.Debug().Str("url", u).Msg("cache hit")
			return &Response{Status: http.StatusOK, ContentType: "application/json", Body: body}, nil
		}
	}

	resp, shared, err := c.inflight.Do(InFlightKey(r.method, u, r.params, payload), func() (*Response, error) {
		return c.roundTrip(ctx, r, u, payload)
	})
	if shared {
		c.logger.Debug().Str("url", u).Msg("joined in-flight request")
	}
	if err != nil {
		return nil, err
	}

	if r.method == http.MethodGet {
		c.cache.Set(cacheKey, resp.Body)
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, r request, u string, payload []byte) (*Response, error) {
	if len(r.params) > 0 {
		u += "?" + r.params.Encode()
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, u, body)
		if err != nil {
			return nil, &Error{Message: "invalid request configuration", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		c.logger.Debug().Str("method", r.method).Str("url", u).Msg("API request")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("url", u).Msg("connection error")
			return nil, &Error{Message: ConnectFailureMessage, Err: err}
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &Error{Status: resp.StatusCode, Message: ConnectFailureMessage, Err: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			delay := backoff(attempt)
			c.logger.Warn().Str("url", u).Dur("delay", delay).Int("retry", attempt+1).Msg("rate limited, backing off")
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return nil, &Error{Status: resp.StatusCode, Message: "request cancelled", Err: err}
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg := backendMessage(data)
			if msg == "" {
				if r.failure != nil {
					msg = r.failure(resp.StatusCode)
				} else {
					msg = fmt.Sprintf("Error %d", resp.StatusCode)
				}
			}
			c.logger.Error().Int("status", resp.StatusCode).Str("url", u).Str("message", msg).Msg("API error")
			return nil, &Error{Status: resp.StatusCode, Message: msg}
		}

		return &Response{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: data}, nil
	}
}

// backoff returns min(1s * 2^attempt, 5s)
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func backendMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
