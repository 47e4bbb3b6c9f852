package api

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
)

// DefaultCacheTTL is how long GET responses are reused
const DefaultCacheTTL = 5 * time.Second

// CacheKey identifies a request by method, URL and query parameters
func CacheKey(method, rawURL string, params url.Values) string {
	return strings.ToUpper(method) + "_" + rawURL + "_" + jsonOrEmpty(params)
}

// InFlightKey extends CacheKey with the request body
func InFlightKey(method, rawURL string, params url.Values, body []byte) string {
	b := "{}"
	if len(body) > 0 {
		b = string(body)
	}
	return CacheKey(method, rawURL, params) + "_" + b
}

func jsonOrEmpty(params url.Values) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type cacheEntry struct {
	body   []byte
	stored time.Time
}

// RequestCache keeps successful GET response bodies for a fixed TTL
type RequestCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewRequestCache creates an empty cache
func NewRequestCache(ttl time.Duration, clk clock.Clock) *RequestCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RequestCache{ttl: ttl, clock: clk, entries: make(map[string]cacheEntry)}
}

// Get returns a fresh entry for key
func (c *RequestCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

// Set stores body under key
func (c *RequestCache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{body: body, stored: c.clock.Now()}
}

// Clear drops every entry
func (c *RequestCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// ClearMatching drops entries whose key contains substr and returns how many
func (c *RequestCache) ClearMatching(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InFlightRegistry collapses concurrent identical requests into one round trip
type InFlightRegistry struct {
	group singleflight.Group
}

// NewInFlightRegistry creates an empty registry
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{}
}

// Do runs fn once per key among concurrent callers. shared reports whether
// the result was handed to more than one caller.
func (r *InFlightRegistry) Do(key string, fn func() (*Response, error)) (resp *Response, shared bool, err error) {
	v, err, shared := r.group.Do(key, func() (any, error) {
		return fn()
	})
	if v != nil {
		resp = v.(*Response)
	}
	return resp, shared, err
}
