package fetchup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Middleware represents a middleware function wrapped around each round trip
// made by HTTPTransport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option
type Option func(*Client)

// CacheMode controls whether and how a fetch's response is persisted beyond
// the transport's own caching.
type CacheMode int

const (
	// CachePolicy defers entirely to the transport's cache semantics.
	CachePolicy CacheMode = iota
	// CacheManual stores every successful response in the client's cache
	// store, regardless of Cache-Control headers.
	CacheManual
	// CacheDisabled suppresses all caching for the fetch.
	CacheDisabled
)

func (m CacheMode) String() string {
	switch m {
	case CachePolicy:
		return "policy"
	case CacheManual:
		return "manual"
	case CacheDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

// ParseCacheMode parses the textual form produced by CacheMode.String.
func ParseCacheMode(s string) (CacheMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "policy":
		return CachePolicy, nil
	case "manual":
		return CacheManual, nil
	case "disabled", "off", "none":
		return CacheDisabled, nil
	}
	return CachePolicy, fmt.Errorf("fetchup: unknown cache mode %q", s)
}

// CacheEntry represents a cached response.
type CacheEntry struct {
	Body       []byte      `json:"body"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	// StoredAt is the insertion timestamp written by manual caching. Entries
	// written by the transport's policy cache leave it zero.
	StoredAt time.Time `json:"stored_at"`
	// ReceivedAt and ExpiresAt carry the freshness information the policy
	// cache derives from response headers.
	ReceivedAt time.Time `json:"received_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Response rebuilds an *http.Response from the entry.
func (e *CacheEntry) Response() *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
}

// CacheStore is a key to entry map. Implementations must be safe for
// concurrent use. Stores never decide validity; callers do.
type CacheStore interface {
	// Get returns the entry stored under key. A missing key is not an error.
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	// Set upserts the entry under key.
	Set(ctx context.Context, key string, entry *CacheEntry) error
	// Delete removes the entry under key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}

// ResponseInfo is the response metadata reported by a transport.
// A zero StatusCode means the response was not HTTP-shaped.
type ResponseInfo struct {
	StatusCode int
	Header     http.Header
	URL        *url.URL
	// FromCache marks responses the transport answered from its own cache.
	// No cache proposal follows them.
	FromCache bool
}

func responseInfoFrom(resp *http.Response) *ResponseInfo {
	if resp == nil {
		return nil
	}
	info := &ResponseInfo{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if resp.Request != nil {
		info.URL = resp.Request.URL
	}
	return info
}
