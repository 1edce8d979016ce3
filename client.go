package fetchup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client builds requests from resource descriptors, runs them through a
// Transport and manages the manual response cache. It is safe for concurrent
// use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	middleware []Middleware
	transport  Transport
	policy     CacheStore
	policySet  bool

	baseURL           *url.URL
	allowedCharacters CharacterSet
	headers           http.Header

	store                 CacheStore
	cacheKeyFunc          CacheKeyFunc
	cacheRequestTransform func(*http.Request) *http.Request
	invalidateExpired     bool
	now                   func() time.Time

	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:           30 * time.Second,
		middleware:        []Middleware{},
		allowedCharacters: UnreservedCharacters,
		headers:           make(http.Header),
		store:             NewInMemoryCache(),
		cacheKeyFunc:      DefaultCacheKeyFunc,
		now:               time.Now,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.transport == nil {
		transportOptions := []TransportOption{
			WithTransportHTTPClient(client.httpClient),
			WithTransportMiddleware(client.middleware...),
			WithTransportClock(client.now),
			WithTransportLogger(client.logger),
		}
		if client.policySet {
			transportOptions = append(transportOptions, WithPolicyCache(client.policy))
		}
		client.transport = NewHTTPTransport(transportOptions...)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// FetchAsync builds the wire request for resource, starts it and returns the
// running task. completion receives the decoded value or a *ClientError and
// runs exactly once, on a transport goroutine.
func FetchAsync[T any](ctx context.Context, c *Client, resource Resource[T], mode CacheMode, completion func(T, error)) (*FetchTask, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	req, err := c.NewRequest(ctx, resource)
	if err != nil {
		return nil, err
	}

	var task *FetchTask
	task = c.newTask(req, mode, func(data []byte, err error) {
		var zero T
		if completion == nil {
			return
		}
		if err != nil {
			completion(zero, err)
			return
		}

		value, decodeErr := resource.decode(data)
		if decodeErr != nil {
			clientErr := &ClientError{
				Type:    ErrorTypeDecoding,
				Message: "failed to decode response",
				Cause:   decodeErr,
			}
			task.annotate(clientErr, c.now().Sub(task.start))
			c.metrics.RecordError(ErrorTypeDecoding, req.Method, task.endpoint)
			completion(zero, clientErr)
			return
		}
		completion(value, nil)
	})
	task.run()

	return task, nil
}

// Fetch is the blocking form of FetchAsync. Cancelling ctx cancels the
// transport task; Fetch still waits for its completion.
func Fetch[T any](ctx context.Context, c *Client, resource Resource[T], mode CacheMode) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	task, err := FetchAsync(ctx, c, resource, mode, func(value T, err error) {
		done <- result{value: value, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		task.Cancel()
		r := <-done
		return r.value, r.err
	}
}

// Cached reads resource from the manual cache without network I/O.
// isValid receives the entry's storage time; nil accepts any entry. Rejected
// entries are removed when the client was built WithInvalidateExpired.
func Cached[T any](ctx context.Context, c *Client, resource Resource[T], isValid func(storedAt time.Time) bool) (T, error) {
	var zero T
	if err := c.ready(); err != nil {
		return zero, err
	}

	req, err := c.NewRequest(ctx, resource)
	if err != nil {
		return zero, err
	}
	key := c.cacheKeyFor(req)
	endpoint := getEndpointFromRequest(req)

	entry, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.RecordStoreFailure("get")
		if c.logger != nil {
			c.logger.Warn("Manual cache read failed", "cacheKey", key, "error", err.Error())
		}
		found = false
	}

	if !found || entry == nil || entry.StoredAt.IsZero() {
		c.metrics.RecordCacheRead(endpoint, CacheReadMiss)
		if c.logCache() {
			c.logger.Debug("Cache miss", "cacheKey", key)
		}
		return zero, c.cacheError(ErrorTypeCacheMiss, "no cached response", req, endpoint)
	}

	if isValid != nil && !isValid(entry.StoredAt) {
		c.metrics.RecordCacheRead(endpoint, CacheReadExpired)
		if c.logCache() {
			c.logger.Debug("Cache entry expired", "cacheKey", key, "storedAt", entry.StoredAt)
		}
		if c.invalidateExpired {
			c.deleteEntry(ctx, key)
		}
		return zero, c.cacheError(ErrorTypeCacheExpired, fmt.Sprintf("cached response from %s is no longer valid", entry.StoredAt.Format(time.RFC3339)), req, endpoint)
	}

	c.metrics.RecordCacheRead(endpoint, CacheReadHit)
	if c.logCache() {
		c.logger.Debug("Cache hit", "cacheKey", key)
	}

	value, err := resource.decode(entry.Body)
	if err != nil {
		clientErr := c.cacheError(ErrorTypeDecoding, "failed to decode cached response", req, endpoint)
		clientErr.Cause = err
		c.metrics.RecordError(ErrorTypeDecoding, req.Method, endpoint)
		return zero, clientErr
	}
	return value, nil
}

// RemoveCached deletes the manual cache entry for d. Removing an absent
// entry is not an error.
func (c *Client) RemoveCached(ctx context.Context, d Describer) error {
	if err := c.ready(); err != nil {
		return err
	}

	key, err := c.CacheKey(ctx, d)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.metrics.RecordStoreFailure("delete")
		return &ClientError{
			Type:      ErrorTypeRequest,
			Message:   "failed to remove cached response",
			Cause:     err,
			Timestamp: c.now(),
		}
	}
	c.recordStoreSize()
	if c.logCache() {
		c.logger.Debug("Cache entry removed", "cacheKey", key)
	}
	return nil
}

// MaxAge returns a validity predicate accepting entries stored less than d ago.
func (c *Client) MaxAge(d time.Duration) func(time.Time) bool {
	return func(storedAt time.Time) bool {
		return c.now().Sub(storedAt) < d
	}
}

// Before returns a validity predicate accepting any entry until deadline.
func (c *Client) Before(deadline time.Time) func(time.Time) bool {
	return func(time.Time) bool {
		return c.now().Before(deadline)
	}
}

// Store returns the manual cache store.
func (c *Client) Store() CacheStore {
	return c.store
}

// Transport returns the transport fetches run on.
func (c *Client) Transport() Transport {
	return c.transport
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) ready() error {
	return c.validationError
}

func (c *Client) deleteEntry(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.metrics.RecordStoreFailure("delete")
		if c.logger != nil {
			c.logger.Warn("Manual cache delete failed", "cacheKey", key, "error", err.Error())
		}
		return
	}
	c.recordStoreSize()
}

type sizedStore interface {
	Len() int
}

func (c *Client) recordStoreSize() {
	if c.metrics == nil {
		return
	}
	if sized, ok := c.store.(sizedStore); ok {
		c.metrics.RecordCacheSize("manual", sized.Len())
	}
}

func (c *Client) cacheError(errorType, message string, req *http.Request, endpoint string) *ClientError {
	return &ClientError{
		Type:      errorType,
		Message:   message,
		Method:    req.Method,
		URL:       req.URL.String(),
		Endpoint:  endpoint,
		Timestamp: c.now(),
	}
}

func (c *Client) logRequests() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil
}

func (c *Client) logCache() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil
}
