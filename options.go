package fetchup

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WithBaseURL sets the URL resource paths are resolved against. An invalid
// URL is reported by ValidationError.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		u, err := url.Parse(raw)
		if err != nil {
			c.baseURL = &url.URL{Opaque: raw}
			return
		}
		c.baseURL = u
	}
}

// WithAllowedCharacters sets the bytes left unescaped in query parameters.
func WithAllowedCharacters(cs CharacterSet) Option {
	return func(c *Client) {
		c.allowedCharacters = cs
	}
}

// WithHeader adds a default header sent with every request. Resource headers
// override it.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(http.Header)
		}
		c.headers.Add(key, value)
	}
}

// WithCacheStore sets the manual cache store
func WithCacheStore(store CacheStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithPolicyCacheStore sets the store backing the default transport's policy
// cache. A nil store disables policy caching. Ignored with WithTransport.
func WithPolicyCacheStore(store CacheStore) Option {
	return func(c *Client) {
		c.policy = store
		c.policySet = true
	}
}

// WithTransport replaces the default HTTPTransport. WithHTTPClient,
// WithTimeout and WithMiddleware then have no effect.
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMiddleware adds middleware to the default transport
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		// Update timeout if it was set
		if client != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithInvalidateExpired makes Cached delete entries its predicate rejects.
func WithInvalidateExpired() Option {
	return func(c *Client) {
		c.invalidateExpired = true
	}
}

// WithCacheKeyFunc sets a custom cache key function
func WithCacheKeyFunc(fn CacheKeyFunc) Option {
	return func(c *Client) {
		c.cacheKeyFunc = fn
	}
}

// WithCacheRequestTransform rewrites the request a cache key is computed
// from, e.g. to drop volatile headers. fn receives a private copy.
func WithCacheRequestTransform(fn func(*http.Request) *http.Request) Option {
	return func(c *Client) {
		c.cacheRequestTransform = fn
	}
}

// WithClock replaces time.Now for cache timestamps and validity checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRequestConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateMiddlewareConfig()...)
	errors = append(errors, c.validateTransportConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

// validateRequestConfig validates base URL and clock
func (c *Client) validateRequestConfig() []string {
	var errors []string

	if c.baseURL != nil {
		if c.baseURL.Opaque != "" || !c.baseURL.IsAbs() || c.baseURL.Host == "" {
			errors = append(errors, fmt.Sprintf("baseURL %q must be an absolute URL with a host", c.baseURL.String()))
		}
	}

	if c.now == nil {
		errors = append(errors, "clock cannot be nil")
	}

	return errors
}

// validateCacheConfig validates cache configuration
func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.store == nil {
		errors = append(errors, "cache store cannot be nil")
	}
	if c.cacheKeyFunc == nil {
		errors = append(errors, "cache key function cannot be nil")
	}

	return errors
}

// validateDebugConfig validates debug configuration
func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

// validateMiddlewareConfig validates middleware configuration
func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}

// validateTransportConfig validates the HTTP client and timeout
func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.httpClient == nil {
		if t, ok := c.transport.(*HTTPTransport); !ok || t.httpClient == nil {
			errors = append(errors, "HTTP client cannot be nil")
		}
	}

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}

	return errors
}
