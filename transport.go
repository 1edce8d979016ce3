package fetchup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Transport executes wire requests and reports progress to a TaskDelegate.
// Implementations own their cache semantics: whatever WillCacheResponse
// returns is what they may store.
type Transport interface {
	Start(req *http.Request, delegate TaskDelegate) Task
}

// Task is a running transport exchange.
type Task interface {
	Cancel()
}

// TaskDelegate observes one transport exchange. DidReceiveData is called in
// arrival order and never after DidComplete. WillCacheResponse is called
// exactly once for every fully read response not served from the transport's
// own cache (ResponseInfo.FromCache), and may come before or after
// DidComplete. DidComplete is called exactly once.
type TaskDelegate interface {
	DidReceiveData(chunk []byte)
	// WillCacheResponse returns the response the transport may store, or nil
	// to suppress the transport's own cache write.
	WillCacheResponse(proposed *ProposedResponse) *ProposedResponse
	DidComplete(info *ResponseInfo, err error)
}

// PolicyCacheReader is an optional TaskDelegate capability. A delegate
// returning false is never answered from the transport's policy cache.
type PolicyCacheReader interface {
	ReadsPolicyCache() bool
}

// ProposedResponse is a response the transport offers to cache.
type ProposedResponse struct {
	Request    *http.Request
	Info       *ResponseInfo
	Body       []byte
	ReceivedAt time.Time
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// HTTPTransport is the Transport over net/http. Its built-in policy cache
// honors Cache-Control and Expires and answers fresh GET requests without
// network I/O.
type HTTPTransport struct {
	httpClient *http.Client
	middleware []Middleware
	cache      CacheStore
	chunkSize  int
	now        func() time.Time
	logger     Logger
}

const defaultChunkSize = 32 * 1024

// NewHTTPTransport returns a transport with a 30s timeout and an in-memory
// policy cache.
func NewHTTPTransport(options ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      NewInMemoryCache(),
		chunkSize:  defaultChunkSize,
		now:        time.Now,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// WithTransportHTTPClient sets the underlying *http.Client.
func WithTransportHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithTransportMiddleware wraps every round trip.
func WithTransportMiddleware(middleware ...Middleware) TransportOption {
	return func(t *HTTPTransport) {
		t.middleware = append(t.middleware, middleware...)
	}
}

// WithPolicyCache replaces the policy cache store. A nil store disables it.
func WithPolicyCache(store CacheStore) TransportOption {
	return func(t *HTTPTransport) {
		t.cache = store
	}
}

// WithChunkSize sets the read buffer size used while streaming bodies.
func WithChunkSize(n int) TransportOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithTransportClock replaces time.Now for freshness decisions.
func WithTransportClock(now func() time.Time) TransportOption {
	return func(t *HTTPTransport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTransportLogger reports policy cache failures to logger.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// PolicyCache returns the policy cache store, nil when disabled.
func (t *HTTPTransport) PolicyCache() CacheStore {
	return t.cache
}

type httpTask struct {
	cancel context.CancelFunc
}

func (h *httpTask) Cancel() {
	h.cancel()
}

// Start runs the exchange on its own goroutine.
func (t *HTTPTransport) Start(req *http.Request, delegate TaskDelegate) Task {
	ctx, cancel := context.WithCancel(req.Context())
	go t.run(req.WithContext(ctx), delegate, cancel)
	return &httpTask{cancel: cancel}
}

func (t *HTTPTransport) run(req *http.Request, delegate TaskDelegate, cancel context.CancelFunc) {
	defer cancel()

	if entry := t.lookup(req, delegate); entry != nil {
		info := &ResponseInfo{
			StatusCode: entry.StatusCode,
			Header:     entry.Header.Clone(),
			URL:        req.URL,
			FromCache:  true,
		}
		t.emit(entry.Body, delegate)
		delegate.DidComplete(info, nil)
		return
	}

	resp, err := t.roundTrip(req)
	if err != nil {
		delegate.DidComplete(nil, err)
		return
	}
	defer resp.Body.Close()

	info := responseInfoFrom(resp)
	body, err := t.stream(resp.Body, delegate)
	if err != nil {
		delegate.DidComplete(info, err)
		return
	}

	proposed := &ProposedResponse{
		Request:    req,
		Info:       info,
		Body:       body,
		ReceivedAt: t.now(),
	}
	if approved := delegate.WillCacheResponse(proposed); approved != nil {
		t.store(req.Context(), approved)
	}
	delegate.DidComplete(info, nil)
}

func (t *HTTPTransport) roundTrip(req *http.Request) (*http.Response, error) {
	if t.httpClient == nil {
		return nil, errors.New("fetchup: transport has no HTTP client")
	}
	if len(t.middleware) == 0 {
		return t.httpClient.Do(req)
	}

	current := RoundTripperFunc(t.httpClient.Do)

	for i := len(t.middleware) - 1; i >= 0; i-- {
		middleware := t.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (t *HTTPTransport) stream(r io.Reader, delegate TaskDelegate) ([]byte, error) {
	var body []byte
	buf := make([]byte, t.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			body = append(body, chunk...)
			delegate.DidReceiveData(chunk)
		}
		if err == io.EOF {
			return body, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (t *HTTPTransport) emit(body []byte, delegate TaskDelegate) {
	for start := 0; start < len(body); start += t.chunkSize {
		end := start + t.chunkSize
		if end > len(body) {
			end = len(body)
		}
		delegate.DidReceiveData(append([]byte(nil), body[start:end]...))
	}
}

func (t *HTTPTransport) lookup(req *http.Request, delegate TaskDelegate) *CacheEntry {
	if t.cache == nil || req.Method != http.MethodGet {
		return nil
	}
	if reader, ok := delegate.(PolicyCacheReader); ok && !reader.ReadsPolicyCache() {
		return nil
	}
	entry, found, err := t.cache.Get(req.Context(), DefaultCacheKeyFunc(req))
	if err != nil {
		t.warn("Policy cache read failed", "url", req.URL.String(), "error", err.Error())
		return nil
	}
	if !found || !isFresh(entry, t.now()) {
		return nil
	}
	return entry
}

func (t *HTTPTransport) store(ctx context.Context, approved *ProposedResponse) {
	if t.cache == nil || approved.Request == nil || approved.Info == nil {
		return
	}
	expiresAt, ok := policyExpiry(approved.Request.Method, approved.Info.StatusCode, approved.Info.Header, approved.ReceivedAt)
	if !ok {
		return
	}
	entry := &CacheEntry{
		Body:       approved.Body,
		StatusCode: approved.Info.StatusCode,
		Header:     approved.Info.Header.Clone(),
		ReceivedAt: approved.ReceivedAt,
		ExpiresAt:  expiresAt,
	}
	if err := t.cache.Set(context.WithoutCancel(ctx), DefaultCacheKeyFunc(approved.Request), entry); err != nil {
		t.warn("Policy cache write failed", "url", approved.Request.URL.String(), "error", err.Error())
	}
}

func (t *HTTPTransport) warn(msg string, keysAndValues ...interface{}) {
	if t.logger != nil {
		t.logger.Warn(msg, keysAndValues...)
	}
}
