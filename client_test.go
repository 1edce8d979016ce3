package fetchup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	failedWriteResponseMsg = "Failed to write response: %v"
	expectedNoErrorMsg     = "Expected no error, got %v"
)

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var itemResource = Resource[item]{Descriptor: Descriptor{Path: "item"}}

func asClientError(err error, target **ClientError) bool {
	return errors.As(err, target)
}

// testClock is a settable clock shared by the client and its transport.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newItemServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"name":"fetchup","count":3}`)); err != nil {
			t.Errorf(failedWriteResponseMsg, err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNew(t *testing.T) {
	client := New()

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if !client.IsValid() {
		t.Fatalf("Expected default client to be valid, got %v", client.ValidationError())
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}
	if _, ok := client.Transport().(*HTTPTransport); !ok {
		t.Errorf("Expected default HTTPTransport, got %T", client.Transport())
	}
	if _, ok := client.Store().(*InMemoryCache); !ok {
		t.Errorf("Expected in-memory manual store, got %T", client.Store())
	}
}

func TestFetchDecodesJSON(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	client := New(WithBaseURL(server.URL + "/"))

	got, err := Fetch(context.Background(), client, itemResource, CachePolicy)
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	if got.Name != "fetchup" || got.Count != 3 {
		t.Errorf("Expected {fetchup 3}, got %+v", got)
	}
}

func TestManualCacheRoundTrip(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	clock := newTestClock()
	client := New(WithBaseURL(server.URL+"/"), WithClock(clock.Now))

	if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	got, err := Cached(context.Background(), client, itemResource, client.MaxAge(time.Hour))
	if err != nil {
		t.Fatalf("Expected cached value, got %v", err)
	}
	if got.Name != "fetchup" {
		t.Errorf("Expected fetchup, got %s", got.Name)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected Cached to skip the network, got %d hits", hits)
	}
}

func TestManualCacheOverwritesSingleEntry(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	store := NewInMemoryCache()
	client := New(WithBaseURL(server.URL+"/"), WithCacheStore(store))

	for i := 0; i < 2; i++ {
		if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
			t.Fatalf(expectedNoErrorMsg, err)
		}
	}

	if store.Len() != 1 {
		t.Errorf("Expected one entry after two fetches, got %d", store.Len())
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected both manual fetches to reach the server, got %d", hits)
	}
}

func TestDisabledModeDoesNotStore(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	client := New(WithBaseURL(server.URL + "/"))

	if _, err := Fetch(context.Background(), client, itemResource, CacheDisabled); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	_, err := Cached(context.Background(), client, itemResource, nil)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected cache miss, got %v", err)
	}
}

func TestRemoveCached(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	client := New(WithBaseURL(server.URL + "/"))

	if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	if err := client.RemoveCached(context.Background(), itemResource); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	if err := client.RemoveCached(context.Background(), itemResource); err != nil {
		t.Errorf("Expected removing an absent entry to succeed, got %v", err)
	}

	_, err := Cached(context.Background(), client, itemResource, nil)
	var clientErr *ClientError
	if !asClientError(err, &clientErr) || clientErr.Type != ErrorTypeCacheMiss {
		t.Errorf("Expected CacheMiss, got %v", err)
	}
}

func TestCachedExpiry(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)

	t.Run("expired entry is kept by default", func(t *testing.T) {
		clock := newTestClock()
		client := New(WithBaseURL(server.URL+"/"), WithClock(clock.Now))
		if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
			t.Fatalf(expectedNoErrorMsg, err)
		}

		clock.Advance(2 * time.Hour)
		_, err := Cached(context.Background(), client, itemResource, client.MaxAge(time.Hour))
		if !errors.Is(err, ErrCacheExpired) {
			t.Fatalf("Expected cache expired, got %v", err)
		}

		if _, err := Cached(context.Background(), client, itemResource, nil); err != nil {
			t.Errorf("Expected entry to survive, got %v", err)
		}
	})

	t.Run("expired entry is removed with invalidation", func(t *testing.T) {
		clock := newTestClock()
		client := New(WithBaseURL(server.URL+"/"), WithClock(clock.Now), WithInvalidateExpired())
		if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
			t.Fatalf(expectedNoErrorMsg, err)
		}

		clock.Advance(2 * time.Hour)
		_, err := Cached(context.Background(), client, itemResource, client.MaxAge(time.Hour))
		if !errors.Is(err, ErrCacheExpired) {
			t.Fatalf("Expected cache expired, got %v", err)
		}

		_, err = Cached(context.Background(), client, itemResource, nil)
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected cache miss after invalidation, got %v", err)
		}
	})

	t.Run("deadline predicate", func(t *testing.T) {
		clock := newTestClock()
		client := New(WithBaseURL(server.URL+"/"), WithClock(clock.Now))
		if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
			t.Fatalf(expectedNoErrorMsg, err)
		}

		deadline := clock.Now().Add(time.Minute)
		if _, err := Cached(context.Background(), client, itemResource, client.Before(deadline)); err != nil {
			t.Errorf("Expected entry before deadline, got %v", err)
		}
		clock.Advance(time.Minute)
		if _, err := Cached(context.Background(), client, itemResource, client.Before(deadline)); !errors.Is(err, ErrCacheExpired) {
			t.Errorf("Expected cache expired at deadline, got %v", err)
		}
	})
}

func TestPolicyModeServesFreshResponses(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		if _, err := w.Write([]byte(`{"name":"policy"}`)); err != nil {
			t.Errorf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL + "/"))
	for i := 0; i < 2; i++ {
		got, err := Fetch(context.Background(), client, itemResource, CachePolicy)
		if err != nil {
			t.Fatalf(expectedNoErrorMsg, err)
		}
		if got.Name != "policy" {
			t.Errorf("Expected policy, got %s", got.Name)
		}
	}

	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected second fetch to be served by the policy cache, got %d hits", hits)
	}

	_, err := Cached(context.Background(), client, itemResource, nil)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected policy entries to stay out of the manual cache, got %v", err)
	}
}

func TestManualFetchAfterPolicyFetchStores(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		if _, err := w.Write([]byte(`{"name":"both","count":2}`)); err != nil {
			t.Errorf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL + "/"))
	if _, err := Fetch(context.Background(), client, itemResource, CachePolicy); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("Expected the manual fetch to reach the network, got %d hits", got)
	}

	got, err := Cached(context.Background(), client, itemResource, nil)
	if err != nil {
		t.Fatalf("Expected cached value, got %v", err)
	}
	if got.Name != "both" || got.Count != 2 {
		t.Errorf("Expected {both 2}, got %+v", got)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	testCases := []struct {
		name       string
		status     int
		body       string
		wantType   string
		wantStatus int
	}{
		{name: "not found without body", status: http.StatusNotFound, wantType: ErrorTypeHTTP, wantStatus: http.StatusNotFound},
		{name: "server error with body", status: http.StatusInternalServerError, body: "boom", wantType: ErrorTypeHTTP, wantStatus: http.StatusInternalServerError},
		{name: "no content", status: http.StatusNoContent, wantType: ErrorTypeEmptyData, wantStatus: http.StatusNoContent},
		{name: "undecodable body", status: http.StatusOK, body: "not json", wantType: ErrorTypeDecoding},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				if tc.body != "" {
					if _, err := w.Write([]byte(tc.body)); err != nil {
						t.Errorf(failedWriteResponseMsg, err)
					}
				}
			}))
			defer server.Close()

			client := New(WithBaseURL(server.URL + "/"))
			_, err := Fetch(context.Background(), client, itemResource, CacheManual)

			var clientErr *ClientError
			if !asClientError(err, &clientErr) {
				t.Fatalf("Expected ClientError, got %v", err)
			}
			if clientErr.Type != tc.wantType {
				t.Errorf("Expected %s, got %s", tc.wantType, clientErr.Type)
			}
			if clientErr.StatusCode != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, clientErr.StatusCode)
			}
			if clientErr.Method != http.MethodGet || !strings.HasSuffix(clientErr.URL, "/item") {
				t.Errorf("Expected request context on error, got %s %s", clientErr.Method, clientErr.URL)
			}

			if tc.wantType != ErrorTypeDecoding {
				if _, err := Cached(context.Background(), client, itemResource, nil); !errors.Is(err, ErrCacheMiss) {
					t.Errorf("Expected failed response not to be cached, got %v", err)
				}
			}
		})
	}
}

func TestFetchContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(WithBaseURL(server.URL + "/"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Fetch(ctx, client, itemResource, CachePolicy)
	var clientErr *ClientError
	if !asClientError(err, &clientErr) || clientErr.Type != ErrorTypeNetwork {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestFetchSendsQueryHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.URL.RawQuery != "q=hello%20world" {
			t.Errorf("Expected q=hello%%20world, got %s", r.URL.RawQuery)
		}
		if got := r.Header.Values("Accept"); len(got) != 1 || got[0] != "application/json" {
			t.Errorf("Expected resource Accept header to win, got %v", got)
		}
		if r.Header.Get("X-Client") != "fetchup" {
			t.Errorf("Expected client header, got %q", r.Header.Get("X-Client"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"new"}` {
			t.Errorf("Expected request body, got %s", body)
		}
		if _, err := w.Write(body); err != nil {
			t.Errorf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL+"/"),
		WithHeader("Accept", "text/plain"),
		WithHeader("X-Client", "fetchup"),
	)
	res := Resource[item]{Descriptor: Descriptor{
		Method: MethodPost,
		Path:   "search",
		Query:  map[string]string{"q": "hello world"},
		Header: map[string]string{"Accept": "application/json"},
		Body:   []byte(`{"name":"new"}`),
	}}

	got, err := Fetch(context.Background(), client, res, CacheDisabled)
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	if got.Name != "new" {
		t.Errorf("Expected echoed item, got %+v", got)
	}
}

func TestFetchRecordsMetrics(t *testing.T) {
	var hits int32
	server := newItemServer(t, &hits)
	metrics := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := New(WithBaseURL(server.URL+"/"), WithMetricsCollector(metrics))

	if _, err := Fetch(context.Background(), client, itemResource, CacheManual); err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	_, _ = Cached(context.Background(), client, itemResource, nil)
	_ = client.RemoveCached(context.Background(), itemResource)
	_, _ = Cached(context.Background(), client, itemResource, nil)

	endpoint := strings.TrimPrefix(server.URL, "http://") + "/item"
	if got := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("GET", "200", endpoint, "manual")); got != 1 {
		t.Errorf("Expected one request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cacheDecisions.WithLabelValues("manual", decisionStored)); got != 1 {
		t.Errorf("Expected one stored decision, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cacheReads.WithLabelValues(endpoint, CacheReadHit)); got != 1 {
		t.Errorf("Expected one hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cacheReads.WithLabelValues(endpoint, CacheReadMiss)); got != 1 {
		t.Errorf("Expected one miss, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cacheSize.WithLabelValues("manual")); got != 0 {
		t.Errorf("Expected empty manual cache, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.requestsInFlight.WithLabelValues("GET", endpoint)); got != 0 {
		t.Errorf("Expected no requests in flight, got %v", got)
	}
}

func TestInvalidClientRefusesWork(t *testing.T) {
	client := New(WithBaseURL("/relative/only"))
	if client.IsValid() {
		t.Fatal("Expected relative base URL to fail validation")
	}

	_, err := FetchAsync(context.Background(), client, itemResource, CachePolicy, nil)
	var clientErr *ClientError
	if !asClientError(err, &clientErr) || clientErr.Type != ErrorTypeValidation {
		t.Errorf("Expected validation error from FetchAsync, got %v", err)
	}
	if _, err := Cached(context.Background(), client, itemResource, nil); !errors.Is(err, &ClientError{Type: ErrorTypeValidation}) {
		t.Errorf("Expected validation error from Cached, got %v", err)
	}
	if err := client.RemoveCached(context.Background(), itemResource); err == nil {
		t.Error("Expected validation error from RemoveCached")
	}
}
