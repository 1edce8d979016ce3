package fetchup

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeNetwork         = "Network"
	ErrorTypeEmptyResponse   = "EmptyResponse"
	ErrorTypeInvalidResponse = "InvalidResponse"
	ErrorTypeHTTP            = "HTTP"
	ErrorTypeEmptyData       = "EmptyData"
	ErrorTypeDecoding        = "Decoding"
	ErrorTypeCacheMiss       = "CacheMiss"
	ErrorTypeCacheExpired    = "CacheExpired"
	ErrorTypeRequest         = "Request"
	ErrorTypeValidation      = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCacheMiss is returned when no manual cache entry exists for a resource
	ErrCacheMiss = errors.New("fetchup: cache miss")

	// ErrCacheExpired is returned when the validity predicate rejects an entry
	ErrCacheExpired = errors.New("fetchup: cache expired")

	// ErrEmptyResponse is returned when the transport completed without a response
	ErrEmptyResponse = errors.New("fetchup: empty response")

	// ErrInvalidResponse is returned when the response carried no HTTP status
	ErrInvalidResponse = errors.New("fetchup: invalid HTTP response")
)

var sentinels = map[string]error{
	ErrorTypeCacheMiss:       ErrCacheMiss,
	ErrorTypeCacheExpired:    ErrCacheExpired,
	ErrorTypeEmptyResponse:   ErrEmptyResponse,
	ErrorTypeInvalidResponse: ErrInvalidResponse,
}

// ClientError represents an error from the client
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	// Body is kept for HTTP errors so callers can inspect error payloads.
	Body      []byte
	Header    http.Header
	Timestamp time.Time
	Duration  time.Duration
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, 5xx server responses, and rate limiting (429).
// This layer never retries; the helper exists for callers that do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork:
			return true
		case ErrorTypeHTTP:
			return clientErr.StatusCode >= 500 || clientErr.StatusCode == http.StatusTooManyRequests
		default:
			return false
		}
	}

	return false
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.StatusCode > 0 {
		return clientErr.StatusCode, true
	}
	return 0, false
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is. A ClientError also matches the
// sentinel registered for its type, so errors.Is(err, ErrCacheMiss) works.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	if sentinel, ok := sentinels[e.Type]; ok {
		return sentinel == target
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if len(e.Body) > 0 {
		info += fmt.Sprintf("Body: %d bytes\n", len(e.Body))
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
