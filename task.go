package fetchup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TaskState is the lifecycle position of a FetchTask.
type TaskState int

const (
	TaskIdle TaskState = iota
	TaskRequesting
	TaskStreaming
	TaskCompleted
	TaskDone
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskRequesting:
		return "requesting"
	case TaskStreaming:
		return "streaming"
	case TaskCompleted:
		return "completed"
	case TaskDone:
		return "done"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Cache decisions recorded for proposed responses.
const (
	decisionApproved   = "approved"
	decisionStored     = "stored"
	decisionRejected   = "rejected"
	decisionSuppressed = "suppressed"
	decisionFailed     = "failed"
)

// FetchTask drives one fetch: it collects streamed chunks, answers the
// transport's cache proposal according to its CacheMode, classifies the
// outcome and delivers it exactly once. The mutex guards only the buffer and
// the state; it is never held while calling out.
type FetchTask struct {
	client     *Client
	mode       CacheMode
	req        *http.Request
	cacheKey   string
	onComplete func(data []byte, err error)

	requestID string
	endpoint  string
	start     time.Time
	cancelCtx context.CancelFunc

	mu            sync.Mutex
	state         TaskState
	buf           []byte
	completed     bool
	decided       bool
	transportTask Task
}

func (c *Client) newTask(req *http.Request, mode CacheMode, onComplete func([]byte, error)) *FetchTask {
	// the key is taken before the transport can consume the body
	var key string
	if mode == CacheManual {
		key = c.cacheKeyFor(req)
	}

	ctx, cancel := context.WithCancel(req.Context())
	t := &FetchTask{
		client:     c,
		mode:       mode,
		req:        req.WithContext(ctx),
		cacheKey:   key,
		onComplete: onComplete,
		endpoint:   getEndpointFromRequest(req),
		cancelCtx:  cancel,
		state:      TaskIdle,
	}
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		t.requestID = c.debug.RequestIDGen()
	}
	return t
}

func (t *FetchTask) run() {
	c := t.client
	t.start = c.now()

	if c.logRequests() {
		c.logger.Debug("Starting fetch", "requestID", t.requestID, "method", t.req.Method, "url", t.req.URL.String(), "endpoint", t.endpoint, "mode", t.mode.String())
	}
	c.metrics.RecordRequestStart(t.req.Method, t.endpoint)

	t.mu.Lock()
	t.state = TaskRequesting
	t.mu.Unlock()

	task := c.transport.Start(t.req, t)

	t.mu.Lock()
	t.transportTask = task
	t.mu.Unlock()
}

// State reports where the task is in its lifecycle.
func (t *FetchTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RequestID returns the debug request ID, empty when debug is off.
func (t *FetchTask) RequestID() string {
	return t.requestID
}

// Cancel aborts the exchange. The completion still runs, with an error.
func (t *FetchTask) Cancel() {
	t.cancelCtx()

	t.mu.Lock()
	task := t.transportTask
	t.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

func (t *FetchTask) DidReceiveData(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return
	}
	if t.state == TaskRequesting {
		t.state = TaskStreaming
	}
	t.buf = append(t.buf, chunk...)
}

// ReadsPolicyCache keeps manual fetches off the transport's policy cache so
// every manual fetch yields a proposal to store.
func (t *FetchTask) ReadsPolicyCache() bool {
	return t.mode != CacheManual
}

func (t *FetchTask) WillCacheResponse(proposed *ProposedResponse) *ProposedResponse {
	answer := t.decide(proposed)

	t.mu.Lock()
	t.decided = true
	if t.completed {
		t.state = TaskDone
	}
	t.mu.Unlock()

	return answer
}

func (t *FetchTask) decide(proposed *ProposedResponse) *ProposedResponse {
	c := t.client

	switch t.mode {
	case CachePolicy:
		c.metrics.RecordCacheDecision(t.mode, decisionApproved)
		return proposed

	case CacheManual:
		if proposed == nil || !isSuccess(proposed.Body, proposed.Info) {
			c.metrics.RecordCacheDecision(t.mode, decisionRejected)
			return nil
		}
		t.storeManual(proposed)
		return nil

	default:
		c.metrics.RecordCacheDecision(t.mode, decisionSuppressed)
		return nil
	}
}

func (t *FetchTask) storeManual(proposed *ProposedResponse) {
	c := t.client
	key := t.cacheKey
	entry := &CacheEntry{
		Body:       proposed.Body,
		StatusCode: proposed.Info.StatusCode,
		Header:     proposed.Info.Header.Clone(),
		StoredAt:   c.now(),
		ReceivedAt: proposed.ReceivedAt,
	}

	if err := c.store.Set(context.WithoutCancel(t.req.Context()), key, entry); err != nil {
		c.metrics.RecordCacheDecision(t.mode, decisionFailed)
		c.metrics.RecordStoreFailure("set")
		if c.logger != nil {
			c.logger.Warn("Manual cache write failed", "requestID", t.requestID, "cacheKey", key, "error", err.Error())
		}
		return
	}

	c.metrics.RecordCacheDecision(t.mode, decisionStored)
	c.recordStoreSize()
	if c.logCache() {
		c.logger.Debug("Response cached", "requestID", t.requestID, "cacheKey", key, "bytes", len(entry.Body))
	}
}

func (t *FetchTask) DidComplete(info *ResponseInfo, err error) {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		return
	}
	t.completed = true
	t.state = TaskCompleted
	body := t.buf
	t.buf = nil
	t.mu.Unlock()

	// a fully read network response still owes a cache proposal
	proposalDue := err == nil && info != nil && !info.FromCache

	data, classifyErr := Classify(body, info, err)
	t.finish(info, classifyErr)

	t.mu.Lock()
	if t.decided || !proposalDue {
		t.state = TaskDone
	}
	t.mu.Unlock()

	t.cancelCtx()
	t.onComplete(data, classifyErr)
}

func (t *FetchTask) finish(info *ResponseInfo, err error) {
	c := t.client
	duration := c.now().Sub(t.start)
	statusCode := 0
	if info != nil {
		statusCode = info.StatusCode
	}

	c.metrics.RecordRequestEnd(t.req.Method, t.endpoint)
	c.metrics.RecordRequest(t.req.Method, t.endpoint, t.mode, statusCode, duration)

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		t.annotate(clientErr, duration)
		c.metrics.RecordError(clientErr.Type, t.req.Method, t.endpoint)
	}

	if c.logRequests() {
		if err != nil {
			c.logger.Debug("Fetch failed", "requestID", t.requestID, "endpoint", t.endpoint, "statusCode", statusCode, "duration", duration, "error", err.Error())
		} else {
			c.logger.Debug("Fetch completed", "requestID", t.requestID, "endpoint", t.endpoint, "statusCode", statusCode, "duration", duration)
		}
	}
}

func (t *FetchTask) annotate(err *ClientError, duration time.Duration) {
	err.RequestID = t.requestID
	err.Method = t.req.Method
	err.URL = t.req.URL.String()
	err.Endpoint = t.endpoint
	err.Timestamp = t.client.now()
	err.Duration = duration
}
