package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

type bodyFetcher func(ctx context.Context, id network.RequestID) ([]byte, error)

type pendingRequest struct {
	url     string
	method  string
	headers map[string]string
	body    []byte
	status  int
	replay  bool
}

// tracker pairs request, response and loading-finished events by request id.
type tracker struct {
	filter  Filter
	handler Handler
	fetch   bodyFetcher
	clock   monitor.Clock
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[network.RequestID]*pendingRequest
	replays map[string]int
	wg      sync.WaitGroup
}

func newTracker(filter Filter, handler Handler, fetch bodyFetcher, clock monitor.Clock, logger *zap.Logger, timeout time.Duration) *tracker {
	if filter == nil {
		filter = func(string) bool { return true }
	}
	return &tracker{
		filter:  filter,
		handler: handler,
		fetch:   fetch,
		clock:   clock,
		logger:  logger,
		timeout: timeout,
		pending: make(map[network.RequestID]*pendingRequest),
		replays: make(map[string]int),
	}
}

func (t *tracker) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.onRequest(e)
	case *network.EventResponseReceived:
		t.onResponse(e)
	case *network.EventLoadingFinished:
		t.onFinished(e)
	case *network.EventLoadingFailed:
		t.mu.Lock()
		delete(t.pending, e.RequestID)
		t.mu.Unlock()
	}
}

func (t *tracker) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil || !t.filter(e.Request.URL) {
		return
	}
	body := postData(e.Request)
	req := &pendingRequest{
		url:     e.Request.URL,
		method:  e.Request.Method,
		headers: flattenHeaders(e.Request.Headers),
		body:    body,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := replayKey(req.method, req.url, body)
	if t.replays[key] > 0 {
		req.replay = true
	}
	t.pending[e.RequestID] = req
}

func (t *tracker) onResponse(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if req, ok := t.pending[e.RequestID]; ok {
		req.status = int(e.Response.Status)
		if e.Response.URL != "" {
			req.url = e.Response.URL
		}
	}
}

func (t *tracker) onFinished(e *network.EventLoadingFinished) {
	t.mu.Lock()
	req, ok := t.pending[e.RequestID]
	delete(t.pending, e.RequestID)
	t.mu.Unlock()
	if !ok || req.replay {
		return
	}
	// Body fetches go through the same connection that delivers events, so
	// they cannot run on the listener goroutine.
	t.wg.Add(1)
	go func(id network.RequestID, req *pendingRequest) {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		body, err := t.fetch(ctx, id)
		if err != nil {
			t.logger.Debug("response body unavailable", zap.String("url", req.url), zap.Error(err))
			return
		}
		t.handler(monitor.TrafficEvent{
			URL:            req.url,
			Method:         req.method,
			StatusCode:     req.status,
			RequestHeaders: req.headers,
			RequestBody:    req.body,
			Body:           body,
			ObservedAt:     t.clock.Now(),
		})
	}(e.RequestID, req)
}

// markReplay suppresses interception of a request the session sends itself.
func (t *tracker) markReplay(method, url string, body []byte) func() {
	key := replayKey(method, url, body)
	t.mu.Lock()
	t.replays[key]++
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.replays[key]--; t.replays[key] <= 0 {
			delete(t.replays, key)
		}
	}
}

func (t *tracker) wait() {
	t.wg.Wait()
}

func replayKey(method, url string, body []byte) string {
	return strings.ToUpper(method) + " " + url + "\n" + string(body)
}

func postData(req *network.Request) []byte {
	if req == nil || !req.HasPostData {
		return nil
	}
	var out []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		out = append(out, b...)
	}
	return out
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []string:
			out[k] = strings.Join(val, ", ")
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
