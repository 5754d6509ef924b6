package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// forbiddenHeaders are set by the browser itself and rejected by fetch().
var forbiddenHeaders = map[string]bool{
	"host": true, "content-length": true, "cookie": true, "origin": true,
	"referer": true, "connection": true, "accept-encoding": true, "user-agent": true,
}

type fetchResult struct {
	Status int    `json:"status"`
	URL    string `json:"url"`
	Body   string `json:"body"`
	Error  string `json:"error"`
}

// Send replays req with fetch() inside the current page.
func (s *Session) Send(ctx context.Context, req monitor.ReplayRequest) (monitor.TrafficEvent, error) {
	s.mu.Lock()
	started, browserCtx, tr := s.started, s.browserCtx, s.tracker
	s.mu.Unlock()
	if !started {
		return monitor.TrafficEvent{}, fmt.Errorf("%w: browser session is not running", monitor.ErrReplay)
	}

	script, err := fetchScript(req)
	if err != nil {
		return monitor.TrafficEvent{}, fmt.Errorf("%w: %w", monitor.ErrReplay, err)
	}
	done := tr.markReplay(req.Method, req.URL, req.Body)
	defer done()

	runCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var res fetchResult
	err = chromedp.Run(runCtx, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return monitor.TrafficEvent{}, fmt.Errorf("%w: evaluate fetch: %w", monitor.ErrReplay, err)
	}
	if res.Error != "" {
		return monitor.TrafficEvent{}, fmt.Errorf("%w: in-page fetch: %s", monitor.ErrReplay, res.Error)
	}
	url := res.URL
	if url == "" {
		url = req.URL
	}
	return monitor.TrafficEvent{
		URL:            url,
		Method:         req.Method,
		StatusCode:     res.Status,
		RequestHeaders: req.Headers,
		RequestBody:    req.Body,
		Body:           []byte(res.Body),
		ObservedAt:     s.clock.Now(),
	}, nil
}

// fetchScript renders a self-contained async expression. Arguments are
// embedded as JSON literals so no value is interpolated as code.
func fetchScript(req monitor.ReplayRequest) (string, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "POST"
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		if forbiddenHeaders[strings.ToLower(k)] || strings.HasPrefix(k, ":") {
			continue
		}
		headers[k] = v
	}
	init := map[string]any{
		"method":      method,
		"headers":     headers,
		"credentials": "include",
	}
	if method != "GET" && method != "HEAD" && len(req.Body) > 0 {
		init["body"] = string(req.Body)
	}
	urlJSON, err := json.Marshal(req.URL)
	if err != nil {
		return "", fmt.Errorf("encode url: %w", err)
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return fmt.Sprintf(`(async () => {
  try {
    const r = await fetch(%s, %s);
    return {status: r.status, url: r.url, body: await r.text(), error: ""};
  } catch (e) {
    return {status: 0, url: "", body: "", error: String(e)};
  }
})()`, urlJSON, initJSON), nil
}
