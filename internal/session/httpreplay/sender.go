// Package httpreplay replays request templates over plain HTTP. It is the
// fallback sender when no browser session is attached; the target platform
// may reject requests that lack the page's signatures.
package httpreplay

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

const defaultTimeout = 30 * time.Second

// Config controls the HTTP sender.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Cookie is sent verbatim on every request when set.
	Cookie string
}

// Sender implements monitor.Sender with a resty client.
type Sender struct {
	client *resty.Client
	clock  monitor.Clock
	logger *zap.Logger
}

// New builds a Sender. A nil transport uses the default one.
func New(cfg Config, transport http.RoundTripper, clock monitor.Clock, logger *zap.Logger) (*Sender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client := resty.New()
	if transport != nil {
		client.SetTransport(transport)
	}
	client.SetCookieJar(jar)
	client.SetTimeout(cfg.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Cookie != "" {
		client.SetHeader("Cookie", cfg.Cookie)
	}
	return &Sender{client: client, clock: clock, logger: logger.Named("httpreplay")}, nil
}

// Send issues req and returns the response as a traffic event. Non-2xx
// statuses are returned without error; the caller decides what they mean.
func (s *Sender) Send(ctx context.Context, req monitor.ReplayRequest) (monitor.TrafficEvent, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		if strings.HasPrefix(k, ":") || strings.EqualFold(k, "content-length") {
			continue
		}
		headers[k] = v
	}

	r := s.client.R().SetContext(ctx).SetHeaders(headers)
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		if _, ok := lookupHeader(headers, "Content-Type"); !ok {
			r.SetHeader("Content-Type", "application/json")
		}
		r.SetBody(req.Body)
	}

	res, err := r.Execute(method, req.URL)
	if err != nil {
		return monitor.TrafficEvent{}, fmt.Errorf("%w: %s %s: %w", monitor.ErrReplay, method, req.URL, err)
	}
	s.logger.Debug("replayed request",
		zap.String("url", req.URL),
		zap.Int("status", res.StatusCode()),
		zap.Duration("elapsed", res.Time()),
	)

	url := req.URL
	if res.Request != nil && res.Request.RawRequest != nil {
		url = res.Request.RawRequest.URL.String()
	}
	return monitor.TrafficEvent{
		URL:            url,
		Method:         method,
		StatusCode:     res.StatusCode(),
		RequestHeaders: maps.Clone(req.Headers),
		RequestBody:    req.Body,
		Body:           res.Body(),
		ObservedAt:     s.clock.Now(),
	}, nil
}

func lookupHeader(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
