// Package browser drives a Chrome session over the DevTools protocol: it
// intercepts API traffic for the pipeline and replays requests from inside
// the page so cookies and signatures stay valid.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// Config controls the browser session.
type Config struct {
	StartURL          string
	Headless          bool
	UserAgent         string
	ExecPath          string
	UserDataDir       string
	NavigationTimeout time.Duration
	BodyTimeout       time.Duration
}

// Handler receives intercepted traffic. It must not block.
type Handler func(monitor.TrafficEvent)

// Filter decides whether a response body is worth fetching.
type Filter func(url string) bool

// Session owns the browser process and the interception state.
type Session struct {
	cfg    Config
	logger *zap.Logger
	clock  monitor.Clock

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tracker *tracker
	mu      sync.Mutex
	started bool
}

// New prepares a session. The browser starts on Start.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) (*Session, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("start url is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{cfg: cfg, logger: logger.Named("browser"), clock: clock}, nil
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if s.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	if s.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.cfg.UserDataDir))
	}
	return opts
}

// Start launches the browser, enables interception, and opens the start
// page. Matching traffic is delivered to handler until Close.
func (s *Session) Start(ctx context.Context, filter Filter, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session already started")
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s.tracker = newTracker(filter, handler, s.fetchBody(browserCtx), s.clock, s.logger, s.cfg.BodyTimeout)
	chromedp.ListenTarget(browserCtx, s.tracker.onEvent)

	navCtx, navCancel := context.WithTimeout(browserCtx, s.cfg.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, s.setupAction(), chromedp.Navigate(s.cfg.StartURL)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("open start page: %w", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.started = true
	s.logger.Info("browser session started", zap.String("url", s.cfg.StartURL), zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (s *Session) fetchBody(browserCtx context.Context) bodyFetcher {
	return func(ctx context.Context, id network.RequestID) ([]byte, error) {
		var body []byte
		runCtx, cancel := context.WithCancel(browserCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			b, err := network.GetResponseBody(id).Do(ctx)
			if err != nil {
				return fmt.Errorf("get response body: %w", err)
			}
			body = b
			return nil
		}))
		if err != nil {
			return nil, err
		}
		return body, nil
	}
}

// Done is closed when the browser goes away (window closed or Close).
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.browserCtx.Done()
}

// Close shuts the browser down and waits for pending body fetches.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.browserCancel()
	s.allocCancel()
	s.tracker.wait()
	s.started = false
}
