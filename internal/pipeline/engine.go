// Package pipeline wires interception, decoding, persistence, orchestration
// and ranking into one engine. Per-event and per-target failures are logged
// and reported as outcomes; they never stop the engine.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/archive"
	"github.com/JakeFAU/storefront-intel/internal/metrics"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/orchestrator"
)

// Classifier routes a URL to a category.
type Classifier interface {
	Classify(url string) monitor.Category
}

// Labeler derives labels from free text and hashtags.
type Labeler interface {
	Labels(freeText string, hashtags []string) []string
}

// Runner executes one orchestration run.
type Runner interface {
	Run(ctx context.Context, targets []monitor.TargetEntity, tmpl monitor.RequestTemplate, processed monitor.ProcessedSet) (orchestrator.Summary, monitor.ProcessedSet)
}

// Source yields traffic buffered since the last drain.
type Source interface {
	Drain() []monitor.TrafficEvent
}

// Config controls the engine.
type Config struct {
	// TargetField is read from captured request bodies to track the
	// current target.
	TargetField string
	// AutoRun starts orchestration as soon as the state becomes ready.
	AutoRun    bool
	Window     time.Duration
	TopN       int
	PerTargetN int
}

// Deps are the engine's collaborators. Archiver, Labeler and Source are
// optional.
type Deps struct {
	Classifier Classifier
	Decoder    monitor.Decoder
	Labeler    Labeler
	Store      monitor.Store
	Clock      monitor.Clock
	Archiver   *archive.Archiver
	Runner     Runner
	Source     Source
}

// Engine processes traffic and owns the live pipeline state.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	stateMu sync.RWMutex
	state   State

	// runMu serializes RunOnce calls made outside the Run loop.
	runMu    sync.Mutex
	triggers chan trigger
	looping  bool
}

type trigger struct {
	reply chan Report
}

// New constructs an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	if deps.Classifier == nil || deps.Decoder == nil || deps.Store == nil {
		return nil, errors.New("classifier, decoder and store are required")
	}
	if deps.Clock == nil || deps.Runner == nil {
		return nil, errors.New("clock and runner are required")
	}
	if cfg.TargetField == "" {
		return nil, errors.New("target field is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.PerTargetN <= 0 {
		cfg.PerTargetN = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("pipeline"),
		state:    NewState(),
		triggers: make(chan trigger),
	}, nil
}

// State returns the latest published state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// RunOnce drains buffered traffic, runs orchestration if the state is ready,
// and computes rankings. A completed state is never re-run, so repeated
// calls only refresh the report.
func (e *Engine) RunOnce(ctx context.Context, s State) (State, Report, error) {
	if e.deps.Source != nil {
		for _, ev := range e.deps.Source.Drain() {
			s, _ = e.Ingest(ctx, s, ev)
		}
	}
	if s.Ready() {
		s = e.orchestrate(ctx, s)
	}
	report, err := e.Report(ctx, e.cfg.Window, e.cfg.TopN)
	if err != nil {
		return s, Report{}, err
	}
	report.attach(s)
	return s, report, nil
}

func (e *Engine) orchestrate(ctx context.Context, s State) State {
	running, err := s.Begin()
	if err != nil {
		return s
	}
	tmpl, _ := running.Template()
	summary, processed := e.deps.Runner.Run(ctx, running.Targets(), tmpl, running.Processed())
	return running.Complete(summary, processed)
}

// Trigger performs RunOnce against the engine's own state. When Run is
// active the request is handed to the loop so that state has one owner.
func (e *Engine) Trigger(ctx context.Context) (Report, error) {
	e.stateMu.RLock()
	looping := e.looping
	e.stateMu.RUnlock()
	if looping {
		t := trigger{reply: make(chan Report, 1)}
		select {
		case e.triggers <- t:
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
		select {
		case r := <-t.reply:
			return r, nil
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	s, report, err := e.RunOnce(ctx, e.State())
	e.setState(s)
	return report, err
}

type runResult struct {
	summary   orchestrator.Summary
	processed monitor.ProcessedSet
}

// Run ingests events until ctx ends or events closes. Orchestration runs on
// its own goroutine while ingestion continues; its result is folded back
// into the state.
func (e *Engine) Run(ctx context.Context, events <-chan monitor.TrafficEvent) error {
	e.stateMu.Lock()
	if e.looping {
		e.stateMu.Unlock()
		return errors.New("engine loop already running")
	}
	e.looping = true
	s := e.state
	e.stateMu.Unlock()
	defer func() {
		e.stateMu.Lock()
		e.looping = false
		e.stateMu.Unlock()
	}()

	var (
		results = make(chan runResult, 1)
		waiters []chan Report
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	start := func() {
		running, err := s.Begin()
		if err != nil {
			return
		}
		s = running
		tmpl, _ := s.Template()
		targets, processed := s.Targets(), s.Processed()
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, done := e.deps.Runner.Run(ctx, targets, tmpl, processed)
			results <- runResult{summary: summary, processed: done}
		}()
	}
	reply := func(chans []chan Report) {
		report, err := e.Report(ctx, e.cfg.Window, e.cfg.TopN)
		if err != nil {
			e.logger.Warn("report failed", zap.Error(err))
		}
		report.attach(s)
		for _, ch := range chans {
			ch <- report
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				if s.Phase() != PhaseRunning {
					return nil
				}
				continue
			}
			s, _ = e.Ingest(ctx, s, ev)
			if e.cfg.AutoRun && s.Ready() {
				start()
			}
		case t := <-e.triggers:
			if s.Ready() {
				start()
			}
			if s.Phase() == PhaseRunning {
				waiters = append(waiters, t.reply)
			} else {
				reply([]chan Report{t.reply})
			}
		case res := <-results:
			s = s.Complete(res.summary, res.processed)
			if e.cfg.AutoRun && s.Ready() && !res.summary.Canceled {
				e.logger.Info("targets merged during the run, replaying them",
					zap.Int("targets", len(s.Targets())),
					zap.Int("processed", len(s.Processed())),
				)
				start()
			}
			e.setState(s)
			if s.Phase() == PhaseRunning {
				continue
			}
			reply(waiters)
			waiters = nil
			if events == nil {
				return nil
			}
		case <-ctx.Done():
			reply(waiters)
			return ctx.Err()
		}
		e.setState(s)
	}
}

// Outcome reports what Ingest did with one event.
type Outcome struct {
	Category  monitor.Category
	Status    string
	Targets   int
	Items     int
	ObjectURI string
	Err       error
}

// Ingest outcome statuses.
const (
	StatusIgnored  = "ignored"
	StatusRejected = "rejected"
	StatusDecoded  = "decoded"
	StatusFailed   = "failed"
)

// Ingest classifies, decodes, tags and persists one event and returns the
// updated state. Errors are logged and returned inside the Outcome.
func (e *Engine) Ingest(ctx context.Context, s State, ev monitor.TrafficEvent) (State, Outcome) {
	category := e.deps.Classifier.Classify(ev.URL)
	out := Outcome{Category: category}
	if category == monitor.CategoryIgnored {
		out.Status = StatusIgnored
		metrics.ObserveEvent(string(category), out.Status, len(ev.Body))
		return s, out
	}

	if category == monitor.CategoryProductList && (ev.StatusCode == 0 || ev.Succeeded()) {
		s = e.captureTemplate(s, ev)
	}
	out, targets := e.ingestBody(ctx, s, category, ev, out)
	metrics.ObserveEvent(string(category), out.Status, len(ev.Body))
	if out.Err != nil {
		e.logger.Warn("event not ingested",
			zap.String("category", string(category)),
			zap.String("url", ev.URL),
			zap.String("status", out.Status),
			zap.Error(out.Err),
		)
	}
	if category == monitor.CategoryShopList {
		s = s.WithTargets(targets)
	}
	return s, out
}

func (e *Engine) captureTemplate(s State, ev monitor.TrafficEvent) State {
	if len(ev.RequestBody) == 0 {
		return s
	}
	tmpl, err := monitor.NewRequestTemplate(ev.URL, ev.Method, ev.RequestHeaders, ev.RequestBody)
	if err != nil {
		e.logger.Debug("request body is not a template", zap.String("url", ev.URL), zap.Error(err))
		return s
	}
	if id := tmpl.TargetValue(e.cfg.TargetField); id != "" {
		s = s.WithCurrentTarget(id)
	}
	if _, ok := s.Template(); !ok {
		e.logger.Info("request template captured", zap.String("url", tmpl.URL), zap.String("method", tmpl.Method))
	}
	return s.WithTemplate(tmpl)
}
