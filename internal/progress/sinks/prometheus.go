package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/storefront-intel/internal/progress"
)

// PrometheusSink exports run and per-target progress as Prometheus metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsActive    prometheus.Gauge
	runRuntime    prometheus.Histogram

	targets        *prometheus.CounterVec
	itemsCommitted prometheus.Counter
	targetDuration *prometheus.HistogramVec

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intel_progress_runs_started_total",
			Help: "Orchestration runs that have started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intel_progress_runs_completed_total",
			Help: "Orchestration runs that have finished.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intel_progress_runs_active",
			Help: "Orchestration runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intel_progress_run_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intel_progress_targets_total",
			Help: "Per-target outcomes partitioned by result.",
		}, []string{"result"}),
		itemsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intel_progress_items_total",
			Help: "Metric rows committed by replays.",
		}),
		targetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intel_progress_target_seconds",
			Help:    "Replay duration per target partitioned by result.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		active: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runRuntime,
		s.targets, s.itemsCommitted, s.targetDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone:
			s.runsCompleted.Inc()
			if evt.Dur > 0 {
				s.runRuntime.Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.StageTargetDone:
			s.observeTarget("success", evt)
			s.itemsCommitted.Add(float64(evt.Items))
		case progress.StageTargetError:
			s.observeTarget("error", evt)
		case progress.StageTargetSkip:
			s.targets.WithLabelValues("skipped").Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) observeTarget(result string, evt progress.Event) {
	s.targets.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.targetDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// track adds or removes a run and reports whether the set changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	switch {
	case start && !ok:
		s.active[runID] = struct{}{}
		return true
	case !start && ok:
		delete(s.active, runID)
		return true
	}
	return false
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
