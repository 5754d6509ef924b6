package pipeline

import (
	"errors"
	"slices"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/orchestrator"
)

// Phase is the orchestration lifecycle position derived from a State.
type Phase string

// Lifecycle phases.
const (
	PhaseIdle          Phase = "idle"
	PhaseEnumerated    Phase = "enumerated"
	PhaseTemplateReady Phase = "template_ready"
	PhaseRunning       Phase = "running"
	PhaseCompleted     Phase = "completed"
)

// ErrNotReady is returned by Begin when targets or the template are missing.
var ErrNotReady = errors.New("pipeline is not ready to run")

// State is the accumulated pipeline state. Methods never mutate the
// receiver; they return an updated copy, so a State may be shared freely.
type State struct {
	targets       []monitor.TargetEntity
	template      *monitor.RequestTemplate
	currentTarget string
	processed     monitor.ProcessedSet
	running       bool
	completed     bool
	runSize       int
	last          *orchestrator.Summary
}

// NewState returns an idle State.
func NewState() State {
	return State{processed: monitor.ProcessedSet{}}
}

// Phase derives the lifecycle phase.
func (s State) Phase() Phase {
	switch {
	case s.running:
		return PhaseRunning
	case s.completed:
		return PhaseCompleted
	case len(s.targets) > 0 && s.template != nil:
		return PhaseTemplateReady
	case len(s.targets) > 0:
		return PhaseEnumerated
	}
	return PhaseIdle
}

// Ready reports whether orchestration may start.
func (s State) Ready() bool {
	return s.Phase() == PhaseTemplateReady
}

// WithTargets merges newly enumerated targets, keeping first-sighting order.
// Resighted targets refresh their display name when the new one is set. A
// completed State that gains a target becomes ready again.
func (s State) WithTargets(targets []monitor.TargetEntity) State {
	if len(targets) == 0 {
		return s
	}
	merged := slices.Clone(s.targets)
	index := make(map[string]int, len(merged))
	for i, t := range merged {
		index[t.TargetID] = i
	}
	for _, t := range targets {
		if t.TargetID == "" {
			continue
		}
		if i, ok := index[t.TargetID]; ok {
			if t.DisplayName != "" {
				merged[i].DisplayName = t.DisplayName
			}
			continue
		}
		index[t.TargetID] = len(merged)
		merged = append(merged, t)
	}
	if len(merged) > len(s.targets) {
		s.completed = false
	}
	s.targets = merged
	return s
}

// WithTemplate records tmpl unless a template was already captured.
func (s State) WithTemplate(tmpl monitor.RequestTemplate) State {
	if s.template != nil {
		return s
	}
	s.template = &tmpl
	return s
}

// WithCurrentTarget records the target the user is looking at.
func (s State) WithCurrentTarget(id string) State {
	s.currentTarget = id
	return s
}

// Begin moves a ready State to running.
func (s State) Begin() (State, error) {
	if !s.Ready() {
		return s, ErrNotReady
	}
	s.running = true
	s.runSize = len(s.targets)
	return s, nil
}

// Complete folds a finished run into the State. A canceled run leaves the
// State ready so the remaining targets can be resumed, as does a run that
// finished while targets it never saw were merged in.
func (s State) Complete(summary orchestrator.Summary, processed monitor.ProcessedSet) State {
	late := s.targets[min(s.runSize, len(s.targets)):]
	unseen := slices.ContainsFunc(late, func(t monitor.TargetEntity) bool {
		return !processed.Has(t.TargetID)
	})
	s.running = false
	s.completed = !summary.Canceled && !unseen
	s.processed = processed.Clone()
	s.last = &summary
	return s
}

// Targets returns a copy of the enumerated targets.
func (s State) Targets() []monitor.TargetEntity {
	return slices.Clone(s.targets)
}

// Template returns the captured template.
func (s State) Template() (monitor.RequestTemplate, bool) {
	if s.template == nil {
		return monitor.RequestTemplate{}, false
	}
	return *s.template, true
}

// CurrentTarget is the target id of the last observed product-list request.
func (s State) CurrentTarget() string {
	return s.currentTarget
}

// Processed returns a copy of the processed set.
func (s State) Processed() monitor.ProcessedSet {
	return s.processed.Clone()
}

// LastSummary returns the most recent run summary.
func (s State) LastSummary() (orchestrator.Summary, bool) {
	if s.last == nil {
		return orchestrator.Summary{}, false
	}
	return *s.last, true
}

// View is the JSON rendering of a State.
type View struct {
	Phase         Phase                 `json:"phase"`
	Targets       int                   `json:"targets"`
	TemplateURL   string                `json:"template_url,omitempty"`
	CurrentTarget string                `json:"current_target,omitempty"`
	Processed     []string              `json:"processed"`
	LastRun       *orchestrator.Summary `json:"last_run,omitempty"`
}

// View summarizes the State for reporting.
func (s State) View() View {
	v := View{
		Phase:         s.Phase(),
		Targets:       len(s.targets),
		CurrentTarget: s.currentTarget,
		Processed:     s.processed.IDs(),
		LastRun:       s.last,
	}
	if s.template != nil {
		v.TemplateURL = s.template.URL
	}
	return v
}
