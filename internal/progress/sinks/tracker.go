package sinks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/storefront-intel/internal/progress"
)

// RunStatus is the folded view of one run's progress events.
type RunStatus struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Targets    int               `json:"targets"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Items      int               `json:"items"`
	Current    string            `json:"current,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Tracker keeps the most recent runs in memory for status endpoints.
type Tracker struct {
	mu    sync.RWMutex
	keep  int
	order []string
	runs  map[string]*RunStatus
}

// NewTracker retains at most keep runs (default 20).
func NewTracker(keep int) *Tracker {
	if keep <= 0 {
		keep = 20
	}
	return &Tracker{keep: keep, runs: make(map[string]*RunStatus)}
}

// Consume folds events into per-run status.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		run := t.run(evt.RunID, evt.TS)
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
			run.Targets = evt.Items
		case progress.StageTargetStart:
			run.Current = evt.TargetID
		case progress.StageTargetDone:
			run.Succeeded++
			run.Items += evt.Items
			run.Current = ""
		case progress.StageTargetError:
			run.Failed++
			if run.Errors == nil {
				run.Errors = make(map[string]string)
			}
			run.Errors[evt.TargetID] = evt.Note
			run.Current = ""
		case progress.StageTargetSkip:
			run.Skipped++
		case progress.StageRunDone:
			ts := evt.TS
			run.FinishedAt = &ts
			run.Current = ""
		}
	}
	return nil
}

func (t *Tracker) run(id string, ts time.Time) *RunStatus {
	if r, ok := t.runs[id]; ok {
		return r
	}
	r := &RunStatus{RunID: id, StartedAt: ts}
	t.runs[id] = r
	t.order = append(t.order, id)
	if len(t.order) > t.keep {
		delete(t.runs, t.order[0])
		t.order = t.order[1:]
	}
	return r
}

// Runs returns copies of the retained runs, newest first.
func (t *Tracker) Runs() []RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunStatus, 0, len(t.order))
	for _, id := range slices.Backward(t.order) {
		out = append(out, copyStatus(t.runs[id]))
	}
	return out
}

// Run returns one run by id.
func (t *Tracker) Run(id string) (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[id]
	if !ok {
		return RunStatus{}, false
	}
	return copyStatus(r), true
}

func copyStatus(r *RunStatus) RunStatus {
	out := *r
	if r.Errors != nil {
		out.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			out.Errors[k] = v
		}
	}
	if r.FinishedAt != nil {
		ts := *r.FinishedAt
		out.FinishedAt = &ts
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}
