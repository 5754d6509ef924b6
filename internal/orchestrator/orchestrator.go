// Package orchestrator replays a captured request template across every
// enumerated target, one at a time, persisting each target's records before
// marking it processed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/archive"
	"github.com/JakeFAU/storefront-intel/internal/metrics"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/progress"
)

const defaultRequestTimeout = 30 * time.Second

// Labeler derives labels for a decoded item name.
type Labeler interface {
	Labels(freeText string, hashtags []string) []string
}

// Config controls Orchestrator behavior.
type Config struct {
	// TargetField is the template body key the target id is written to.
	TargetField string
	// Category selects the decoder strategy for replay responses.
	Category       monitor.Category
	RequestTimeout time.Duration
	// Topic receives the run summary when a publisher is set.
	Topic string
}

// Deps are the collaborators of an Orchestrator. Archiver, Labeler,
// Publisher and Progress are optional.
type Deps struct {
	Sender    monitor.Sender
	Decoder   monitor.Decoder
	Store     monitor.Store
	Pacer     monitor.Pacer
	Clock     monitor.Clock
	IDs       monitor.IDGenerator
	Archiver  *archive.Archiver
	Labeler   Labeler
	Publisher monitor.Publisher
	Progress  progress.Emitter
}

// Orchestrator executes the Running phase of the pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Sender == nil || deps.Decoder == nil || deps.Store == nil {
		return nil, errors.New("sender, decoder and store are required")
	}
	if deps.Pacer == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("pacer, clock and id generator are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	if cfg.TargetField == "" {
		return nil, errors.New("target field is required")
	}
	if cfg.Category == "" {
		cfg.Category = monitor.CategoryProductList
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("orchestrator")}, nil
}

// Run replays tmpl for every target not already in processed, in order. It
// returns the summary and the updated processed set; processed itself is
// not modified. Cancellation of ctx is observed between targets only.
func (o *Orchestrator) Run(
	ctx context.Context,
	targets []monitor.TargetEntity,
	tmpl monitor.RequestTemplate,
	processed monitor.ProcessedSet,
) (Summary, monitor.ProcessedSet) {
	done := processed.Clone()
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("run id generation failed", zap.Error(err))
		runID = fmt.Sprintf("run-%d", o.deps.Clock.Now().UnixNano())
	}
	summary := Summary{RunID: runID, Total: len(targets), StartedAt: o.deps.Clock.Now()}

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()
	o.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Items: len(targets)})
	o.logger.Info("orchestration started", zap.String("run_id", runID), zap.Int("targets", len(targets)))

	for i, target := range targets {
		id := target.TargetID
		if id != "" && done.Has(id) {
			summary.Skipped++
			o.emit(progress.Event{RunID: runID, Stage: progress.StageTargetSkip, TargetID: id})
			continue
		}
		if id == "" {
			o.fail(&summary, id, ReasonMissingID, errors.New("target has no id"), 0)
			continue
		}
		if err := o.gate(ctx, tmpl.URL); err != nil {
			summary.Canceled = true
			summary.Remaining = countRemaining(targets[i:], done)
			o.logger.Info("orchestration canceled", zap.String("run_id", runID), zap.Int("remaining", summary.Remaining))
			break
		}

		start := o.deps.Clock.Now()
		o.emit(progress.Event{RunID: runID, Stage: progress.StageTargetStart, TargetID: id})
		items, reason, err := o.replayTarget(ctx, tmpl, target)
		if err != nil {
			o.fail(&summary, id, reason, err, o.deps.Clock.Now().Sub(start))
			continue
		}
		done = done.With(id)
		summary.Succeeded++
		summary.Items += items
		metrics.ObserveReplay("ok")
		o.emit(progress.Event{
			RunID: runID, Stage: progress.StageTargetDone, TargetID: id,
			Items: items, Dur: o.deps.Clock.Now().Sub(start),
		})
		o.logger.Debug("target replayed", zap.String("run_id", runID), zap.String("target_id", id), zap.Int("items", items))
	}

	summary.FinishedAt = o.deps.Clock.Now()
	dur := summary.FinishedAt.Sub(summary.StartedAt)
	metrics.ObserveRun(summary.Status(), dur)
	o.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, Items: summary.Items, Dur: dur, Note: summary.Status()})
	o.logger.Info("orchestration finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("remaining", summary.Remaining),
		zap.Bool("canceled", summary.Canceled),
	)
	o.publish(ctx, summary)
	return summary, done
}

// gate waits on the pacer before every dispatch. The pacer's first token is
// free, so the first replay goes out at once and each later one waits a full
// interval. It is the only point where cancellation interrupts a run.
func (o *Orchestrator) gate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.deps.Pacer.Wait(ctx, url); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}

// replayTarget runs one target to completion. It ignores cancellation of
// ctx; the request timeout still applies.
func (o *Orchestrator) replayTarget(
	ctx context.Context,
	tmpl monitor.RequestTemplate,
	target monitor.TargetEntity,
) (int, string, error) {
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
	defer cancel()

	req, err := tmpl.Synthesize(o.cfg.TargetField, target.TargetID)
	if err != nil {
		return 0, ReasonReplay, fmt.Errorf("%w: %w", monitor.ErrReplay, err)
	}
	resp, err := o.deps.Sender.Send(workCtx, req)
	if err != nil {
		return 0, ReasonReplay, fmt.Errorf("send replay: %w", err)
	}
	if !resp.Succeeded() {
		return 0, ReasonStatus, fmt.Errorf("%w: unexpected status %d", monitor.ErrReplay, resp.StatusCode)
	}

	if _, err := o.deps.Archiver.Raw(workCtx, o.cfg.Category, resp.Body); err != nil {
		o.logger.Warn("archive replay body failed", zap.String("target_id", target.TargetID), zap.Error(err))
	}
	records, err := o.deps.Decoder.Decode(o.cfg.Category, resp.Body)
	if err != nil {
		metrics.ObserveDecodeError(string(o.cfg.Category))
		if _, aerr := o.deps.Archiver.Undecodable(workCtx, o.cfg.Category, resp.Body); aerr != nil {
			o.logger.Warn("archive undecodable body failed", zap.Error(aerr))
		}
		return 0, ReasonDecode, fmt.Errorf("decode replay: %w", err)
	}
	batch := monitor.SplitRecords(records)
	if len(batch.Items) == 0 {
		return 0, ReasonNoRecords, fmt.Errorf("%w for target %s", monitor.ErrNoRecords, target.TargetID)
	}

	now := o.deps.Clock.Now()
	for i := range batch.Items {
		item := &batch.Items[i]
		item.TargetID = target.TargetID
		item.CapturedAt = now
		if o.deps.Labeler != nil && len(item.Labels) == 0 {
			item.Labels = o.deps.Labeler.Labels(item.Name, item.Hashtags)
		}
	}
	owner := target
	owner.LastUpdated = now
	batch.Targets = append([]monitor.TargetEntity{owner}, batch.Targets...)

	if err := o.deps.Store.WriteBatch(workCtx, batch); err != nil {
		return 0, ReasonPersist, fmt.Errorf("write batch: %w", err)
	}
	metrics.ObserveRecords(len(batch.Targets), len(batch.Items))
	return len(batch.Items), "", nil
}

func (o *Orchestrator) fail(summary *Summary, id, reason string, err error, dur time.Duration) {
	summary.Failed++
	summary.Failures = append(summary.Failures, TargetFailure{TargetID: id, Reason: reason, Error: err.Error()})
	metrics.ObserveReplay(reason)
	o.emit(progress.Event{
		RunID: summary.RunID, Stage: progress.StageTargetError, TargetID: id,
		Dur: dur, Note: reason,
	})
	o.logger.Warn("target failed",
		zap.String("run_id", summary.RunID),
		zap.String("target_id", id),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.TS = o.deps.Clock.Now().UTC()
	o.deps.Progress.Emit(evt)
}

func (o *Orchestrator) publish(ctx context.Context, summary Summary) {
	if o.cfg.Topic == "" || o.deps.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
	defer cancel()
	if _, err := o.deps.Publisher.Publish(pubCtx, o.cfg.Topic, summary); err != nil {
		o.logger.Warn("publish run summary failed", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}

func countRemaining(targets []monitor.TargetEntity, done monitor.ProcessedSet) int {
	n := 0
	for _, t := range targets {
		if t.TargetID == "" || !done.Has(t.TargetID) {
			n++
		}
	}
	return n
}
