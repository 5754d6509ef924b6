package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/metrics"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// ingestBody runs one classified response through archive, decode, tag and
// store. An identical body seen again is a new observation and is stored
// again. It returns the decoded targets so shop-list enumeration reaches the
// state even when the store write fails.
func (e *Engine) ingestBody(
	ctx context.Context,
	s State,
	category monitor.Category,
	ev monitor.TrafficEvent,
	out Outcome,
) (Outcome, []monitor.TargetEntity) {
	if ev.StatusCode != 0 && !ev.Succeeded() {
		out.Status = StatusRejected
		out.Err = fmt.Errorf("%w: status %d", monitor.ErrReplay, ev.StatusCode)
		return out, nil
	}

	uri, err := e.deps.Archiver.Raw(ctx, category, ev.Body)
	if err != nil {
		e.logger.Warn("archive body failed", zap.String("url", ev.URL), zap.Error(err))
	}
	out.ObjectURI = uri

	records, err := e.deps.Decoder.Decode(category, ev.Body)
	if err != nil {
		metrics.ObserveDecodeError(string(category))
		if _, aerr := e.deps.Archiver.Undecodable(ctx, category, ev.Body); aerr != nil {
			e.logger.Warn("archive undecodable body failed", zap.Error(aerr))
		}
		out.Status = StatusFailed
		out.Err = fmt.Errorf("decode %s: %w", category, err)
		return out, nil
	}

	batch := monitor.SplitRecords(records)
	e.enrich(s, category, &batch)
	out.Targets, out.Items = len(batch.Targets), len(batch.Items)
	if batch.Empty() {
		out.Status = StatusDecoded
		return out, batch.Targets
	}
	if err := e.deps.Store.WriteBatch(ctx, batch); err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("write batch: %w", err)
		return out, batch.Targets
	}
	metrics.ObserveRecords(len(batch.Targets), len(batch.Items))
	out.Status = StatusDecoded
	return out, batch.Targets
}

// enrich stamps capture time, attributes passive product captures to the
// current target and labels items that carry free text.
func (e *Engine) enrich(s State, category monitor.Category, batch *monitor.Batch) {
	now := e.deps.Clock.Now()
	owner := ""
	if category == monitor.CategoryProductList {
		owner = s.CurrentTarget()
	}
	known := make(map[string]bool, len(batch.Targets))
	for i := range batch.Targets {
		if batch.Targets[i].LastUpdated.IsZero() {
			batch.Targets[i].LastUpdated = now
		}
		known[batch.Targets[i].TargetID] = true
	}
	for i := range batch.Items {
		item := &batch.Items[i]
		if item.TargetID == "" {
			item.TargetID = owner
		}
		if item.CapturedAt.IsZero() {
			item.CapturedAt = now
		}
		if e.deps.Labeler != nil && len(item.Labels) == 0 && (item.Name != "" || len(item.Hashtags) > 0) {
			item.Labels = e.deps.Labeler.Labels(item.Name, item.Hashtags)
		}
		if item.TargetID != "" && !known[item.TargetID] {
			known[item.TargetID] = true
			batch.Targets = append(batch.Targets, monitor.TargetEntity{TargetID: item.TargetID, LastUpdated: now})
		}
	}
}
