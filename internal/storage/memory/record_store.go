package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// RecordStore implements monitor.Store in memory. A batch that references an
// unknown target is rejected as a whole, like the SQL stores.
type RecordStore struct {
	mu      sync.RWMutex
	targets map[string]monitor.TargetEntity
	items   []monitor.MetricItem
	now     func() time.Time
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		targets: make(map[string]monitor.TargetEntity),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpsertTarget inserts or refreshes one target.
func (s *RecordStore) UpsertTarget(ctx context.Context, target monitor.TargetEntity) error {
	return s.WriteBatch(ctx, monitor.Batch{Targets: []monitor.TargetEntity{target}})
}

// AppendMetric appends one capture row.
func (s *RecordStore) AppendMetric(ctx context.Context, item monitor.MetricItem) error {
	return s.WriteBatch(ctx, monitor.Batch{Items: []monitor.MetricItem{item}})
}

// WriteBatch validates the whole batch before applying any of it.
func (s *RecordStore) WriteBatch(_ context.Context, batch monitor.Batch) error {
	if batch.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]monitor.TargetEntity, len(batch.Targets))
	for _, t := range batch.Targets {
		if t.TargetID == "" {
			return fmt.Errorf("%w: target id is required", monitor.ErrPersistence)
		}
		prev, ok := staged[t.TargetID]
		if !ok {
			prev, ok = s.targets[t.TargetID]
		}
		if t.DisplayName == "" && ok {
			t.DisplayName = prev.DisplayName
		}
		if t.LastUpdated.IsZero() {
			t.LastUpdated = s.now()
		}
		staged[t.TargetID] = t
	}
	items := make([]monitor.MetricItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		if it.ItemID == "" {
			return fmt.Errorf("%w: item id is required", monitor.ErrPersistence)
		}
		if it.TargetID != "" {
			_, inBatch := staged[it.TargetID]
			_, known := s.targets[it.TargetID]
			if !inBatch && !known {
				return fmt.Errorf("%w: item %s references unknown target %s", monitor.ErrPersistence, it.ItemID, it.TargetID)
			}
		}
		if it.CapturedAt.IsZero() {
			it.CapturedAt = s.now()
		}
		it.Labels = slices.Clone(it.Labels)
		it.Hashtags = nil
		items = append(items, it)
	}
	for id, t := range staged {
		s.targets[id] = t
	}
	s.items = append(s.items, items...)
	return nil
}

// QueryRecent returns rows captured at or after since, oldest first.
func (s *RecordStore) QueryRecent(_ context.Context, since time.Time, targetID string) ([]monitor.MetricItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.MetricItem
	for _, it := range s.items {
		if it.CapturedAt.Before(since) {
			continue
		}
		if targetID != "" && it.TargetID != targetID {
			continue
		}
		it.Labels = slices.Clone(it.Labels)
		out = append(out, it)
	}
	slices.SortStableFunc(out, func(a, b monitor.MetricItem) int {
		return a.CapturedAt.Compare(b.CapturedAt)
	})
	return out, nil
}

// ListTargets returns every target ordered by id.
func (s *RecordStore) ListTargets(_ context.Context) ([]monitor.TargetEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.TargetEntity, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b monitor.TargetEntity) int {
		switch {
		case a.TargetID < b.TargetID:
			return -1
		case a.TargetID > b.TargetID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }
