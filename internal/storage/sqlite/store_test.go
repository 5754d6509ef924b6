package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "intel.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{})
	require.ErrorIs(t, err, monitor.ErrStoreInit)
}

func TestUpsertTargetIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	target := monitor.TargetEntity{TargetID: "S1", DisplayName: "Shop One", LastUpdated: baseTime}
	require.NoError(t, store.UpsertTarget(ctx, target))
	require.NoError(t, store.UpsertTarget(ctx, target))

	targets, err := store.ListTargets(ctx)
	require.NoError(t, err)
	require.Equal(t, []monitor.TargetEntity{target}, targets)
}

func TestUpsertTargetKeepsNameWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.UpsertTarget(ctx, monitor.TargetEntity{TargetID: "S1", DisplayName: "Shop One", LastUpdated: baseTime}))
	later := baseTime.Add(time.Hour)
	require.NoError(t, store.UpsertTarget(ctx, monitor.TargetEntity{TargetID: "S1", LastUpdated: later}))

	targets, err := store.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "Shop One", targets[0].DisplayName)
	require.Equal(t, later, targets[0].LastUpdated)

	require.NoError(t, store.UpsertTarget(ctx, monitor.TargetEntity{TargetID: "S1", DisplayName: "Renamed", LastUpdated: later}))
	targets, err = store.ListTargets(ctx)
	require.NoError(t, err)
	require.Equal(t, "Renamed", targets[0].DisplayName)
}

func TestAppendMetricKeepsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	item := monitor.MetricItem{
		ItemID:     "P1",
		Name:       "Phone case",
		PaidAmount: "1万-2.5万",
		CapturedAt: baseTime,
		Category:   monitor.CategoryProductList,
		Labels:     []string{"手机壳"},
		PaidValue:  17500,
	}
	require.NoError(t, store.AppendMetric(ctx, item))
	item.CapturedAt = baseTime.Add(time.Minute)
	require.NoError(t, store.AppendMetric(ctx, item))

	items, err := store.QueryRecent(ctx, baseTime, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, baseTime, items[0].CapturedAt)
	require.Equal(t, []string{"手机壳"}, items[0].Labels)
	require.Equal(t, monitor.CategoryProductList, items[1].Category)
	require.InDelta(t, 17500, items[1].PaidValue, 0.001)
	require.Empty(t, items[0].TargetID)
}

func TestWriteBatchRollsBackOnForeignKeyViolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	first := monitor.Batch{
		Targets: []monitor.TargetEntity{{TargetID: "A", DisplayName: "Alpha", LastUpdated: baseTime}},
		Items: []monitor.MetricItem{
			{ItemID: "P1", TargetID: "A", CapturedAt: baseTime},
			{ItemID: "P2", TargetID: "A", CapturedAt: baseTime},
		},
	}
	require.NoError(t, store.WriteBatch(ctx, first))

	bad := monitor.Batch{
		Items: []monitor.MetricItem{
			{ItemID: "P3", TargetID: "A", CapturedAt: baseTime},
			{ItemID: "P4", TargetID: "UNKNOWN", CapturedAt: baseTime},
		},
	}
	err := store.WriteBatch(ctx, bad)
	require.Error(t, err)
	require.True(t, errors.Is(err, monitor.ErrPersistence))

	items, err := store.QueryRecent(ctx, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "P1", items[0].ItemID)
	require.Equal(t, "P2", items[1].ItemID)
}

func TestWriteBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	require.NoError(t, store.WriteBatch(context.Background(), monitor.Batch{}))
}

func TestWriteBatchRejectsMissingIdentifiers(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	err := store.WriteBatch(context.Background(), monitor.Batch{Items: []monitor.MetricItem{{Name: "nameless"}}})
	require.ErrorIs(t, err, monitor.ErrPersistence)
}

func TestQueryRecentFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.WriteBatch(ctx, monitor.Batch{
		Targets: []monitor.TargetEntity{
			{TargetID: "A", LastUpdated: baseTime},
			{TargetID: "B", LastUpdated: baseTime},
		},
		Items: []monitor.MetricItem{
			{ItemID: "old", TargetID: "A", CapturedAt: baseTime.Add(-48 * time.Hour)},
			{ItemID: "a1", TargetID: "A", CapturedAt: baseTime},
			{ItemID: "b1", TargetID: "B", CapturedAt: baseTime.Add(time.Second)},
		},
	}))

	cases := []struct {
		name   string
		since  time.Time
		target string
		want   []string
	}{
		{name: "all recent", since: baseTime.Add(-time.Hour), want: []string{"a1", "b1"}},
		{name: "by target", since: baseTime.Add(-time.Hour), target: "B", want: []string{"b1"}},
		{name: "everything", since: time.Time{}, want: []string{"old", "a1", "b1"}},
		{name: "unknown target", since: time.Time{}, target: "Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := store.QueryRecent(ctx, tc.since, tc.target)
			require.NoError(t, err)
			var got []string
			for _, it := range items {
				got = append(got, it.ItemID)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestIsBusy(t *testing.T) {
	t.Parallel()
	require.False(t, isBusy(nil))
	require.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	require.True(t, isBusy(errors.New("database table is locked")))
	require.False(t, isBusy(errors.New("constraint failed")))
}
