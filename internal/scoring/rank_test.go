package scoring

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

func TestTopNDeduplicatesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	sorted := []string{"a", "b", "a", "c", "b", "d", "e", "f"}
	got := TopN(sorted, 5, func(s string) string { return s })
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)

	require.Nil(t, TopN(sorted, 0, func(s string) string { return s }))
	require.Equal(t, []string{"a", "b"}, TopN([]string{"a", "a", "b"}, 10, func(s string) string { return s }))
}

func TestRankByScoreIsDedupedSubsequence(t *testing.T) {
	t.Parallel()

	var items []monitor.MetricItem
	for i := range 12 {
		items = append(items, monitor.MetricItem{
			ItemID:         "p" + strconv.Itoa(i%4),
			PaidValue:      float64(i),
			ConversionRate: float64(i%3) / 10,
			ClickRate:      float64(i%5) / 10,
		})
	}
	full := Evaluate(items)
	SortByScore(full)
	top := RankByScore(items, 5)

	require.LessOrEqual(t, len(top), 5)
	seen := map[string]bool{}
	for _, r := range top {
		require.False(t, seen[r.Item.ItemID], "duplicate %s", r.Item.ItemID)
		seen[r.Item.ItemID] = true
	}
	j := 0
	for _, r := range full {
		if j < len(top) && r.Item.ItemID == top[j].Item.ItemID && r.Item.PaidValue == top[j].Item.PaidValue {
			j++
		}
	}
	require.Equal(t, len(top), j, "top-N must be a subsequence of the sorted order")
}

func TestSortByScoreIsStableOnTies(t *testing.T) {
	t.Parallel()

	items := []monitor.MetricItem{{ItemID: "x"}, {ItemID: "y"}, {ItemID: "z"}}
	ranked := Evaluate(items)
	SortByScore(ranked)
	require.Equal(t, "x", ranked[0].Item.ItemID)
	require.Equal(t, "y", ranked[1].Item.ItemID)
	require.Equal(t, "z", ranked[2].Item.ItemID)
}

func TestRankByGrowthKeepsBestCapturePerItem(t *testing.T) {
	t.Parallel()

	items := []monitor.MetricItem{
		{ItemID: "a", GrowthRateText: "10%-20%"},
		{ItemID: "b", GrowthRateText: "-"},
		{ItemID: "a", GrowthRateText: "100%-200%"},
		{ItemID: "c", GrowthRateText: "-5%--10%"},
	}
	got := RankByGrowth(items, 5)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].Item.ItemID)
	require.Equal(t, "100%-200%", got[0].Item.GrowthRateText)
	require.Equal(t, "b", got[1].Item.ItemID)
	require.Equal(t, "c", got[2].Item.ItemID)
}

func TestRankByTarget(t *testing.T) {
	t.Parallel()

	items := []monitor.MetricItem{
		{ItemID: "a", TargetID: "s1", GrowthRateText: "1%"},
		{ItemID: "b", TargetID: "s1", GrowthRateText: "9%"},
		{ItemID: "c", TargetID: "s2"},
		{ItemID: "d"},
	}
	got := RankByTarget(items, 1)
	require.Len(t, got, 2)
	require.Equal(t, "b", got["s1"][0].Item.ItemID)
	require.Len(t, got["s2"], 1)
}
