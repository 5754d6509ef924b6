package scoring

import (
	"cmp"
	"slices"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// Ranked pairs an item with its computed keys.
type Ranked struct {
	Item   monitor.MetricItem `json:"item"`
	Growth Growth             `json:"growth"`
	Score  float64            `json:"score"`
}

// TopN walks items in their given order and keeps the first occurrence of
// each key until n distinct keys are collected. Items must already be sorted.
func TopN[T any](items []T, n int, key func(T) string) []T {
	if n <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, n)
	out := make([]T, 0, min(n, len(items)))
	for _, it := range items {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}

// ItemKey is the default dedup key.
func ItemKey(r Ranked) string {
	return r.Item.ItemID
}

// Evaluate computes growth and score for every item. Maxima are taken over
// the whole input.
func Evaluate(items []monitor.MetricItem) []Ranked {
	metrics := make([]Metrics, len(items))
	for i, it := range items {
		metrics[i] = MetricsOf(it)
	}
	maxima := MaximaOf(metrics)
	out := make([]Ranked, len(items))
	for i, it := range items {
		out[i] = Ranked{
			Item:   it,
			Growth: ParseGrowth(it.GrowthRateText),
			Score:  Score(metrics[i], maxima),
		}
	}
	return out
}

// SortByGrowth stably orders by CompareGrowth.
func SortByGrowth(ranked []Ranked) {
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		return CompareGrowth(a.Growth, b.Growth)
	})
}

// SortByScore stably orders by score descending; ties keep input order.
func SortByScore(ranked []Ranked) {
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

// RankByGrowth returns the deduplicated top n items by growth.
func RankByGrowth(items []monitor.MetricItem, n int) []Ranked {
	ranked := Evaluate(items)
	SortByGrowth(ranked)
	return TopN(ranked, n, ItemKey)
}

// RankByScore returns the deduplicated top n items by composite score.
func RankByScore(items []monitor.MetricItem, n int) []Ranked {
	ranked := Evaluate(items)
	SortByScore(ranked)
	return TopN(ranked, n, ItemKey)
}

// RankByTarget groups items by target and ranks each group by growth.
// Items without a target are skipped.
func RankByTarget(items []monitor.MetricItem, n int) map[string][]Ranked {
	groups := map[string][]monitor.MetricItem{}
	for _, it := range items {
		if it.TargetID == "" {
			continue
		}
		groups[it.TargetID] = append(groups[it.TargetID], it)
	}
	out := make(map[string][]Ranked, len(groups))
	for target, group := range groups {
		out[target] = RankByGrowth(group, n)
	}
	return out
}
