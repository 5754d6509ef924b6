package tagger

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagCombinesBrandModelType(t *testing.T) {
	t.Parallel()

	got := New().Labels("华为Mate60 Pro 新款手机壳", nil)
	require.Equal(t, []string{"华为Mate60手机壳", "华为Pro手机壳"}, got)
}

func TestTagCartesianCappedAtFive(t *testing.T) {
	t.Parallel()

	got := New().Labels("华为 小米 Mate60 Pro Max 手机壳 充电器", nil)
	require.Len(t, got, MaxLabels)
	require.Equal(t, "华为Mate60手机壳", got[0])
	require.Equal(t, "华为Mate60充电器", got[1])
	require.Equal(t, "华为Pro手机壳", got[2])
}

func TestTagSingleMatchesWithoutFullCombination(t *testing.T) {
	t.Parallel()

	got := New().Labels("透明款 防摔 手机壳", []string{"磁吸支架"})
	require.Equal(t, []string{"手机壳", "磁吸支架", "透明款", "防摔"}, got)
}

func TestTagHashtagContributesWholeTag(t *testing.T) {
	t.Parallel()

	got := New().Labels("", []string{"iPhone15手机壳推荐", "日常"})
	require.Equal(t, []string{"iPhone15手机壳推荐"}, got)
}

func TestTagIdeographFallback(t *testing.T) {
	t.Parallel()

	got := New().Labels("我们 今天 分享 一款 好物 推荐", nil)
	require.Equal(t, []string{"今天", "分享", "一款"}, got)
}

func TestTagNoLabels(t *testing.T) {
	t.Parallel()

	require.Empty(t, New().Labels("hello world", nil))
	require.Empty(t, New().Labels("", nil))
}

func TestTagIsRestartable(t *testing.T) {
	t.Parallel()

	seq := New().Tag("华为Mate60手机壳", nil)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestTagStopsEarly(t *testing.T) {
	t.Parallel()

	var got []string
	for label := range New().Tag("华为 小米 Mate60 Pro 手机壳", nil) {
		got = append(got, label)
		if len(got) == 2 {
			break
		}
	}
	require.Len(t, got, 2)
}

func TestTagTruncatesLongLabels(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("手", 60) + "机壳"
	got := New().Labels("", []string{long})
	require.Len(t, got, 1)
	require.Equal(t, 50, len([]rune(got[0])))
}
