package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

func TestScoreWeightsAndBonus(t *testing.T) {
	t.Parallel()

	mx := Maxima{PaidAmount: 200, ConversionRate: 0.5, ClickRate: 0.2}
	require.InDelta(t, 0.4+0.3+0.3+0.1, Score(Metrics{PaidAmount: 200, ConversionRate: 0.5, ClickRate: 0.2}, mx), 1e-9)
	require.InDelta(t, 0.4*0.5+0.3*0.5+0.3*0.5+0.1, Score(Metrics{PaidAmount: 100, ConversionRate: 0.25, ClickRate: 0.1}, mx), 1e-9)
	require.InDelta(t, 0, Score(Metrics{}, mx), 1e-9)
}

func TestScoreZeroMaximaContributeNothing(t *testing.T) {
	t.Parallel()

	got := Score(Metrics{PaidAmount: 5, ConversionRate: 1, ClickRate: 1}, Maxima{PaidAmount: 5})
	require.InDelta(t, 0.3+0.1, got, 1e-9)
	require.InDelta(t, 0, Score(Metrics{}, Maxima{}), 1e-9)
}

func TestScoreMonotonicInEachInput(t *testing.T) {
	t.Parallel()

	mx := Maxima{PaidAmount: 100, ConversionRate: 1, ClickRate: 1}
	base := Metrics{PaidAmount: 10, ConversionRate: 0.1, ClickRate: 0.1}
	bumps := []func(Metrics) Metrics{
		func(m Metrics) Metrics { m.PaidAmount += 10; return m },
		func(m Metrics) Metrics { m.ConversionRate += 0.1; return m },
		func(m Metrics) Metrics { m.ClickRate += 0.1; return m },
	}
	for _, bump := range bumps {
		require.Greater(t, Score(bump(base), mx), Score(base, mx))
	}
}

func TestScorePaidBonusIsStrict(t *testing.T) {
	t.Parallel()

	mx := Maxima{PaidAmount: 1e9, ConversionRate: 1, ClickRate: 1}
	without := Score(Metrics{ConversionRate: 0.3, ClickRate: 0.3}, mx)
	with := Score(Metrics{PaidAmount: 1e-6, ConversionRate: 0.3, ClickRate: 0.3}, mx)
	require.Less(t, without, with)
}

func TestMaximaOf(t *testing.T) {
	t.Parallel()

	got := MaximaOf([]Metrics{
		{PaidAmount: 1, ConversionRate: 0.5, ClickRate: 0.1},
		{PaidAmount: 3, ConversionRate: 0.2, ClickRate: 0.4},
	})
	require.Equal(t, Maxima{PaidAmount: 3, ConversionRate: 0.5, ClickRate: 0.4}, got)
	require.Equal(t, Maxima{}, MaximaOf(nil))
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := map[string]float64{
		"":            0,
		"-":           0,
		"¥1000-¥2500": 1750,
		"1,200":       1200,
		"3.5万":        35000,
		"1w-2w":       15000,
		"¥52.5":       52.5,
		"n/a":         0,
	}
	for in, want := range tests {
		require.InDelta(t, want, ParseAmount(in), 1e-9, in)
	}
}

func TestMetricsOfPrefersNumericPaid(t *testing.T) {
	t.Parallel()

	m := MetricsOf(monitor.MetricItem{PaidAmount: "¥10-¥20", PaidValue: 99, ConversionRate: 0.1})
	require.InDelta(t, 99, m.PaidAmount, 1e-9)
	m = MetricsOf(monitor.MetricItem{PaidAmount: "¥10-¥20"})
	require.InDelta(t, 15, m.PaidAmount, 1e-9)
}
