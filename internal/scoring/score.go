package scoring

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// Score weights.
const (
	WeightConversion = 0.4
	WeightPaid       = 0.3
	WeightClick      = 0.3
	PaidBonus        = 0.1
)

// Metrics are the numeric score inputs of one item.
type Metrics struct {
	PaidAmount     float64
	ConversionRate float64
	ClickRate      float64
}

// Maxima are the per-metric maxima over the population being ranked.
type Maxima struct {
	PaidAmount     float64
	ConversionRate float64
	ClickRate      float64
}

// Score computes 0.4*conversion + 0.3*paid + 0.3*click over normalized
// inputs, plus a flat bonus when the paid amount is positive. A metric whose
// maximum is zero contributes zero.
func Score(m Metrics, mx Maxima) float64 {
	s := WeightConversion*ratio(m.ConversionRate, mx.ConversionRate) +
		WeightPaid*ratio(m.PaidAmount, mx.PaidAmount) +
		WeightClick*ratio(m.ClickRate, mx.ClickRate)
	if m.PaidAmount > 0 {
		s += PaidBonus
	}
	return s
}

func ratio(v, limit float64) float64 {
	if limit == 0 {
		return 0
	}
	return v / limit
}

// MaximaOf returns the maxima across metrics.
func MaximaOf(all []Metrics) Maxima {
	var out Maxima
	for _, m := range all {
		out.PaidAmount = max(out.PaidAmount, m.PaidAmount)
		out.ConversionRate = max(out.ConversionRate, m.ConversionRate)
		out.ClickRate = max(out.ClickRate, m.ClickRate)
	}
	return out
}

// MetricsOf extracts score inputs from an item, falling back to parsing the
// textual paid amount when no numeric value was decoded.
func MetricsOf(item monitor.MetricItem) Metrics {
	paid := item.PaidValue
	if paid == 0 {
		paid = ParseAmount(item.PaidAmount)
	}
	return Metrics{
		PaidAmount:     paid,
		ConversionRate: item.ConversionRate,
		ClickRate:      item.ClickRate,
	}
}

var amountNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseAmount reads amounts such as "¥1000-¥2500" (midpoint), "1,200",
// "3.5万" or "2w". Unparseable text yields 0.
func ParseAmount(text string) float64 {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if s == "" || s == "-" {
		return 0
	}
	matches := amountNumber.FindAllStringIndex(s, 2)
	if len(matches) == 0 {
		return 0
	}
	var total float64
	for _, loc := range matches {
		v, err := strconv.ParseFloat(s[loc[0]:loc[1]], 64)
		if err != nil {
			return 0
		}
		total += v * unitAfter(s, loc[1])
	}
	return total / float64(len(matches))
}

func unitAfter(s string, idx int) float64 {
	rest := s[idx:]
	switch {
	case strings.HasPrefix(rest, "万"), strings.HasPrefix(rest, "w"), strings.HasPrefix(rest, "W"):
		return 10_000
	case strings.HasPrefix(rest, "亿"):
		return 100_000_000
	}
	return 1
}
