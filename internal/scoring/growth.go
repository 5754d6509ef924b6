package scoring

import (
	"cmp"
	"regexp"
	"strconv"
	"strings"
)

// Growth tiers. Unknown ranks above negative and below any measured positive.
const (
	TierNegative = -1
	TierUnknown  = 0
	TierPositive = 1
)

// Growth is the sort key parsed from a growth-rate text.
type Growth struct {
	Tier  int     `json:"tier"`
	Value float64 `json:"value"`
}

var (
	negativeRange = regexp.MustCompile(`^-(\d+(?:\.\d+)?)%-{2}(\d+(?:\.\d+)?)%$`)
	positiveRange = regexp.MustCompile(`^\+?(\d+(?:\.\d+)?)%-\+?(\d+(?:\.\d+)?)%$`)
	barePercent   = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)%$`)
)

// ParseGrowth parses growth text:
//
//	""  or "-"    -> (0, 0)
//	"X%-Y%"       -> (1, -(X+Y)/2)
//	"-X%--Y%"     -> (-1, (X+Y)/2)
//	"X%"          -> (1, -X); "-X%" -> (-1, X)
//
// Anything else degrades to (0, 0).
func ParseGrowth(text string) Growth {
	s := strings.Join(strings.Fields(text), "")
	if s == "" || s == "-" {
		return Growth{}
	}
	if m := negativeRange.FindStringSubmatch(s); m != nil {
		return Growth{Tier: TierNegative, Value: avg(m[1], m[2])}
	}
	if m := positiveRange.FindStringSubmatch(s); m != nil {
		return Growth{Tier: TierPositive, Value: -avg(m[1], m[2])}
	}
	if m := barePercent.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Growth{}
		}
		if v < 0 {
			return Growth{Tier: TierNegative, Value: -v}
		}
		return Growth{Tier: TierPositive, Value: -v}
	}
	return Growth{}
}

func avg(a, b string) float64 {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return 0
	}
	return (x + y) / 2
}

// CompareGrowth orders by tier descending, then value ascending. It is the
// comparison used for growth rankings; negative results rank a first.
func CompareGrowth(a, b Growth) int {
	if c := cmp.Compare(b.Tier, a.Tier); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}
