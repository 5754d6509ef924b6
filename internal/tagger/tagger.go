// Package tagger derives best-effort product labels from free text and
// hashtags using layered category patterns. Output is bounded and may contain
// duplicates or nonsensical combinations; it is not entity resolution.
package tagger

import (
	"iter"
	"regexp"
	"slices"
)

const (
	// MaxLabels caps every label sequence.
	MaxLabels = 5
	// maxFallback caps labels produced by the ideograph fallback.
	maxFallback = 3
	// maxLabelRunes truncates each label.
	maxLabelRunes = 50
)

// Category is one named pattern group.
type Category struct {
	Name     string
	Patterns []*regexp.Regexp
}

var defaultCategories = []Category{
	{Name: "brand", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`华为|苹果|小米|OPPO|vivo|三星|荣耀|realme|一加|魅族`),
	}},
	{Name: "model", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`Mate[0-9]+|P[0-9]+|iPhone[0-9]+|iPhone SE|iPhone X[0-9]*|Pro|Max|Ultra|Plus|Note[0-9]+|S[0-9]+`),
	}},
	{Name: "product-type", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`手机壳|保护套|手机膜|钢化膜|保护壳|充电器|数据线|充电宝|耳机|支架|散热背夹|手机支架`),
	}},
	{Name: "variant", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`保时捷|非凡大师|典藏版|限量版|联名款|定制款|透明款|磨砂款|液态硅胶|全包款|防摔款`),
	}},
	{Name: "feature", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`防摔|防水|全包|散热|快充|无线充|磁吸|隐形支架|镜头保护|防指纹`),
	}},
}

var (
	ideographRun = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]{2,}`)
	stopWords    = map[string]bool{
		"这个": true, "那个": true, "我们": true, "你们": true, "他们": true,
		"的": true, "了": true, "是": true, "在": true, "我": true,
		"有": true, "和": true, "就": true, "不": true, "人": true, "都": true,
	}
)

// Tagger holds an ordered category list. The first three categories are
// combined as brand, model and product type.
type Tagger struct {
	categories []Category
}

// New returns a Tagger over the built-in categories.
func New() *Tagger {
	return &Tagger{categories: defaultCategories}
}

// Tag yields at most MaxLabels candidate labels. The sequence is computed on
// each iteration and can be ranged over repeatedly.
func (t *Tagger) Tag(freeText string, hashtags []string) iter.Seq[string] {
	hashtags = slices.Clone(hashtags)
	return func(yield func(string) bool) {
		emitted := 0
		emit := func(label string) bool {
			if emitted >= MaxLabels {
				return false
			}
			emitted++
			return yield(truncate(label))
		}

		matches := t.collect(freeText, hashtags)
		if len(matches) >= 3 && len(matches[0]) > 0 && len(matches[1]) > 0 && len(matches[2]) > 0 {
			for _, brand := range matches[0] {
				for _, model := range matches[1] {
					for _, kind := range matches[2] {
						if !emit(brand + model + kind) {
							return
						}
					}
				}
			}
			return
		}

		seen := map[string]bool{}
		matched := false
		for _, group := range matches {
			for _, m := range group {
				matched = true
				if seen[m] {
					continue
				}
				seen[m] = true
				if !emit(m) {
					return
				}
			}
		}
		if matched {
			return
		}

		fallback := 0
		for _, run := range ideographRun.FindAllString(freeText, -1) {
			if stopWords[run] {
				continue
			}
			if fallback >= maxFallback || !emit(run) {
				return
			}
			fallback++
		}
	}
}

// Labels collects Tag into a slice.
func (t *Tagger) Labels(freeText string, hashtags []string) []string {
	return slices.Collect(t.Tag(freeText, hashtags))
}

// collect returns the per-category matches, exact duplicates removed, in
// first-seen order. A hashtag that matches contributes the whole hashtag.
func (t *Tagger) collect(freeText string, hashtags []string) [][]string {
	out := make([][]string, len(t.categories))
	for i, cat := range t.categories {
		seen := map[string]bool{}
		add := func(s string) {
			if s == "" || seen[s] {
				return
			}
			seen[s] = true
			out[i] = append(out[i], s)
		}
		for _, re := range cat.Patterns {
			for _, m := range re.FindAllString(freeText, -1) {
				add(m)
			}
			for _, tag := range hashtags {
				if re.MatchString(tag) {
					add(tag)
				}
			}
		}
	}
	return out
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelRunes {
		return s
	}
	return string(r[:maxLabelRunes])
}
