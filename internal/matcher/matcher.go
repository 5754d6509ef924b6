// Package matcher routes traffic events to a category by URL signature.
package matcher

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// Signature matches a URL when every fragment occurs in it.
type Signature []string

// Rule binds an ordered signature list to a category.
type Rule struct {
	Category   monitor.Category
	Signatures []Signature
}

// DefaultRules returns the built-in routing table. Order is significant: the
// first matching category wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: monitor.CategoryShopList,
			Signatures: []Signature{
				{"get_sub_peer_shop_list"},
				{"peer_shop", "shop_list"},
			},
		},
		{
			Category: monitor.CategoryProductList,
			Signatures: []Signature{
				{"business_chance_center", "peer_shop_top_sale_goods_info"},
				{"channel_product/channel_product_card_list"},
				{"product_card", "card_list"},
			},
		},
		{
			Category: monitor.CategoryVideoList,
			Signatures: []Signature{
				{"aweme/v1/web/aweme/post"},
			},
		},
	}
}

// Matcher classifies URLs against an ordered rule list. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	rules []Rule
}

// New validates rules and returns a Matcher.
func New(rules []Rule) (*Matcher, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Category == "" || r.Category == monitor.CategoryIgnored {
			return nil, fmt.Errorf("rule category %q is not routable", r.Category)
		}
		sigs := make([]Signature, 0, len(r.Signatures))
		for _, sig := range r.Signatures {
			if len(sig) == 0 {
				return nil, fmt.Errorf("empty signature for category %s", r.Category)
			}
			for _, frag := range sig {
				if strings.TrimSpace(frag) == "" {
					return nil, fmt.Errorf("blank fragment in signature for category %s", r.Category)
				}
			}
			sigs = append(sigs, append(Signature(nil), sig...))
		}
		out = append(out, Rule{Category: r.Category, Signatures: sigs})
	}
	return &Matcher{rules: out}, nil
}

// Default returns a Matcher over DefaultRules.
func Default() *Matcher {
	m, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return m
}

// Classify returns the category of url or CategoryIgnored.
func (m *Matcher) Classify(url string) monitor.Category {
	for _, rule := range m.rules {
		for _, sig := range rule.Signatures {
			if sig.matches(url) {
				return rule.Category
			}
		}
	}
	return monitor.CategoryIgnored
}

func (s Signature) matches(url string) bool {
	for _, frag := range s {
		if !strings.Contains(url, frag) {
			return false
		}
	}
	return true
}

// ParseRules converts a config map (category -> list of "a+b" signatures)
// into rules ordered by the canonical category order.
func ParseRules(raw map[string][]string) ([]Rule, error) {
	order := []monitor.Category{
		monitor.CategoryShopList,
		monitor.CategoryProductList,
		monitor.CategoryVideoList,
	}
	known := make(map[string]bool, len(order))
	for _, c := range order {
		known[string(c)] = true
	}
	for key := range raw {
		if !known[key] {
			return nil, fmt.Errorf("unknown matcher category %q", key)
		}
	}
	var rules []Rule
	for _, cat := range order {
		entries, ok := raw[string(cat)]
		if !ok {
			continue
		}
		rule := Rule{Category: cat}
		for _, entry := range entries {
			var sig Signature
			for _, frag := range strings.Split(entry, "+") {
				sig = append(sig, strings.TrimSpace(frag))
			}
			rule.Signatures = append(rule.Signatures, sig)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
