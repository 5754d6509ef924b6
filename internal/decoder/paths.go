package decoder

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// directPaths lists the known record-list locations per category, most
// specific first.
var directPaths = map[monitor.Category][]string{
	monitor.CategoryShopList: {
		"data.peer_shop_list",
		"data.data.peer_shop_list",
		"peer_shop_list",
		"data.list",
		"data.data.list",
		"list",
	},
	monitor.CategoryProductList: {
		"data.peer_shop_top_sale_goods_info_list",
		"data.product_list",
		"data.list",
		"data.data.list",
		"data.data.peer_shop_top_sale_goods_info_list",
		"data.data",
		"data",
		"peer_shop_top_sale_goods_info_list",
		"product_list",
		"list",
	},
	monitor.CategoryVideoList: {
		"aweme_list",
		"data.aweme_list",
		"data.list",
	},
}

// directList returns the first non-empty list found on a known path of the
// raw body. matched reports whether any known path resolved to a list at all,
// empty or not.
func directList(category monitor.Category, body []byte) (items []any, matched bool) {
	for _, path := range directPaths[category] {
		res := gjson.GetBytes(body, path)
		if !res.IsArray() {
			continue
		}
		matched = true
		if len(res.Array()) == 0 {
			continue
		}
		var list []any
		if err := decodeRaw([]byte(res.Raw), &list); err != nil {
			continue
		}
		return list, true
	}
	return nil, matched
}

// tree re-encodes an already parsed node so nested fields can be read by
// gjson path. A node that cannot be encoded yields an empty result.
func tree(v any) gjson.Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// get resolves a gjson path under doc. Numbers keep their literal form.
func get(doc gjson.Result, path string) (any, bool) {
	res := doc.Get(path)
	if !res.Exists() {
		return nil, false
	}
	if res.Type == gjson.Number {
		return json.Number(res.Raw), true
	}
	return res.Value(), true
}

// at resolves path under doc and renders the terminal value as text. A
// numeric path segment indexes into an array.
func at(doc gjson.Result, path string) string {
	v, ok := get(doc, path)
	if !ok {
		return ""
	}
	return text(v)
}
