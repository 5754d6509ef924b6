package decoder

import (
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// Field aliases: the canonical name comes first, loosely named source fields
// follow in preference order.
var (
	itemIDKeys      = []string{"item_id", "product_id"}
	nameKeys        = []string{"name", "product_name", "title"}
	imageKeys       = []string{"image_ref", "product_pic", "product_img", "pic", "cover", "image"}
	priceKeys       = []string{"price_range", "price"}
	paidKeys        = []string{"paid_amount", "pay_amount", "pay_amt"}
	growthKeys      = []string{"growth_rate_text", "pay_amount_growth_rate"}
	impressionKeys  = []string{"impressions_text", "impressions_people_num", "product_show_ucnt"}
	targetKeys      = []string{"target_id", "shop_id"}
	extraKeys       = []string{"extra_ref", "qr_code", "detail_url"}
	conversionKeys  = []string{"conversion_rate", "pay_converse_rate_ucnt"}
	clickKeys       = []string{"click_rate", "product_click_ucnt_rate"}
	shopIDKeys      = []string{"target_id", "shop_id"}
	shopNameKeys    = []string{"display_name", "shop_name"}
	cellMarker      = "cell_info"
	videoMarker     = "aweme_id"
	cellMetricPaths = map[string]string{
		"pay_amt":                 "pay_amt.pay_amt_index_values.index_values.value.value",
		"pay_converse_rate_ucnt":  "pay_converse_rate_ucnt.pay_converse_rate_ucnt_index_values.index_values.value.value",
		"product_show_ucnt":       "product_show_ucnt.product_show_ucnt_index_values.index_values.value.value",
		"product_click_ucnt_rate": "product_click_ucnt_rate.product_click_ucnt_rate_index_values.index_values.value.value",
	}
)

// reshapeItem converts one list element into records for category. ok is
// false when the element does not carry the identifier field.
func reshapeItem(category monitor.Category, v any) ([]monitor.Record, bool) {
	obj, isObj := v.(map[string]any)
	if !isObj {
		return nil, false
	}
	switch category {
	case monitor.CategoryShopList:
		t, ok := shopTarget(obj)
		if !ok {
			return nil, false
		}
		return []monitor.Record{monitor.TargetRecord(t)}, true
	case monitor.CategoryProductList:
		m, ok := productItem(obj)
		if !ok {
			return nil, false
		}
		return []monitor.Record{monitor.MetricRecord(m)}, true
	case monitor.CategoryVideoList:
		return videoRecords(obj)
	}
	return nil, false
}

func shopTarget(obj map[string]any) (monitor.TargetEntity, bool) {
	id := firstText(obj, shopIDKeys...)
	if id == "" {
		return monitor.TargetEntity{}, false
	}
	return monitor.TargetEntity{
		TargetID:    id,
		DisplayName: firstText(obj, shopNameKeys...),
	}, true
}

func productItem(obj map[string]any) (monitor.MetricItem, bool) {
	if cell, ok := obj[cellMarker].(map[string]any); ok {
		return cellItem(tree(cell))
	}
	id := firstText(obj, itemIDKeys...)
	if id == "" {
		return monitor.MetricItem{}, false
	}
	item := monitor.MetricItem{
		ItemID:          id,
		Name:            firstText(obj, nameKeys...),
		ImageRef:        firstText(obj, imageKeys...),
		PriceRange:      firstText(obj, priceKeys...),
		PaidAmount:      firstText(obj, paidKeys...),
		GrowthRateText:  firstText(obj, growthKeys...),
		ImpressionsText: firstText(obj, impressionKeys...),
		TargetID:        firstText(obj, targetKeys...),
		ExtraRef:        firstText(obj, extraKeys...),
		Category:        monitor.CategoryProductList,
	}
	if v, ok := firstValue(obj, paidKeys...); ok && isNumeric(v) {
		item.PaidValue = number(v)
	}
	if v, ok := firstValue(obj, conversionKeys...); ok {
		item.ConversionRate = number(v)
	}
	if v, ok := firstValue(obj, clickKeys...); ok {
		item.ClickRate = number(v)
	}
	return item, true
}

// cellItem reshapes a compass product card whose fields are nested cells.
func cellItem(cell gjson.Result) (monitor.MetricItem, bool) {
	id := at(cell, "product.product_id_value.value.value_str")
	if id == "" {
		return monitor.MetricItem{}, false
	}
	item := monitor.MetricItem{
		ItemID:          id,
		Name:            at(cell, "product.product_name_value.value.value_str"),
		ImageRef:        at(cell, "product.product_img_value.value.value_str"),
		PriceRange:      at(cell, "product.product_price_value.value.value"),
		PaidAmount:      at(cell, cellMetricPaths["pay_amt"]),
		ImpressionsText: at(cell, cellMetricPaths["product_show_ucnt"]),
		ExtraRef:        at(cell, "product.product_detail_h5_url_value.value.value_str"),
		Category:        monitor.CategoryProductList,
	}
	if v, ok := get(cell, cellMetricPaths["pay_amt"]); ok {
		item.PaidValue = number(v)
	}
	if v, ok := get(cell, cellMetricPaths["pay_converse_rate_ucnt"]); ok {
		item.ConversionRate = number(v)
	}
	if v, ok := get(cell, cellMetricPaths["product_click_ucnt_rate"]); ok {
		item.ClickRate = number(v)
	}
	return item, true
}

// videoRecords reshapes a creator post into a metric item plus the author.
func videoRecords(obj map[string]any) ([]monitor.Record, bool) {
	id := text(obj[videoMarker])
	if id == "" {
		return nil, false
	}
	if number(obj["is_ads"]) != 0 {
		return nil, true
	}
	doc := tree(obj)
	item := monitor.MetricItem{
		ItemID:          id,
		Name:            text(obj["desc"]),
		ImageRef:        at(doc, "video.cover.url_list.0"),
		ImpressionsText: at(doc, "statistics.play_count"),
		TargetID:        at(doc, "author.uid"),
		ExtraRef:        at(doc, "share_info.share_url"),
		Category:        monitor.CategoryVideoList,
		Hashtags:        hashtags(obj),
	}
	out := []monitor.Record{monitor.MetricRecord(item)}
	if item.TargetID != "" {
		out = append([]monitor.Record{monitor.TargetRecord(monitor.TargetEntity{
			TargetID:    item.TargetID,
			DisplayName: at(doc, "author.nickname"),
		})}, out...)
	}
	return out, true
}

func hashtags(obj map[string]any) []string {
	extras, ok := obj["text_extra"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range extras {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if tag := text(entry["hashtag_name"]); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// acceptable reports whether a node found by the recursive walk can be
// reshaped for category.
func acceptable(category monitor.Category, obj map[string]any) bool {
	switch category {
	case monitor.CategoryShopList:
		return hasAll(obj, "shop_id", "shop_name")
	case monitor.CategoryProductList:
		if _, ok := obj[cellMarker].(map[string]any); ok {
			return true
		}
		return hasAll(obj, "product_id", "product_name") || hasAll(obj, "product_id", "title", "price")
	case monitor.CategoryVideoList:
		_, ok := obj[videoMarker]
		return ok
	}
	return false
}
