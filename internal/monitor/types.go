package monitor

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Category is the routing class assigned to a traffic event by URL signature.
type Category string

// Supported traffic categories.
const (
	CategoryIgnored     Category = "ignored"
	CategoryShopList    Category = "shop-list"
	CategoryProductList Category = "product-list"
	CategoryVideoList   Category = "video-list"
)

// TrafficEvent is one observed request/response pair from the monitored session.
type TrafficEvent struct {
	URL            string
	Method         string
	StatusCode     int
	RequestHeaders map[string]string
	RequestBody    []byte
	Body           []byte
	ObservedAt     time.Time
}

// Succeeded reports whether the response carried a 2xx status.
func (e TrafficEvent) Succeeded() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// RecordKind tags the variant held by a Record.
type RecordKind int

// Record variants.
const (
	RecordTarget RecordKind = iota + 1
	RecordMetric
)

// TargetEntity is an enumerable scrape target such as a shop or a creator.
type TargetEntity struct {
	TargetID    string    `json:"target_id"`
	DisplayName string    `json:"display_name"`
	LastUpdated time.Time `json:"last_updated"`
}

// MetricItem is one captured observation of a product or video. Rows are
// append-only; ItemID repeats across captures.
type MetricItem struct {
	ItemID          string    `json:"item_id"`
	Name            string    `json:"name"`
	ImageRef        string    `json:"image_ref"`
	PriceRange      string    `json:"price_range"`
	PaidAmount      string    `json:"paid_amount"`
	GrowthRateText  string    `json:"growth_rate_text"`
	ImpressionsText string    `json:"impressions_text"`
	TargetID        string    `json:"target_id,omitempty"`
	CapturedAt      time.Time `json:"captured_at"`
	ExtraRef        string    `json:"extra_ref"`
	Category        Category  `json:"category"`
	Labels          []string  `json:"labels,omitempty"`
	PaidValue       float64   `json:"paid_value"`
	ConversionRate  float64   `json:"conversion_rate"`
	ClickRate       float64   `json:"click_rate"`
	// Hashtags are carried from decode to tagging and are not persisted.
	Hashtags []string `json:"-"`
}

// Record is the tagged union produced by the decoder.
type Record struct {
	Kind   RecordKind
	Target TargetEntity
	Metric MetricItem
}

// TargetRecord wraps a TargetEntity as a Record.
func TargetRecord(t TargetEntity) Record {
	return Record{Kind: RecordTarget, Target: t}
}

// MetricRecord wraps a MetricItem as a Record.
func MetricRecord(m MetricItem) Record {
	return Record{Kind: RecordMetric, Metric: m}
}

// Batch is the unit of one atomic store write.
type Batch struct {
	Targets []TargetEntity
	Items   []MetricItem
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Targets) == 0 && len(b.Items) == 0
}

// SplitRecords separates decoded records into targets and metric items.
func SplitRecords(records []Record) Batch {
	var b Batch
	for _, rec := range records {
		switch rec.Kind {
		case RecordTarget:
			b.Targets = append(b.Targets, rec.Target)
		case RecordMetric:
			b.Items = append(b.Items, rec.Metric)
		}
	}
	return b
}

// RequestTemplate is an observed outbound request reused for replay.
type RequestTemplate struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

// ReplayRequest is a concrete request synthesized from a template.
type ReplayRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// NewRequestTemplate builds a template from an observed request. The body
// must be a JSON object.
func NewRequestTemplate(url, method string, headers map[string]string, body []byte) (RequestTemplate, error) {
	if strings.TrimSpace(url) == "" {
		return RequestTemplate{}, fmt.Errorf("template url is required")
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RequestTemplate{}, fmt.Errorf("parse template body: %w", err)
	}
	if method == "" {
		method = "POST"
	}
	return RequestTemplate{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: maps.Clone(headers),
		Body:    parsed,
	}, nil
}

// Synthesize clones the template body and substitutes targetID under field.
func (t RequestTemplate) Synthesize(field, targetID string) (ReplayRequest, error) {
	body := make(map[string]any, len(t.Body)+1)
	maps.Copy(body, t.Body)
	body[field] = targetID
	raw, err := json.Marshal(body)
	if err != nil {
		return ReplayRequest{}, fmt.Errorf("marshal replay body: %w", err)
	}
	return ReplayRequest{
		URL:     t.URL,
		Method:  t.Method,
		Headers: maps.Clone(t.Headers),
		Body:    raw,
	}, nil
}

// TargetValue returns the string value stored under field in the template body.
func (t RequestTemplate) TargetValue(field string) string {
	v, ok := t.Body[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ProcessedSet records target ids replayed successfully in the current run.
type ProcessedSet map[string]struct{}

// Has reports membership.
func (p ProcessedSet) Has(id string) bool {
	_, ok := p[id]
	return ok
}

// With returns a copy of the set including id.
func (p ProcessedSet) With(id string) ProcessedSet {
	out := make(ProcessedSet, len(p)+1)
	maps.Copy(out, p)
	out[id] = struct{}{}
	return out
}

// Clone copies the set.
func (p ProcessedSet) Clone() ProcessedSet {
	out := make(ProcessedSet, len(p))
	maps.Copy(out, p)
	return out
}

// IDs returns the sorted member ids.
func (p ProcessedSet) IDs() []string {
	return slices.Sorted(maps.Keys(p))
}
