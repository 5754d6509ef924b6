package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

const (
	defaultMaxDepth = 48
	defaultMaxNodes = 200_000
)

// Config bounds the recursive fallback search.
type Config struct {
	MaxDepth int
	MaxNodes int
}

// Decoder implements monitor.Decoder. It holds no mutable state and is safe
// for concurrent use.
type Decoder struct {
	maxDepth int
	maxNodes int
}

// New returns a Decoder, applying defaults for unset bounds.
func New(cfg Config) *Decoder {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = defaultMaxNodes
	}
	return &Decoder{maxDepth: cfg.MaxDepth, maxNodes: cfg.MaxNodes}
}

// Decode extracts canonical records from body. Ignored traffic decodes to nil.
func (d *Decoder) Decode(category monitor.Category, body []byte) ([]monitor.Record, error) {
	if category == monitor.CategoryIgnored {
		return nil, nil
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}

	items, matched := directList(category, body)
	if len(items) > 0 {
		if recs := reshapeList(category, items); len(recs) > 0 {
			return recs, nil
		}
	} else if matched {
		return []monitor.Record{}, nil
	}

	recs, err := search(category, root, d.maxDepth, d.maxNodes)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		return []monitor.Record{}, nil
	}
	return dedupTargets(recs), nil
}

func parse(body []byte) (any, error) {
	var root any
	if err := decodeRaw(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", monitor.ErrDecode, err)
	}
	return root, nil
}

// decodeRaw decodes exactly one JSON value, keeping numbers as json.Number.
func decodeRaw(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func reshapeList(category monitor.Category, items []any) []monitor.Record {
	var out []monitor.Record
	for _, it := range items {
		recs, ok := reshapeItem(category, it)
		if !ok {
			continue
		}
		out = append(out, recs...)
	}
	return dedupTargets(out)
}

// dedupTargets drops repeated target records, keeping the first sighting.
// Metric records are never collapsed.
func dedupTargets(recs []monitor.Record) []monitor.Record {
	seen := make(map[string]bool)
	out := recs[:0]
	for _, rec := range recs {
		if rec.Kind == monitor.RecordTarget {
			if seen[rec.Target.TargetID] {
				continue
			}
			seen[rec.Target.TargetID] = true
		}
		out = append(out, rec)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
