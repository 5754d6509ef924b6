package decoder

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

var (
	errTooDeep  = errors.New("payload exceeds depth bound")
	errTooLarge = errors.New("payload exceeds node bound")
)

// walker performs the bounded recursive search.
type walker struct {
	category monitor.Category
	maxDepth int
	maxNodes int
	nodes    int
	out      []monitor.Record
}

func (w *walker) visit(v any, depth int) error {
	if depth > w.maxDepth {
		return errTooDeep
	}
	w.nodes++
	if w.nodes > w.maxNodes {
		return errTooLarge
	}
	switch node := v.(type) {
	case map[string]any:
		if acceptable(w.category, node) {
			if recs, ok := reshapeItem(w.category, node); ok {
				w.out = append(w.out, recs...)
				return nil
			}
		}
		for _, key := range sortedKeys(node) {
			if err := w.visit(node[key], depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := w.visit(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func search(category monitor.Category, root any, maxDepth, maxNodes int) ([]monitor.Record, error) {
	w := &walker{category: category, maxDepth: maxDepth, maxNodes: maxNodes}
	if err := w.visit(root, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", monitor.ErrDecode, err)
	}
	return w.out, nil
}
