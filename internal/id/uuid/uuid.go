// Package uuid mints orchestration run IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// RunPrefix marks every run ID so it is recognizable in logs and published
// summaries next to shop and product identifiers.
const RunPrefix = "run-"

// Generator mints run IDs of the form run-<uuid7>. Version 7 embeds the
// creation time, so run IDs sort in start order.
type Generator struct {
	source func() (uuid.UUID, error)
}

// New returns a Generator backed by uuid.NewV7.
func New() *Generator {
	return &Generator{source: uuid.NewV7}
}

// NewID mints a run ID.
func (g *Generator) NewID() (string, error) {
	id, err := g.source()
	if err != nil {
		return "", fmt.Errorf("mint run id: %w", err)
	}
	return RunPrefix + id.String(), nil
}
