// Package sha256 derives content-addressed keys for archived payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Algorithm prefixes every digest so archive keys name how they were made,
// in the style of OCI and subresource-integrity digests.
const Algorithm = "sha256"

// Hasher implements monitor.Hasher. Digests look like sha256-<64 hex>.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests a payload. Identical payloads always map to the same key.
func (h *Hasher) Hash(payload []byte) (string, error) {
	sum := sha256.Sum256(payload)
	return Algorithm + "-" + hex.EncodeToString(sum[:]), nil
}
