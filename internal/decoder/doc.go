// Package decoder extracts canonical records from classified API payloads
// whose schema drifts between releases.
//
// Decoding runs three strategies in order and the first to produce records
// wins: a per-category list of known JSON paths, a per-item reshape from
// loosely named source fields into the canonical field set, and a bounded
// recursive walk that accepts any object carrying a marker key or the minimal
// field set. Only unparseable bodies (or a walk that exceeds its bounds)
// produce an error wrapping monitor.ErrDecode; valid JSON without any usable
// shape decodes to an empty list.
package decoder
