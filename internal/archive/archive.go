// Package archive writes raw response payloads to a blob store under
// content-addressed keys so decoded rows can be traced back to their source.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
	// DefaultUndecodableBytes is how much of an unparseable body is kept.
	DefaultUndecodableBytes = 2000
)

// Config controls key layout and truncation.
type Config struct {
	Prefix           string
	UndecodableBytes int
}

// Archiver stores payloads. A nil *Archiver is valid and archives nothing.
type Archiver struct {
	blobs  monitor.BlobStore
	hasher monitor.Hasher
	clock  monitor.Clock
	cfg    Config
}

// New returns an Archiver backed by blobs.
func New(blobs monitor.BlobStore, hasher monitor.Hasher, clock monitor.Clock, cfg Config) *Archiver {
	if cfg.UndecodableBytes <= 0 {
		cfg.UndecodableBytes = DefaultUndecodableBytes
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Archiver{blobs: blobs, hasher: hasher, clock: clock, cfg: cfg}
}

// Raw stores a matched body as JSON and returns its URI.
func (a *Archiver) Raw(ctx context.Context, category monitor.Category, body []byte) (string, error) {
	if a == nil || a.blobs == nil {
		return "", nil
	}
	return a.put(ctx, "raw", category, ".json", contentTypeJSON, body)
}

// Undecodable stores the head of a body the decoder rejected.
func (a *Archiver) Undecodable(ctx context.Context, category monitor.Category, body []byte) (string, error) {
	if a == nil || a.blobs == nil {
		return "", nil
	}
	if len(body) > a.cfg.UndecodableBytes {
		body = body[:a.cfg.UndecodableBytes]
	}
	return a.put(ctx, "undecodable", category, ".txt", contentTypeText, body)
}

// Key builds the object path for a digest.
func (a *Archiver) Key(kind string, category monitor.Category, hash string) string {
	day := a.clock.Now().UTC().Format("20060102")
	key := fmt.Sprintf("%s/%s/%s/%s", kind, category, day, hash)
	if a.cfg.Prefix == "" {
		return key
	}
	return a.cfg.Prefix + "/" + key
}

func (a *Archiver) put(ctx context.Context, kind string, category monitor.Category, ext, contentType string, body []byte) (string, error) {
	hash, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.Key(kind, category, hash)+ext, contentType, body)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}
