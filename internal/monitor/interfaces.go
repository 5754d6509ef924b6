package monitor

import (
	"context"
	"time"
)

// Store persists canonical records. Implementations must be safe for
// concurrent use.
type Store interface {
	UpsertTarget(ctx context.Context, target TargetEntity) error
	AppendMetric(ctx context.Context, item MetricItem) error
	WriteBatch(ctx context.Context, batch Batch) error
	QueryRecent(ctx context.Context, since time.Time, targetID string) ([]MetricItem, error)
	ListTargets(ctx context.Context) ([]TargetEntity, error)
	Close() error
}

// Sender replays a request through the live browsing session.
type Sender interface {
	Send(ctx context.Context, req ReplayRequest) (TrafficEvent, error)
}

// Decoder turns a classified payload into canonical records.
type Decoder interface {
	Decode(category Category, body []byte) ([]Record, error)
}

// Pacer enforces the courtesy delay between replays.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests used as archive object keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
