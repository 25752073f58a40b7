package comic

import (
	"context"
	"io"
	"time"
)

// Source fetches comics from the upstream service. Number Latest requests the newest comic.
type Source interface {
	FetchComic(ctx context.Context, number int) (Record, error)
}

// Store is the ordered, append-only metadata collection.
type Store interface {
	All(ctx context.Context) []Record
	Find(ctx context.Context, number int) (Record, error)
	Numbers(ctx context.Context) map[int]struct{}
	Append(ctx context.Context, records []Record) error
}

// BlobStore writes and reads image objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes update events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used as image ETags.
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
