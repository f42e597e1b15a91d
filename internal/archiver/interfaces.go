package archiver

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ArticleStore is the persistence gateway. Implementations enforce URL
// uniqueness and report Duplicate instead of an error.
type ArticleStore interface {
	Store(ctx context.Context, record ArticleRecord) (StoreResult, error)
	ExistingURLs(ctx context.Context, urls []string) (URLSet, error)
	AppendCheckLog(ctx context.Context, log SourceCheckLog) error
	LastCheck(ctx context.Context, slug string) (time.Time, error)
	Close() error
}

// ArticleReader is the read side consumed by presentation layers.
type ArticleReader interface {
	GetArticle(ctx context.Context, id int64) (ArticleRecord, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]ArticleRecord, error)
	Search(ctx context.Context, query string, filter ArticleFilter) ([]ArticleRecord, error)
	CountSince(ctx context.Context, since time.Time, filter ArticleFilter) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Publisher pushes article events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressed names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
