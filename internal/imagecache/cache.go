// Package imagecache stores preview images once under content-hash names.
package imagecache

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/metrics"
)

const (
	defaultExt   = ".jpg"
	minImageSize = 500
)

var allowedExt = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
}

// Cache downloads preview images through a Fetcher into a BlobStore.
type Cache struct {
	fetcher archiver.Fetcher
	blobs   archiver.BlobStore
	hasher  archiver.Hasher
	group   singleflight.Group
	logger  *zap.Logger
}

// New builds a Cache.
func New(fetcher archiver.Fetcher, blobs archiver.BlobStore, hasher archiver.Hasher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		fetcher: fetcher,
		blobs:   blobs,
		hasher:  hasher,
		logger:  logger.Named("imagecache"),
	}
}

// Name returns the blob path for imageURL under slug.
func (c *Cache) Name(slug, imageURL string) (string, error) {
	digest, err := c.hasher.Hash([]byte(imageURL))
	if err != nil {
		return "", fmt.Errorf("hash image url: %w", err)
	}
	return path.Join(slug, digest+extension(imageURL)), nil
}

// Ensure makes sure imageURL is cached and returns its blob path. Existing
// blobs are never downloaded again; concurrent calls for one URL share a
// single download.
func (c *Cache) Ensure(ctx context.Context, slug, imageURL string) (string, error) {
	if imageURL == "" {
		return "", nil
	}
	name, err := c.Name(slug, imageURL)
	if err != nil {
		return "", err
	}
	v, err, _ := c.group.Do(name, func() (any, error) {
		return name, c.download(ctx, slug, imageURL, name)
	})
	if err != nil {
		metrics.ObserveImage("failed")
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) download(ctx context.Context, slug, imageURL, name string) error {
	exists, err := c.blobs.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("check cached image: %w", err)
	}
	if exists {
		metrics.ObserveImage("cached")
		return nil
	}

	resp, err := c.fetcher.Fetch(ctx, archiver.FetchRequest{SourceSlug: slug, URL: imageURL})
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	if len(resp.Body) < minImageSize {
		return fmt.Errorf("download image: body too small (%d bytes)", len(resp.Body))
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	uri, err := c.blobs.PutObject(ctx, name, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	metrics.ObserveImage("saved")
	c.logger.Debug("image cached", zap.String("source", slug), zap.String("url", imageURL), zap.String("uri", uri))
	return nil
}

func extension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := allowedExt[ext]; ok {
		return ext
	}
	return defaultExt
}
