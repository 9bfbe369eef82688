package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/store"
)

// BlobStore persists raw page bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher digests page bodies into content addresses.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Archiver is a PageHandler that copies raw page bodies to a blob store under
// <prefix>/<host>/<digest>.html.
type Archiver struct {
	blobs       BlobStore
	hasher      Hasher
	prefix      string
	contentType string
	logger      *zap.Logger
}

// NewArchiver builds an Archiver.
func NewArchiver(blobs BlobStore, hasher Hasher, prefix, contentType string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &Archiver{
		blobs:       blobs,
		hasher:      hasher,
		prefix:      prefix,
		contentType: contentType,
		logger:      logger,
	}
}

// HandlePage uploads the page body. Upload failures are logged, not returned,
// so archiving never blocks indexing.
func (a *Archiver) HandlePage(ctx context.Context, site store.Site, page store.Page) error {
	body := []byte(page.Content)
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash page: %w", err)
	}
	host := "unknown"
	if u, err := url.Parse(site.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	key := path.Join(a.prefix, host, digest+".html")
	uri, err := a.blobs.PutObject(ctx, key, a.contentType, bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("archive page failed",
			zap.String("url", page.URL),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	a.logger.Debug("page archived", zap.String("url", page.URL), zap.String("uri", uri))
	return nil
}
