// Package gcs stores source and derived images in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/zoobzio/thumb"
	"google.golang.org/api/iterator"
)

// Provider is a thumb disk backed by one GCS bucket.
type Provider struct {
	client       *storage.Client
	bucket       string
	baseURL      string
	cacheControl string
}

// New creates a GCS disk over bucket.
// URLs use the public storage endpoint until WithPublicURL overrides them.
func New(client *storage.Client, bucket string) *Provider {
	return &Provider{
		client:  client,
		bucket:  bucket,
		baseURL: "https://storage.googleapis.com/" + bucket,
	}
}

// WithPublicURL sets the base URL used by URL, e.g. a CDN origin.
func (p *Provider) WithPublicURL(base string) *Provider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

// WithCacheControl sets the Cache-Control header stored with every write.
func (p *Provider) WithCacheControl(v string) *Provider {
	p.cacheControl = v
	return p
}

func (p *Provider) object(key string) *storage.ObjectHandle {
	return p.client.Bucket(p.bucket).Object(key)
}

func objectInfo(attrs *storage.ObjectAttrs) *thumb.ObjectInfo {
	return &thumb.ObjectInfo{
		Key:          attrs.Name,
		ContentType:  attrs.ContentType,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
		Metadata:     attrs.Metadata,
	}
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return thumb.ErrNotFound
	}
	return err
}

// Get reads a source or derived image.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	obj := p.object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, nil, notFound(err)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, nil, notFound(err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	return data, objectInfo(attrs), nil
}

// Put writes data at key. The content type falls back to the one implied
// by the key's extension.
func (p *Provider) Put(ctx context.Context, key string, data []byte, info *thumb.ObjectInfo) error {
	w := p.object(key).NewWriter(ctx)
	w.ContentType = thumb.ContentTypeOf(key)
	w.CacheControl = p.cacheControl
	if info != nil {
		if info.ContentType != "" {
			w.ContentType = info.ContentType
		}
		w.Metadata = info.Metadata
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes key.
func (p *Provider) Delete(ctx context.Context, key string) error {
	return notFound(p.object(key).Delete(ctx))
}

// Exists reports whether key is present.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.Stat(ctx, key)
	if errors.Is(err, thumb.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stat returns the size and modification time of key without reading it.
func (p *Provider) Stat(ctx context.Context, key string) (*thumb.ObjectInfo, error) {
	attrs, err := p.object(key).Attrs(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return objectInfo(attrs), nil
}

// List walks every key below prefix, stopping at limit when limit is
// positive.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	var results []thumb.ObjectInfo
	it := p.client.Bucket(p.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for limit <= 0 || len(results) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *objectInfo(attrs))
	}
	return results, nil
}

// URL returns the public URL for key.
func (p *Provider) URL(key string) string {
	return p.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// SetVisibility grants or revokes read access for all users on key.
func (p *Provider) SetVisibility(ctx context.Context, key string, public bool) error {
	acl := p.object(key).ACL()
	if public {
		return notFound(acl.Set(ctx, storage.AllUsers, storage.RoleReader))
	}
	return notFound(acl.Delete(ctx, storage.AllUsers))
}

var (
	_ thumb.DiskProvider       = (*Provider)(nil)
	_ thumb.VisibilityProvider = (*Provider)(nil)
)
