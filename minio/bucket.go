// Package minio stores source and derived images in a MinIO bucket.
package minio

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/zoobzio/thumb"
)

// Provider is a thumb disk backed by one MinIO bucket.
type Provider struct {
	client       *minio.Client
	bucket       string
	baseURL      string
	cacheControl string
}

// New creates a MinIO disk over bucket.
// URLs point at the client endpoint until WithPublicURL overrides them.
func New(client *minio.Client, bucket string) *Provider {
	p := &Provider{client: client, bucket: bucket}
	if u := client.EndpointURL(); u != nil {
		p.baseURL = strings.TrimSuffix(u.String(), "/") + "/" + bucket
	}
	return p
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

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func objectInfo(key string, o minio.ObjectInfo) *thumb.ObjectInfo {
	return &thumb.ObjectInfo{
		Key:          key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
		Metadata:     o.UserMetadata,
	}
}

// Get reads a source or derived image. MinIO defers the request until
// the first read, so a missing key surfaces from Stat.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = obj.Close() }()

	stat, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil, thumb.ErrNotFound
		}
		return nil, nil, err
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, err
	}
	return data, objectInfo(key, stat), nil
}

// Put writes data at key. The content type falls back to the one implied
// by the key's extension.
func (p *Provider) Put(ctx context.Context, key string, data []byte, info *thumb.ObjectInfo) error {
	opts := minio.PutObjectOptions{
		ContentType:  thumb.ContentTypeOf(key),
		CacheControl: p.cacheControl,
	}
	if info != nil {
		if info.ContentType != "" {
			opts.ContentType = info.ContentType
		}
		opts.UserMetadata = info.Metadata
	}
	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// Delete removes key, reporting ErrNotFound when it is absent.
func (p *Provider) Delete(ctx context.Context, key string) error {
	ok, err := p.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return thumb.ErrNotFound
	}
	return p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{})
}

// Exists reports whether key is present.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns the size and modification time of key without reading it.
func (p *Provider) Stat(ctx context.Context, key string) (*thumb.ObjectInfo, error) {
	stat, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, thumb.ErrNotFound
		}
		return nil, err
	}
	return objectInfo(key, stat), nil
}

// List walks every key below prefix, stopping at limit when limit is
// positive. Cancelling the context stops the listing goroutine early.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var results []thumb.ObjectInfo
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		results = append(results, *objectInfo(obj.Key, obj))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// URL returns the public URL for key.
func (p *Provider) URL(key string) string {
	return p.baseURL + "/" + strings.TrimPrefix(key, "/")
}

var _ thumb.DiskProvider = (*Provider)(nil)
