// Package azure stores source and derived images in an Azure Blob Storage container.
package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/zoobzio/thumb"
)

// Provider is a thumb disk backed by one blob container. Blob access
// levels are set per container, so it has no per-file visibility.
type Provider struct {
	client        *azblob.Client
	containerName string
	baseURL       string
	cacheControl  string
}

// New creates an Azure disk over containerName.
// URLs use the account endpoint until WithPublicURL overrides them.
func New(client *azblob.Client, containerName string) *Provider {
	return &Provider{
		client:        client,
		containerName: containerName,
		baseURL:       strings.TrimSuffix(client.URL(), "/") + "/" + containerName,
	}
}

// WithPublicURL sets the base URL used by URL, e.g. a Front Door origin.
func (p *Provider) WithPublicURL(base string) *Provider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

// WithCacheControl sets the Cache-Control header stored with every write.
func (p *Provider) WithCacheControl(v string) *Provider {
	p.cacheControl = v
	return p
}

func (p *Provider) blob(key string) *blob.Client {
	return p.client.ServiceClient().NewContainerClient(p.containerName).NewBlobClient(key)
}

func notFound(err error) error {
	var respErr *azcore.ResponseError
	if bloberror.HasCode(err, bloberror.BlobNotFound) ||
		(errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound) {
		return thumb.ErrNotFound
	}
	return err
}

// Get reads a source or derived image. Properties are fetched first so
// the returned info carries user metadata.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	info, err := p.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	resp, err := p.client.DownloadStream(ctx, p.containerName, key, nil)
	if err != nil {
		return nil, nil, notFound(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	info.Size = int64(len(data))
	return data, info, nil
}

// Put writes data at key. The content type falls back to the one implied
// by the key's extension.
func (p *Provider) Put(ctx context.Context, key string, data []byte, info *thumb.ObjectInfo) error {
	contentType := thumb.ContentTypeOf(key)
	headers := &blob.HTTPHeaders{BlobContentType: &contentType}
	if p.cacheControl != "" {
		headers.BlobCacheControl = &p.cacheControl
	}
	opts := &azblob.UploadBufferOptions{HTTPHeaders: headers}
	if info != nil {
		if info.ContentType != "" {
			headers.BlobContentType = &info.ContentType
		}
		opts.Metadata = toPtrMap(info.Metadata)
	}
	_, err := p.client.UploadBuffer(ctx, p.containerName, key, data, opts)
	return err
}

// Delete removes key.
func (p *Provider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteBlob(ctx, p.containerName, key, nil)
	return notFound(err)
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
	props, err := p.blob(key).GetProperties(ctx, nil)
	if err != nil {
		return nil, notFound(err)
	}
	info := &thumb.ObjectInfo{
		Key:         key,
		ContentType: deref(props.ContentType),
		Metadata:    fromPtrMap(props.Metadata),
	}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}

// List walks every blob below prefix, stopping at limit when limit is
// positive.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	var results []thumb.ObjectInfo
	pager := p.client.NewListBlobsFlatPager(p.containerName, &container.ListBlobsFlatOptions{
		Prefix:  &prefix,
		Include: container.ListBlobsInclude{Metadata: true},
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, b := range page.Segment.BlobItems {
			info := thumb.ObjectInfo{Key: deref(b.Name), Metadata: fromPtrMap(b.Metadata)}
			if props := b.Properties; props != nil {
				info.ContentType = deref(props.ContentType)
				if props.ContentLength != nil {
					info.Size = *props.ContentLength
				}
				if props.ETag != nil {
					info.ETag = string(*props.ETag)
				}
				if props.LastModified != nil {
					info.LastModified = *props.LastModified
				}
			}
			results = append(results, info)
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// URL returns the public URL for key.
func (p *Provider) URL(key string) string {
	return p.baseURL + "/" + strings.TrimPrefix(key, "/")
}

var _ thumb.DiskProvider = (*Provider)(nil)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fromPtrMap(m map[string]*string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func toPtrMap(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}
