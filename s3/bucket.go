// Package s3 stores source and derived images in an AWS S3 bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zoobzio/thumb"
)

// maxPage is the largest page ListObjectsV2 returns.
const maxPage = 1000

// Provider is a thumb disk backed by one S3 bucket. It has no
// directories; derived images are written straight to their key.
type Provider struct {
	client       *s3.Client
	bucket       string
	baseURL      string
	cacheControl string
}

// New creates an S3 disk over bucket.
// URLs use the virtual-hosted bucket endpoint until WithPublicURL overrides them.
func New(client *s3.Client, bucket string) *Provider {
	return &Provider{
		client:  client,
		bucket:  bucket,
		baseURL: "https://" + bucket + ".s3.amazonaws.com",
	}
}

// WithPublicURL sets the base URL used by URL, e.g. a CloudFront origin.
func (p *Provider) WithPublicURL(base string) *Provider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

// WithCacheControl sets the Cache-Control header stored with every write.
func (p *Provider) WithCacheControl(v string) *Provider {
	p.cacheControl = v
	return p
}

func isMissing(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Get reads a source or derived image.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, nil, thumb.ErrNotFound
		}
		return nil, nil, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, err
	}
	info := &thumb.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}
	return data, info, nil
}

// Put writes data at key. The content type falls back to the one implied
// by the key's extension.
func (p *Provider) Put(ctx context.Context, key string, data []byte, info *thumb.ObjectInfo) error {
	contentType := thumb.ContentTypeOf(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if info != nil {
		if info.ContentType != "" {
			contentType = info.ContentType
		}
		if len(info.Metadata) > 0 {
			input.Metadata = info.Metadata
		}
	}
	input.ContentType = aws.String(contentType)
	if p.cacheControl != "" {
		input.CacheControl = aws.String(p.cacheControl)
	}
	_, err := p.client.PutObject(ctx, input)
	return err
}

// Delete removes key. DeleteObject succeeds on missing keys, so existence
// is checked first to report ErrNotFound.
func (p *Provider) Delete(ctx context.Context, key string) error {
	ok, err := p.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return thumb.ErrNotFound
	}
	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	return err
}

// Exists reports whether key is present.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := p.Stat(ctx, key); err != nil {
		if errors.Is(err, thumb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns the size and modification time of key without reading it.
func (p *Provider) Stat(ctx context.Context, key string) (*thumb.ObjectInfo, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, thumb.ErrNotFound
		}
		return nil, err
	}
	return &thumb.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}, nil
}

// List walks every key below prefix, page by page, stopping at limit
// when limit is positive.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	var results []thumb.ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		if limit > 0 {
			input.MaxKeys = aws.Int32(int32(min(limit-len(results), maxPage))) //nolint:gosec // bounded by maxPage
		}
		out, err := p.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			results = append(results, thumb.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return results, nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// URL returns the public URL for key.
func (p *Provider) URL(key string) string {
	return p.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// SetVisibility applies the public-read or private canned ACL to key.
func (p *Provider) SetVisibility(ctx context.Context, key string, public bool) error {
	acl := types.ObjectCannedACLPrivate
	if public {
		acl = types.ObjectCannedACLPublicRead
	}
	_, err := p.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		ACL:    acl,
	})
	if isMissing(err) {
		return thumb.ErrNotFound
	}
	return err
}

var (
	_ thumb.DiskProvider       = (*Provider)(nil)
	_ thumb.VisibilityProvider = (*Provider)(nil)
)
