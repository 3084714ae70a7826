package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	badgerdb "github.com/dgraph-io/badger/v4"
	miniogo "github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zoobzio/thumb"
	thumbazure "github.com/zoobzio/thumb/azure"
	thumbbadger "github.com/zoobzio/thumb/badger"
	thumbbolt "github.com/zoobzio/thumb/bolt"
	"github.com/zoobzio/thumb/config"
	thumbgcs "github.com/zoobzio/thumb/gcs"
	"github.com/zoobzio/thumb/local"
	"github.com/zoobzio/thumb/memory"
	thumbminio "github.com/zoobzio/thumb/minio"
	thumbredis "github.com/zoobzio/thumb/redis"
	thumbs3 "github.com/zoobzio/thumb/s3"
	"go.etcd.io/bbolt"
	"google.golang.org/api/option"
)

// closer releases a provider's client.
type closer func() error

func noClose() error { return nil }

// openDisk connects the named disk described by d.
func openDisk(ctx context.Context, name string, d config.Disk) (thumb.DiskProvider, closer, error) {
	switch d.Driver {
	case config.DriverLocal:
		p, err := local.New(d.Root, d.URL)
		if err != nil {
			return nil, nil, err
		}
		return p, noClose, nil

	case config.DriverMinio:
		client, err := miniogo.New(d.Endpoint, &miniogo.Options{
			Creds:  miniocreds.NewStaticV4(d.AccessKey, d.SecretKey, ""),
			Secure: d.UseSSL,
			Region: d.Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("disk %s: minio client: %w", name, err)
		}
		p := thumbminio.New(client, d.Bucket).WithCacheControl(d.CacheControl)
		if d.URL != "" {
			p = p.WithPublicURL(d.URL)
		}
		return p, noClose, nil

	case config.DriverS3:
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(d.Region)}
		if d.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(d.AccessKey, d.SecretKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("disk %s: aws config: %w", name, err)
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if d.Endpoint != "" {
				o.BaseEndpoint = aws.String(d.Endpoint)
				o.UsePathStyle = true
			}
		})
		p := thumbs3.New(client, d.Bucket).WithCacheControl(d.CacheControl)
		if d.URL != "" {
			p = p.WithPublicURL(d.URL)
		}
		return p, noClose, nil

	case config.DriverGCS:
		var opts []option.ClientOption
		if d.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(d.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("disk %s: gcs client: %w", name, err)
		}
		p := thumbgcs.New(client, d.Bucket).WithCacheControl(d.CacheControl)
		if d.URL != "" {
			p = p.WithPublicURL(d.URL)
		}
		return p, client.Close, nil

	case config.DriverAzure:
		client, err := azblob.NewClientFromConnectionString(d.ConnectionString, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("disk %s: azure client: %w", name, err)
		}
		p := thumbazure.New(client, d.Bucket).WithCacheControl(d.CacheControl)
		if d.URL != "" {
			p = p.WithPublicURL(d.URL)
		}
		return p, noClose, nil
	}
	return nil, nil, fmt.Errorf("disk %s: unknown driver %q", name, d.Driver)
}

// openCache connects the configured cache backend.
func openCache(c config.CacheProvider) (thumb.CacheProvider, closer, error) {
	switch c.Driver {
	case config.CacheMemory:
		return memory.New(), noClose, nil

	case config.CacheRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
		return thumbredis.New(client), client.Close, nil

	case config.CacheBadger:
		db, err := badgerdb.Open(badgerdb.DefaultOptions(c.Path).WithLogger(nil))
		if err != nil {
			return nil, nil, fmt.Errorf("cache: open badger %s: %w", c.Path, err)
		}
		return thumbbadger.New(db), db.Close, nil

	case config.CacheBolt:
		db, err := bbolt.Open(c.Path, 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("cache: open bolt %s: %w", c.Path, err)
		}
		return thumbbolt.New(db, c.Bucket), db.Close, nil
	}
	return nil, nil, fmt.Errorf("cache: unknown driver %q", c.Driver)
}
