package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/thumb"
	thumbtest "github.com/zoobzio/thumb/testing"
)

var (
	testProvider *Provider
	testClient   *minio.Client
)

const testBucket = "thumbnails"

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start minio container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()

		endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get minio endpoint: %v\n", err)
			return 1
		}
		testClient, err = minio.New(endpoint, &minio.Options{
			Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create minio client: %v\n", err)
			return 1
		}
		if err := testClient.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create bucket: %v\n", err)
			return 1
		}
		testProvider = New(testClient, testBucket)
		return m.Run()
	}()

	os.Exit(code)
}

func reset(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for obj := range testClient.ListObjects(ctx, testBucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			t.Fatalf("failed to list objects: %v", obj.Err)
		}
		_ = testClient.RemoveObject(ctx, testBucket, obj.Key, minio.RemoveObjectOptions{})
	}
}

// metadata looks a key up case-insensitively; MinIO canonicalizes
// user metadata names.
func metadata(m map[string]string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func TestProvider_DerivedImage(t *testing.T) {
	reset(t)
	ctx := context.Background()
	key := "thumbs/avatar/ab/cat_32_32.jpg"
	data := thumbtest.JPEG(32, 32)

	err := testProvider.Put(ctx, key, data, &thumb.ObjectInfo{Metadata: map[string]string{"preset": "avatar"}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	info, err := testProvider.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), info.Size)
	}
	if info.ContentType != "image/jpeg" {
		t.Errorf("expected inferred content type image/jpeg, got %q", info.ContentType)
	}

	got, ginfo, err := testProvider.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("image bytes changed in transit")
	}
	if v := metadata(ginfo.Metadata, "preset"); v != "avatar" {
		t.Errorf("expected preset metadata, got %v", ginfo.Metadata)
	}
}

func TestProvider_Regenerate(t *testing.T) {
	reset(t)
	ctx := context.Background()
	key := "thumbs/avatar/cat_32_32.png"

	if err := testProvider.Put(ctx, key, thumbtest.PNG(8, 8), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	larger := thumbtest.PNG(32, 32)
	if err := testProvider.Put(ctx, key, larger, nil); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _, err := testProvider.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, larger) {
		t.Error("expected the regenerated image")
	}
}

func TestProvider_CacheControl(t *testing.T) {
	reset(t)
	ctx := context.Background()
	p := New(testClient, testBucket).WithCacheControl("public, max-age=86400")

	if err := p.Put(ctx, "thumbs/a_1_1.gif", []byte("gif"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	stat, err := testClient.StatObject(ctx, testBucket, "thumbs/a_1_1.gif", minio.StatObjectOptions{})
	if err != nil {
		t.Fatalf("StatObject failed: %v", err)
	}
	if got := stat.Metadata.Get("Cache-Control"); got != "public, max-age=86400" {
		t.Errorf("unexpected Cache-Control %q", got)
	}
	if stat.ContentType != "image/gif" {
		t.Errorf("unexpected content type %q", stat.ContentType)
	}
}

func TestProvider_MissingKey(t *testing.T) {
	reset(t)
	ctx := context.Background()
	const key = "originals/missing.jpg"

	ops := map[string]func() error{
		"get": func() error {
			_, _, err := testProvider.Get(ctx, key)
			return err
		},
		"stat": func() error {
			_, err := testProvider.Stat(ctx, key)
			return err
		},
		"delete": func() error { return testProvider.Delete(ctx, key) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, thumb.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}

	ok, err := testProvider.Exists(ctx, key)
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestProvider_ListPresetTree(t *testing.T) {
	reset(t)
	ctx := context.Background()
	for _, k := range []string{
		"thumbs/avatar/ab/cat_32_32.jpg",
		"thumbs/avatar/cd/dog_32_32.jpg",
		"thumbs/avatar/cd/dog_16_16_small.jpg",
		"thumbs/banner/hero_1200_400.jpg",
	} {
		if err := testProvider.Put(ctx, k, []byte(k), nil); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	all, err := testProvider.List(ctx, "thumbs/avatar/", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 avatar files, got %d", len(all))
	}

	limited, err := testProvider.List(ctx, "thumbs/", 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 files, got %d", len(limited))
	}
}

func TestProvider_URL(t *testing.T) {
	p := New(testClient, "assets")
	if !strings.HasSuffix(p.URL("thumbs/x_1_1.webp"), "/assets/thumbs/x_1_1.webp") {
		t.Errorf("unexpected URL: %q", p.URL("thumbs/x_1_1.webp"))
	}
	p.WithPublicURL("https://cdn.example.com/")
	if got := p.URL("/thumbs/x_1_1.webp"); got != "https://cdn.example.com/thumbs/x_1_1.webp" {
		t.Errorf("unexpected public URL: %q", got)
	}
}
